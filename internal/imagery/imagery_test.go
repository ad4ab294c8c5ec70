package imagery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"permitwatch/internal/artifacts"
	"permitwatch/internal/webclient"
)

type fakeGetter struct {
	mu      sync.Mutex
	calls   int
	urls    []string
	respond func(call int, rawURL string) (webclient.Response, error)
}

func (f *fakeGetter) Get(ctx context.Context, rawURL string, headers http.Header) (webclient.Response, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.urls = append(f.urls, rawURL)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return webclient.Response{}, err
	}
	return f.respond(call, rawURL)
}

func encodeTile(t *testing.T, size int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func testConfig() Config {
	return Config{
		StreetViewURL:     "https://photos.test/streetview",
		TileURL:           "https://tiles.test/World_Imagery",
		Zoom:              2,
		Tiles:             1,
		TileSize:          8,
		Width:             8,
		Height:            8,
		StreetViewTimeout: time.Second,
		TileTimeout:       time.Second,
	}
}

func okResponse(rawURL string, body []byte) (webclient.Response, error) {
	return webclient.Response{URL: rawURL, StatusCode: http.StatusOK, Body: body}, nil
}

func TestThumbKey(t *testing.T) {
	assert.Equal(t, "thumbs/P-100.jpg", ThumbKey("P-100"))
	assert.Equal(t, "thumbs/2024_LOG_0123.jpg", ThumbKey("2024/LOG/0123"))
}

func TestTileXY(t *testing.T) {
	cases := []struct {
		lat, lon float64
		zoom     int
		x, y     int
	}{
		{39.7392, -104.9903, 0, 0, 0},
		{45, -90, 1, 0, 0},
		{-45, 90, 1, 1, 1},
		{0, 0, 2, 2, 2},
	}
	for _, tc := range cases {
		x, y := TileXY(tc.lat, tc.lon, tc.zoom)
		assert.Equal(t, tc.x, x, "x for (%v,%v) z%d", tc.lat, tc.lon, tc.zoom)
		assert.Equal(t, tc.y, y, "y for (%v,%v) z%d", tc.lat, tc.lon, tc.zoom)
	}
}

func TestFetchThumbnailStoresStreetView(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = "sv-key"
	getter := &fakeGetter{respond: func(call int, rawURL string) (webclient.Response, error) {
		return okResponse(rawURL, []byte("street-bytes"))
	}}
	store := artifacts.NewMemory()
	f := NewFetcher(cfg, getter, store, zap.NewNop())

	key, err := f.FetchThumbnail(context.Background(), "P-100", 39.7392, -104.9903)
	require.NoError(t, err)
	assert.Equal(t, "thumbs/P-100.jpg", key)
	assert.Equal(t, 1, getter.calls)
	assert.Contains(t, getter.urls[0], "https://photos.test/streetview?")
	assert.Contains(t, getter.urls[0], "size=8x8")
	assert.Contains(t, getter.urls[0], "location=39.7392%2C-104.9903")
	assert.Contains(t, getter.urls[0], "key=sv-key")

	data, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("street-bytes"), data)
}

func TestFetchThumbnailFallsBackToSatellite(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = "sv-key"
	tile := encodeTile(t, cfg.TileSize, color.RGBA{R: 30, G: 60, B: 200, A: 255})
	getter := &fakeGetter{respond: func(call int, rawURL string) (webclient.Response, error) {
		if strings.HasPrefix(rawURL, cfg.StreetViewURL) {
			return webclient.Response{URL: rawURL, StatusCode: http.StatusInternalServerError}, nil
		}
		return okResponse(rawURL, tile)
	}}
	store := artifacts.NewMemory()
	f := NewFetcher(cfg, getter, store, zap.NewNop())

	key, err := f.FetchThumbnail(context.Background(), "P-100", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, getter.calls)

	data, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, cfg.Width, img.Bounds().Dx())
	assert.Equal(t, cfg.Height, img.Bounds().Dy())
}

func TestFetchThumbnailSkipsStreetViewWithoutKey(t *testing.T) {
	cfg := testConfig()
	tile := encodeTile(t, cfg.TileSize, color.RGBA{R: 90, G: 120, B: 40, A: 255})
	getter := &fakeGetter{respond: func(call int, rawURL string) (webclient.Response, error) {
		return okResponse(rawURL, tile)
	}}
	f := NewFetcher(cfg, getter, artifacts.NewMemory(), zap.NewNop())

	_, err := f.FetchThumbnail(context.Background(), "P-100", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, getter.calls)
	assert.True(t, strings.HasPrefix(getter.urls[0], cfg.TileURL))
}

func TestSatelliteTileURLLayout(t *testing.T) {
	cfg := testConfig()
	cfg.Tiles = 3
	cfg.Width = 16
	tile := encodeTile(t, cfg.TileSize, color.RGBA{R: 10, G: 10, B: 10, A: 255})
	getter := &fakeGetter{respond: func(call int, rawURL string) (webclient.Response, error) {
		return okResponse(rawURL, tile)
	}}
	f := NewFetcher(cfg, getter, artifacts.NewMemory(), zap.NewNop())

	// (0,0) at zoom 2 sits on tile (2,2), so the 3x3 grid spans 1..3 on
	// both axes and URLs carry y before x.
	_, err := f.FetchThumbnail(context.Background(), "P-100", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 9, getter.calls)
	assert.Equal(t, "https://tiles.test/World_Imagery/2/1/1", getter.urls[0])
	assert.Equal(t, "https://tiles.test/World_Imagery/2/3/3", getter.urls[8])
	for _, u := range getter.urls {
		assert.True(t, strings.HasPrefix(u, "https://tiles.test/World_Imagery/2/"), u)
	}
}

func TestSatellitePlaceholderOnTileFailure(t *testing.T) {
	cfg := testConfig()
	getter := &fakeGetter{respond: func(call int, rawURL string) (webclient.Response, error) {
		return webclient.Response{}, errors.New("connection refused")
	}}
	store := artifacts.NewMemory()
	f := NewFetcher(cfg, getter, store, zap.NewNop())

	key, err := f.FetchThumbnail(context.Background(), "P-100", 0, 0)
	require.NoError(t, err)

	data, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	r, g, b, _ := img.At(4, 4).RGBA()
	for name, ch := range map[string]uint32{"r": r >> 8, "g": g >> 8, "b": b >> 8} {
		diff := int(ch) - 200
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqual(t, diff, 10, fmt.Sprintf("%s channel should stay near gray, got %d", name, ch))
	}
}

func TestSatelliteCropsCenterOfCanvas(t *testing.T) {
	cfg := testConfig()
	cfg.Tiles = 3
	cfg.Width = 16
	cfg.Height = 8
	tile := encodeTile(t, cfg.TileSize, color.RGBA{R: 120, G: 120, B: 120, A: 255})
	getter := &fakeGetter{respond: func(call int, rawURL string) (webclient.Response, error) {
		return okResponse(rawURL, tile)
	}}
	store := artifacts.NewMemory()
	f := NewFetcher(cfg, getter, store, zap.NewNop())

	key, err := f.FetchThumbnail(context.Background(), "P-100", 0, 0)
	require.NoError(t, err)

	data, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())
}

func TestFetchThumbnailCanceledContext(t *testing.T) {
	cfg := testConfig()
	getter := &fakeGetter{respond: func(call int, rawURL string) (webclient.Response, error) {
		return webclient.Response{}, errors.New("unreachable")
	}}
	store := artifacts.NewMemory()
	f := NewFetcher(cfg, getter, store, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.FetchThumbnail(ctx, "P-100", 0, 0)
	require.Error(t, err)
	exists, existsErr := store.Exists(context.Background(), ThumbKey("P-100"))
	require.NoError(t, existsErr)
	assert.False(t, exists)
}
