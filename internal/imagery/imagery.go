// Package imagery builds permit thumbnails. A street-level photo is
// preferred when an API key is configured; otherwise, or when the photo
// service fails, a satellite view is stitched from map tiles.
package imagery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "image/png" // tile decoding

	"go.uber.org/zap"

	"permitwatch/internal/artifacts"
	"permitwatch/internal/metrics"
	"permitwatch/internal/webclient"
)

var errNoAPIKey = errors.New("street view api key not configured")

// ThumbKey returns the artifact key for a permit's thumbnail. Permit numbers
// may contain slashes, which would otherwise nest directories.
func ThumbKey(permitNumber string) string {
	return "thumbs/" + strings.ReplaceAll(permitNumber, "/", "_") + ".jpg"
}

// Config drives thumbnail generation.
type Config struct {
	StreetViewURL     string
	APIKey            string
	TileURL           string
	Zoom              int
	Tiles             int
	TileSize          int
	Width             int
	Height            int
	StreetViewTimeout time.Duration
	TileTimeout       time.Duration
}

type httpGetter interface {
	Get(ctx context.Context, rawURL string, headers http.Header) (webclient.Response, error)
}

// Fetcher generates thumbnails and stores them as artifacts.
type Fetcher struct {
	cfg       Config
	client    httpGetter
	artifacts artifacts.Store
	logger    *zap.Logger
}

// NewFetcher builds a Fetcher.
func NewFetcher(cfg Config, client httpGetter, store artifacts.Store, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		cfg:       cfg,
		client:    client,
		artifacts: store,
		logger:    logger,
	}
}

// FetchThumbnail builds and stores the thumbnail for a permit at the given
// coordinates and returns its artifact key.
func (f *Fetcher) FetchThumbnail(ctx context.Context, permitNumber string, lat, lon float64) (string, error) {
	key := ThumbKey(permitNumber)

	data, err := f.fetchStreetView(ctx, lat, lon)
	if err == nil {
		if _, err := f.artifacts.Put(ctx, key, data); err != nil {
			return "", fmt.Errorf("store thumbnail %s: %w", key, err)
		}
		metrics.ObserveImagery("streetview", "ok")
		return key, nil
	}
	if !errors.Is(err, errNoAPIKey) {
		metrics.ObserveImagery("streetview", "error")
		f.logger.Debug("street-level imagery unavailable, falling back to satellite",
			zap.String("permit", permitNumber),
			zap.Error(err),
		)
	}

	data, err = f.fetchSatellite(ctx, lat, lon)
	if err != nil {
		metrics.ObserveImagery("satellite", "error")
		return "", fmt.Errorf("satellite thumbnail for %s: %w", permitNumber, err)
	}
	if _, err := f.artifacts.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("store thumbnail %s: %w", key, err)
	}
	metrics.ObserveImagery("satellite", "ok")
	return key, nil
}

func (f *Fetcher) fetchStreetView(ctx context.Context, lat, lon float64) ([]byte, error) {
	if f.cfg.APIKey == "" {
		return nil, errNoAPIKey
	}
	query := url.Values{}
	query.Set("size", fmt.Sprintf("%dx%d", f.cfg.Width, f.cfg.Height))
	query.Set("location", formatCoord(lat)+","+formatCoord(lon))
	query.Set("key", f.cfg.APIKey)

	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.StreetViewTimeout)
	defer cancel()
	resp, err := f.client.Get(reqCtx, f.cfg.StreetViewURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("street view returned %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// fetchSatellite stitches a Tiles x Tiles grid around the coordinate and
// crops the center to the configured output size. A failed tile becomes a
// gray placeholder rather than failing the whole thumbnail.
func (f *Fetcher) fetchSatellite(ctx context.Context, lat, lon float64) ([]byte, error) {
	centerX, centerY := TileXY(lat, lon, f.cfg.Zoom)
	half := f.cfg.Tiles / 2
	canvasSize := f.cfg.Tiles * f.cfg.TileSize
	canvas := image.NewRGBA(image.Rect(0, 0, canvasSize, canvasSize))

	base := strings.TrimRight(f.cfg.TileURL, "/")
	for dx := -half; dx <= half; dx++ {
		for dy := -half; dy <= half; dy++ {
			// Tile servers address tiles as zoom/y/x.
			tileURL := fmt.Sprintf("%s/%d/%d/%d", base, f.cfg.Zoom, centerY+dy, centerX+dx)
			tile := f.fetchTile(ctx, tileURL)
			px := (dx + half) * f.cfg.TileSize
			py := (dy + half) * f.cfg.TileSize
			rect := image.Rect(px, py, px+f.cfg.TileSize, py+f.cfg.TileSize)
			draw.Draw(canvas, rect, tile, tile.Bounds().Min, draw.Src)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cx, cy := canvasSize/2, canvasSize/2
	left := max(0, cx-f.cfg.Width/2)
	top := max(0, cy-f.cfg.Height/2)
	cropped := canvas.SubImage(image.Rect(left, top, left+f.cfg.Width, top+f.cfg.Height))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, cropped, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func (f *Fetcher) fetchTile(ctx context.Context, tileURL string) image.Image {
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.TileTimeout)
	defer cancel()
	resp, err := f.client.Get(reqCtx, tileURL, nil)
	if err == nil && resp.StatusCode == http.StatusOK {
		img, _, decodeErr := image.Decode(bytes.NewReader(resp.Body))
		if decodeErr == nil {
			return img
		}
		err = decodeErr
	} else if err == nil {
		err = fmt.Errorf("tile returned %d", resp.StatusCode)
	}
	metrics.ObserveTileFailure()
	f.logger.Debug("tile fetch failed, using placeholder",
		zap.String("url", tileURL),
		zap.Error(err),
	)
	return placeholderTile(f.cfg.TileSize)
}

func placeholderTile(size int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	gray := color.RGBA{R: 200, G: 200, B: 200, A: 255}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: gray}, image.Point{}, draw.Src)
	return img
}

// TileXY converts a coordinate to slippy-map tile numbers at the given zoom.
func TileXY(lat, lon float64, zoom int) (x, y int) {
	latRad := lat * math.Pi / 180
	n := math.Exp2(float64(zoom))
	x = int((lon + 180.0) / 360.0 * n)
	y = int((1.0 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2.0 * n)
	return x, y
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
