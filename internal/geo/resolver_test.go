package geo

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"permitwatch/internal/clock"
	"permitwatch/internal/retry"
	"permitwatch/internal/store"
	"permitwatch/internal/webclient"
)

type fakeGetter struct {
	mu      sync.Mutex
	calls   int
	urls    []string
	respond func(call int) (webclient.Response, error)
}

func (f *fakeGetter) Get(_ context.Context, rawURL string, _ http.Header) (webclient.Response, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.urls = append(f.urls, rawURL)
	f.mu.Unlock()
	return f.respond(call)
}

func (f *fakeGetter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCache struct {
	entries map[string]*store.GeocodeEntry
	puts    []store.GeocodeEntry
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*store.GeocodeEntry)}
}

func (f *fakeCache) GetGeocode(_ context.Context, addressHash string) (*store.GeocodeEntry, error) {
	return f.entries[addressHash], nil
}

func (f *fakeCache) PutGeocode(_ context.Context, e store.GeocodeEntry) error {
	f.puts = append(f.puts, e)
	f.entries[e.AddressHash] = &e
	return nil
}

func jsonResponse(body string) (webclient.Response, error) {
	return webclient.Response{StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func newTestResolver(client httpGetter, cache geocodeCache) *Resolver {
	cfg := Config{
		URL:     "https://geocoder.test/search",
		Email:   "ops@example.com",
		Timeout: time.Second,
	}
	return NewResolver(cfg, client, cache, testPolicy(), clock.NewFixed(time.Date(2026, 8, 21, 6, 0, 0, 0, time.UTC)), zap.NewNop())
}

func TestExtractCoords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		html    string
		wantLat float64
		wantLon float64
		wantOK  bool
	}{
		{
			name:    "map embed",
			html:    `<iframe src="https://maps.example/?center=39.7392,-104.9903&zoom=18">`,
			wantLat: 39.7392,
			wantLon: -104.9903,
			wantOK:  true,
		},
		{
			name:    "space after comma",
			html:    `var center = [39.73920, -104.99030];`,
			wantLat: 39.7392,
			wantLon: -104.9903,
			wantOK:  true,
		},
		{
			name:    "zero is a legal coordinate",
			html:    `data-loc="0.0000,0.0000"`,
			wantLat: 0,
			wantLon: 0,
			wantOK:  true,
		},
		{
			name:   "too few decimals",
			html:   `version 39.73,-104.99 build`,
			wantOK: false,
		},
		{
			name:   "no coordinates",
			html:   `<html><body>No map here</body></html>`,
			wantOK: false,
		},
		{
			name:    "first pair wins",
			html:    `39.7392,-104.9903 then 40.0150,-105.2705`,
			wantLat: 39.7392,
			wantLon: -104.9903,
			wantOK:  true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			lat, lon, ok := ExtractCoords(tt.html)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.wantLat, lat, 1e-9)
				assert.InDelta(t, tt.wantLon, lon, 1e-9)
			}
		})
	}
}

func TestResolvePageCoordsSkipRemote(t *testing.T) {
	t.Parallel()

	client := &fakeGetter{respond: func(int) (webclient.Response, error) {
		return webclient.Response{}, errors.New("should not be called")
	}}
	r := newTestResolver(client, newFakeCache())

	lat, lon, ok := r.Resolve(context.Background(), `center=39.7392,-104.9903`, "123 Main St")
	require.True(t, ok)
	assert.InDelta(t, 39.7392, lat, 1e-9)
	assert.InDelta(t, -104.9903, lon, 1e-9)
	assert.Zero(t, client.callCount())
}

func TestResolveEmptyAddress(t *testing.T) {
	t.Parallel()

	client := &fakeGetter{respond: func(int) (webclient.Response, error) {
		return webclient.Response{}, errors.New("should not be called")
	}}
	r := newTestResolver(client, newFakeCache())

	_, _, ok := r.Resolve(context.Background(), "<html></html>", "")
	assert.False(t, ok)
	assert.Zero(t, client.callCount())
}

func TestResolveCacheHit(t *testing.T) {
	t.Parallel()

	client := &fakeGetter{respond: func(int) (webclient.Response, error) {
		return webclient.Response{}, errors.New("should not be called")
	}}
	cache := newFakeCache()
	r := newTestResolver(client, cache)

	lat, lon := 39.7392, -104.9903
	cache.entries[r.hasher.HashAddress("123 Main St, Denver, CO")] = &store.GeocodeEntry{
		AddressHash: "ignored",
		Lat:         &lat,
		Lon:         &lon,
	}

	gotLat, gotLon, ok := r.Resolve(context.Background(), "", "123 Main St, Denver, CO")
	require.True(t, ok)
	assert.InDelta(t, lat, gotLat, 1e-9)
	assert.InDelta(t, lon, gotLon, 1e-9)
	assert.Zero(t, client.callCount())
}

func TestResolveNegativeCacheHit(t *testing.T) {
	t.Parallel()

	client := &fakeGetter{respond: func(int) (webclient.Response, error) {
		return webclient.Response{}, errors.New("should not be called")
	}}
	cache := newFakeCache()
	r := newTestResolver(client, cache)

	cache.entries[r.hasher.HashAddress("nowhere at all")] = &store.GeocodeEntry{}

	_, _, ok := r.Resolve(context.Background(), "", "nowhere at all")
	assert.False(t, ok)
	assert.Zero(t, client.callCount())
}

func TestResolveRemoteLookup(t *testing.T) {
	t.Parallel()

	client := &fakeGetter{respond: func(int) (webclient.Response, error) {
		return jsonResponse(`[{"lat":"39.7392","lon":"-104.9903","display_name":"123 Main St"}]`)
	}}
	cache := newFakeCache()
	r := newTestResolver(client, cache)

	lat, lon, ok := r.Resolve(context.Background(), "", "123 Main St, Denver, CO")
	require.True(t, ok)
	assert.InDelta(t, 39.7392, lat, 1e-9)
	assert.InDelta(t, -104.9903, lon, 1e-9)
	assert.Equal(t, 1, client.callCount())

	require.Len(t, client.urls, 1)
	assert.Contains(t, client.urls[0], "format=json")
	assert.Contains(t, client.urls[0], "limit=1")
	assert.Contains(t, client.urls[0], "email=ops%40example.com")
	assert.True(t, strings.HasPrefix(client.urls[0], "https://geocoder.test/search?"))

	// The outcome lands in the cache for the next run.
	require.Len(t, cache.puts, 1)
	require.NotNil(t, cache.puts[0].Lat)
	assert.InDelta(t, 39.7392, *cache.puts[0].Lat, 1e-9)
	assert.Equal(t, "123 Main St, Denver, CO", cache.puts[0].Address)
}

func TestResolveClientErrorIsMissWithoutRetry(t *testing.T) {
	t.Parallel()

	client := &fakeGetter{respond: func(int) (webclient.Response, error) {
		return webclient.Response{StatusCode: http.StatusNotFound}, nil
	}}
	cache := newFakeCache()
	r := newTestResolver(client, cache)

	_, _, ok := r.Resolve(context.Background(), "", "123 Main St")
	assert.False(t, ok)
	assert.Equal(t, 1, client.callCount())

	// Definitive misses are cached with nil coordinates.
	require.Len(t, cache.puts, 1)
	assert.Nil(t, cache.puts[0].Lat)
	assert.Nil(t, cache.puts[0].Lon)
}

func TestResolveServerErrorRetriesThenFails(t *testing.T) {
	t.Parallel()

	client := &fakeGetter{respond: func(int) (webclient.Response, error) {
		return webclient.Response{StatusCode: http.StatusBadGateway}, nil
	}}
	cache := newFakeCache()
	r := newTestResolver(client, cache)

	_, _, ok := r.Resolve(context.Background(), "", "123 Main St")
	assert.False(t, ok)
	assert.Equal(t, 3, client.callCount())

	// Transient failures are not cached; the next run should try again.
	assert.Empty(t, cache.puts)
}

func TestResolveEmptyResultIsMiss(t *testing.T) {
	t.Parallel()

	client := &fakeGetter{respond: func(int) (webclient.Response, error) {
		return jsonResponse(`[]`)
	}}
	r := newTestResolver(client, newFakeCache())

	_, _, ok := r.Resolve(context.Background(), "", "unmappable address")
	assert.False(t, ok)
	assert.Equal(t, 1, client.callCount())
}

func TestResolveRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	client := &fakeGetter{respond: func(call int) (webclient.Response, error) {
		if call < 3 {
			return webclient.Response{}, errors.New("connection reset")
		}
		return jsonResponse(`[{"lat":"39.7392","lon":"-104.9903"}]`)
	}}
	r := newTestResolver(client, newFakeCache())

	_, _, ok := r.Resolve(context.Background(), "", "123 Main St")
	require.True(t, ok)
	assert.Equal(t, 3, client.callCount())
}

func TestResolvePausesAfterRemoteLookup(t *testing.T) {
	t.Parallel()

	client := &fakeGetter{respond: func(int) (webclient.Response, error) {
		return jsonResponse(`[{"lat":"39.7392","lon":"-104.9903"}]`)
	}}
	r := newTestResolver(client, newFakeCache())
	r.cfg.Pause = 30 * time.Millisecond

	start := time.Now()
	_, _, ok := r.Resolve(context.Background(), "", "123 Main St")
	require.True(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
