// Package geo turns a permit's page content and address into coordinates.
// Resolution is layered: coordinates embedded in the page win, then the
// geocode cache, then a remote Nominatim lookup whose outcome is cached
// either way.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"permitwatch/internal/clock"
	"permitwatch/internal/hash/sha256"
	"permitwatch/internal/metrics"
	"permitwatch/internal/retry"
	"permitwatch/internal/store"
	"permitwatch/internal/webclient"
)

// coordPattern matches a "lat, lon" pair with at least four decimal places,
// the precision map embeds on permit pages use. Looser matches would pick up
// page dimensions and timestamps.
var coordPattern = regexp.MustCompile(`([-+]?[0-9]{1,3}\.[0-9]{4,}),\s*([-+]?[0-9]{1,3}\.[0-9]{4,})`)

// Config points the resolver at the geocoding service.
type Config struct {
	URL     string
	Email   string
	Timeout time.Duration
	Pause   time.Duration
}

type httpGetter interface {
	Get(ctx context.Context, rawURL string, headers http.Header) (webclient.Response, error)
}

type geocodeCache interface {
	GetGeocode(ctx context.Context, addressHash string) (*store.GeocodeEntry, error)
	PutGeocode(ctx context.Context, e store.GeocodeEntry) error
}

// Resolver resolves permit coordinates. A nil cache disables caching.
type Resolver struct {
	cfg    Config
	client httpGetter
	cache  geocodeCache
	policy retry.Policy
	hasher *sha256.Hasher
	clock  clock.Clock
	logger *zap.Logger
}

// NewResolver builds a Resolver.
func NewResolver(cfg Config, client httpGetter, cache geocodeCache, policy retry.Policy, clk clock.Clock, logger *zap.Logger) *Resolver {
	return &Resolver{
		cfg:    cfg,
		client: client,
		cache:  cache,
		policy: policy,
		hasher: sha256.New(),
		clock:  clk,
		logger: logger,
	}
}

// Resolve returns the permit's coordinates and whether resolution succeeded.
// Zero is a legal coordinate value; only ok distinguishes success from
// failure.
func (r *Resolver) Resolve(ctx context.Context, pageHTML, address string) (lat, lon float64, ok bool) {
	if lat, lon, ok = ExtractCoords(pageHTML); ok {
		metrics.ObserveGeocode("page")
		return lat, lon, true
	}
	if address == "" {
		metrics.ObserveGeocode("none")
		return 0, 0, false
	}

	addressHash := r.hasher.HashAddress(address)
	if r.cache != nil {
		entry, err := r.cache.GetGeocode(ctx, addressHash)
		if err != nil {
			r.logger.Warn("geocode cache read failed", zap.Error(err))
		} else if entry != nil {
			metrics.ObserveGeocode("cache")
			if entry.Lat == nil || entry.Lon == nil {
				return 0, 0, false
			}
			return *entry.Lat, *entry.Lon, true
		}
	}

	lat, lon, ok, err := r.lookup(ctx, address)
	if err != nil {
		r.logger.Warn("geocode lookup failed",
			zap.String("address", address),
			zap.Error(err),
		)
		metrics.ObserveGeocode("error")
		return 0, 0, false
	}
	if ok {
		metrics.ObserveGeocode("remote")
	} else {
		metrics.ObserveGeocode("miss")
	}

	if r.cache != nil {
		entry := store.GeocodeEntry{
			AddressHash: addressHash,
			Address:     address,
			ResolvedAt:  r.clock.Now(),
		}
		if ok {
			entry.Lat, entry.Lon = &lat, &lon
		}
		if err := r.cache.PutGeocode(ctx, entry); err != nil {
			r.logger.Warn("geocode cache write failed", zap.Error(err))
		}
	}
	return lat, lon, ok
}

// lookup queries the geocoding service. Transport failures are retried; an
// error status or an empty result set is a definitive miss and is not.
func (r *Resolver) lookup(ctx context.Context, address string) (lat, lon float64, ok bool, err error) {
	query := url.Values{}
	query.Set("q", address)
	query.Set("format", "json")
	query.Set("limit", "1")
	if r.cfg.Email != "" {
		query.Set("email", r.cfg.Email)
	}
	requestURL := r.cfg.URL + "?" + query.Encode()

	var resp webclient.Response
	err = r.policy.Do(ctx, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
		var fetchErr error
		resp, fetchErr = r.client.Get(reqCtx, requestURL, nil)
		if fetchErr != nil {
			return fetchErr
		}
		if retry.RetryableStatus(resp.StatusCode) {
			return fmt.Errorf("geocoder returned %d", resp.StatusCode)
		}
		return nil
	})
	// The service asks for no more than one request per second.
	r.pause(ctx)
	if err != nil {
		return 0, 0, false, err
	}
	if resp.StatusCode != http.StatusOK {
		r.logger.Debug("geocoder returned non-200",
			zap.Int("status", resp.StatusCode),
		)
		return 0, 0, false, nil
	}

	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.Unmarshal(resp.Body, &results); err != nil {
		return 0, 0, false, fmt.Errorf("decode geocoder response: %w", err)
	}
	if len(results) == 0 {
		return 0, 0, false, nil
	}
	lat, err = strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("parse lat %q: %w", results[0].Lat, err)
	}
	lon, err = strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("parse lon %q: %w", results[0].Lon, err)
	}
	return lat, lon, true, nil
}

func (r *Resolver) pause(ctx context.Context) {
	if r.cfg.Pause <= 0 {
		return
	}
	timer := time.NewTimer(r.cfg.Pause)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// ExtractCoords scans page content for an embedded "lat, lon" pair.
func ExtractCoords(pageHTML string) (lat, lon float64, ok bool) {
	m := coordPattern.FindStringSubmatch(pageHTML)
	if m == nil {
		return 0, 0, false
	}
	lat, errLat := strconv.ParseFloat(m[1], 64)
	lon, errLon := strconv.ParseFloat(m[2], 64)
	if errLat != nil || errLon != nil {
		return 0, 0, false
	}
	return lat, lon, true
}
