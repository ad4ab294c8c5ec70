// Package store persists permit records, geocode lookups, and run history.
// Two implementations exist: SQLite for the single-host cron deployment and
// Postgres for shared installs. Both speak the same interface so the rest of
// the pipeline never knows which one it is talking to.
package store

import (
	"context"
	"fmt"
	"time"
)

// Run states recorded in scrape_runs.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Permit is one scraped permit record. Lat and Lon are nil when the record
// could not be geocoded; zero is a legal coordinate value. Details is
// schema-free: whatever the detail page yielded, persisted as JSON.
type Permit struct {
	PermitNumber  string
	Address       string
	Lat           *float64
	Lon           *float64
	Details       map[string]any
	ThumbnailPath string
	ScrapedAt     time.Time
}

// Detail returns the named detail rendered as a string, or "" when the key
// is absent or nil.
func (p Permit) Detail(key string) string {
	v, ok := p.Details[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// GeocodeEntry caches the outcome of one address lookup, including negative
// results so a bad address is not retried every run.
type GeocodeEntry struct {
	AddressHash string
	Address     string
	Lat         *float64
	Lon         *float64
	ResolvedAt  time.Time
}

// Run is one orchestrator execution, recorded for the ops API and for
// after-the-fact debugging of a silent cron box.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Pages      int
	Links      int
	Items      int
	Errors     int
	Note       string
}

// Store is the persistence contract shared by both backends.
type Store interface {
	// UpsertPermit inserts the permit or, when the permit number already
	// exists, replaces every mutable column with the new values.
	UpsertPermit(ctx context.Context, p Permit) error
	// GetPermit returns the permit with the given number, or nil when absent.
	GetPermit(ctx context.Context, permitNumber string) (*Permit, error)
	// RecentPermits returns up to limit permits, newest scrape first.
	RecentPermits(ctx context.Context, limit int) ([]Permit, error)
	// PermitsOn returns the permits scraped on the given calendar day in
	// scrape order.
	PermitsOn(ctx context.Context, day time.Time) ([]Permit, error)
	// PermitsMissingThumbnails returns recent permits without a thumbnail.
	PermitsMissingThumbnails(ctx context.Context, limit int) ([]Permit, error)
	// UpdateThumbnail records a generated thumbnail without touching any
	// other column.
	UpdateThumbnail(ctx context.Context, permitNumber, path string) error

	GetGeocode(ctx context.Context, addressHash string) (*GeocodeEntry, error)
	PutGeocode(ctx context.Context, e GeocodeEntry) error

	StartRun(ctx context.Context, r Run) error
	FinishRun(ctx context.Context, r Run) error
	RecentRuns(ctx context.Context, limit int) ([]Run, error)

	Migrate(ctx context.Context) error
	Close() error
}
