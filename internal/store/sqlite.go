package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // sqlite driver
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens the database at path, creating parent directories as
// needed, and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: exec %s: %w", pragma, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS permits (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	permit_number  TEXT UNIQUE,
	address        TEXT,
	lat            REAL,
	lon            REAL,
	details_json   TEXT,
	thumbnail_path TEXT,
	scraped_at     TEXT
);

CREATE INDEX IF NOT EXISTS idx_permits_scraped_at ON permits(scraped_at);

CREATE TABLE IF NOT EXISTS geocode_cache (
	address_hash TEXT PRIMARY KEY,
	address      TEXT NOT NULL,
	lat          REAL,
	lon          REAL,
	resolved_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scrape_runs (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	status      TEXT NOT NULL DEFAULT 'running',
	pages       INTEGER NOT NULL DEFAULT 0,
	links       INTEGER NOT NULL DEFAULT 0,
	items       INTEGER NOT NULL DEFAULT 0,
	errors      INTEGER NOT NULL DEFAULT 0,
	note        TEXT
);

CREATE INDEX IF NOT EXISTS idx_scrape_runs_started_at ON scrape_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertPermit(ctx context.Context, p Permit) error {
	detailsJSON, err := marshalDetails(p.Details)
	if err != nil {
		return fmt.Errorf("sqlite: marshal details: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO permits (permit_number, address, lat, lon, details_json, thumbnail_path, scraped_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(permit_number) DO UPDATE SET
		     address=excluded.address,
		     lat=excluded.lat,
		     lon=excluded.lon,
		     details_json=excluded.details_json,
		     thumbnail_path=excluded.thumbnail_path,
		     scraped_at=excluded.scraped_at`,
		p.PermitNumber, p.Address, nullFloat(p.Lat), nullFloat(p.Lon),
		detailsJSON, nullString(p.ThumbnailPath), formatTime(p.ScrapedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert permit %s: %w", p.PermitNumber, err)
	}
	return nil
}

const permitColumns = `permit_number, address, lat, lon, details_json, thumbnail_path, scraped_at`

func (s *SQLiteStore) GetPermit(ctx context.Context, permitNumber string) (*Permit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+permitColumns+` FROM permits WHERE permit_number = ?`, permitNumber)
	p, err := scanPermit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get permit %s: %w", permitNumber, err)
	}
	return p, nil
}

func (s *SQLiteStore) RecentPermits(ctx context.Context, limit int) ([]Permit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+permitColumns+` FROM permits ORDER BY scraped_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent permits: %w", err)
	}
	return collectPermits(rows)
}

func (s *SQLiteStore) PermitsOn(ctx context.Context, day time.Time) ([]Permit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+permitColumns+` FROM permits
		 WHERE date(scraped_at) = date(?) ORDER BY scraped_at ASC`,
		formatTime(day))
	if err != nil {
		return nil, fmt.Errorf("sqlite: permits on %s: %w", day.Format("2006-01-02"), err)
	}
	return collectPermits(rows)
}

func (s *SQLiteStore) PermitsMissingThumbnails(ctx context.Context, limit int) ([]Permit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+permitColumns+` FROM permits
		 WHERE thumbnail_path IS NULL OR thumbnail_path = ''
		 ORDER BY scraped_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: permits missing thumbnails: %w", err)
	}
	return collectPermits(rows)
}

func (s *SQLiteStore) UpdateThumbnail(ctx context.Context, permitNumber, path string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE permits SET thumbnail_path = ? WHERE permit_number = ?`,
		path, permitNumber)
	if err != nil {
		return fmt.Errorf("sqlite: update thumbnail %s: %w", permitNumber, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: permit not found: %s", permitNumber)
	}
	return nil
}

func (s *SQLiteStore) GetGeocode(ctx context.Context, addressHash string) (*GeocodeEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT address_hash, address, lat, lon, resolved_at
		 FROM geocode_cache WHERE address_hash = ?`, addressHash)

	var (
		e          GeocodeEntry
		lat, lon   sql.NullFloat64
		resolvedAt string
	)
	err := row.Scan(&e.AddressHash, &e.Address, &lat, &lon, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get geocode: %w", err)
	}
	e.Lat = floatPtr(lat)
	e.Lon = floatPtr(lon)
	if e.ResolvedAt, err = parseTime(resolvedAt); err != nil {
		return nil, fmt.Errorf("sqlite: parse resolved_at: %w", err)
	}
	return &e, nil
}

func (s *SQLiteStore) PutGeocode(ctx context.Context, e GeocodeEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO geocode_cache (address_hash, address, lat, lon, resolved_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(address_hash) DO UPDATE SET
		     address=excluded.address,
		     lat=excluded.lat,
		     lon=excluded.lon,
		     resolved_at=excluded.resolved_at`,
		e.AddressHash, e.Address, nullFloat(e.Lat), nullFloat(e.Lon), formatTime(e.ResolvedAt))
	if err != nil {
		return fmt.Errorf("sqlite: put geocode: %w", err)
	}
	return nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scrape_runs (id, started_at, status) VALUES (?, ?, ?)`,
		r.ID, formatTime(r.StartedAt), RunStatusRunning)
	if err != nil {
		return fmt.Errorf("sqlite: start run %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, r Run) error {
	var finished any
	if r.FinishedAt != nil {
		finished = formatTime(*r.FinishedAt)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_runs
		 SET finished_at = ?, status = ?, pages = ?, links = ?, items = ?, errors = ?, note = ?
		 WHERE id = ?`,
		finished, r.Status, r.Pages, r.Links, r.Items, r.Errors, nullString(r.Note), r.ID)
	if err != nil {
		return fmt.Errorf("sqlite: finish run %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: run not found: %s", r.ID)
	}
	return nil
}

func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, pages, links, items, errors, note
		 FROM scrape_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r          Run
			startedAt  string
			finishedAt sql.NullString
			note       sql.NullString
		)
		if err := rows.Scan(&r.ID, &startedAt, &finishedAt, &r.Status, &r.Pages, &r.Links, &r.Items, &r.Errors, &note); err != nil {
			return nil, fmt.Errorf("sqlite: scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("sqlite: parse started_at: %w", err)
		}
		if finishedAt.Valid {
			t, err := parseTime(finishedAt.String)
			if err != nil {
				return nil, fmt.Errorf("sqlite: parse finished_at: %w", err)
			}
			r.FinishedAt = &t
		}
		r.Note = note.String
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: recent runs iterate: %w", err)
	}
	return runs, nil
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanPermit(row scannable) (*Permit, error) {
	var (
		p         Permit
		address   sql.NullString
		lat, lon  sql.NullFloat64
		details   sql.NullString
		thumbnail sql.NullString
		scrapedAt sql.NullString
	)
	if err := row.Scan(&p.PermitNumber, &address, &lat, &lon, &details, &thumbnail, &scrapedAt); err != nil {
		return nil, err
	}
	p.Address = address.String
	p.Lat = floatPtr(lat)
	p.Lon = floatPtr(lon)
	p.ThumbnailPath = thumbnail.String
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &p.Details); err != nil {
			return nil, fmt.Errorf("unmarshal details: %w", err)
		}
	}
	if scrapedAt.Valid && scrapedAt.String != "" {
		t, err := parseTime(scrapedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse scraped_at: %w", err)
		}
		p.ScrapedAt = t
	}
	return &p, nil
}

func collectPermits(rows *sql.Rows) ([]Permit, error) {
	defer rows.Close()
	var permits []Permit
	for rows.Next() {
		p, err := scanPermit(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan permit: %w", err)
		}
		permits = append(permits, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate permits: %w", err)
	}
	return permits, nil
}

func marshalDetails(details map[string]any) (string, error) {
	if len(details) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

// Timestamps are stored as RFC 3339 text so SQLite's date() works on them
// directly.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Rows written by the previous deployment carry bare ISO timestamps.
		t, err = time.Parse("2006-01-02T15:04:05", s)
		if err != nil {
			return time.Time{}, err
		}
		t = t.UTC()
	}
	return t, nil
}
