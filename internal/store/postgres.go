package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPool is the slice of pgxpool.Pool the store uses. pgxmock satisfies it
// for tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool pgxPool
}

// NewPostgres creates a PostgresStore with a connection pool and verifies the
// connection.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool constructs a store from an existing pool, primarily for
// testing.
func NewPostgresWithPool(pool pgxPool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("postgres: pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS permits (
	id             BIGSERIAL PRIMARY KEY,
	permit_number  TEXT UNIQUE,
	address        TEXT,
	lat            DOUBLE PRECISION,
	lon            DOUBLE PRECISION,
	details_json   JSONB,
	thumbnail_path TEXT,
	scraped_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_permits_scraped_at ON permits (scraped_at);

CREATE TABLE IF NOT EXISTS geocode_cache (
	address_hash TEXT PRIMARY KEY,
	address      TEXT NOT NULL,
	lat          DOUBLE PRECISION,
	lon          DOUBLE PRECISION,
	resolved_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS scrape_runs (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status      TEXT NOT NULL DEFAULT 'running',
	pages       INTEGER NOT NULL DEFAULT 0,
	links       INTEGER NOT NULL DEFAULT 0,
	items       INTEGER NOT NULL DEFAULT 0,
	errors      INTEGER NOT NULL DEFAULT 0,
	note        TEXT
);

CREATE INDEX IF NOT EXISTS idx_scrape_runs_started_at ON scrape_runs (started_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertPermit(ctx context.Context, p Permit) error {
	detailsJSON, err := marshalDetails(p.Details)
	if err != nil {
		return fmt.Errorf("postgres: marshal details: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO permits (permit_number, address, lat, lon, details_json, thumbnail_path, scraped_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (permit_number) DO UPDATE SET
		     address=excluded.address,
		     lat=excluded.lat,
		     lon=excluded.lon,
		     details_json=excluded.details_json,
		     thumbnail_path=excluded.thumbnail_path,
		     scraped_at=excluded.scraped_at`,
		p.PermitNumber, p.Address, p.Lat, p.Lon,
		[]byte(detailsJSON), nullString(p.ThumbnailPath), p.ScrapedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert permit %s: %w", p.PermitNumber, err)
	}
	return nil
}

func (s *PostgresStore) GetPermit(ctx context.Context, permitNumber string) (*Permit, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+permitColumns+` FROM permits WHERE permit_number = $1`, permitNumber)
	p, err := scanPermitPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get permit %s: %w", permitNumber, err)
	}
	return p, nil
}

func (s *PostgresStore) RecentPermits(ctx context.Context, limit int) ([]Permit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+permitColumns+` FROM permits ORDER BY scraped_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent permits: %w", err)
	}
	return collectPermitsPG(rows)
}

func (s *PostgresStore) PermitsOn(ctx context.Context, day time.Time) ([]Permit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+permitColumns+` FROM permits
		 WHERE scraped_at::date = $1::date ORDER BY scraped_at ASC`,
		day.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: permits on %s: %w", day.Format("2006-01-02"), err)
	}
	return collectPermitsPG(rows)
}

func (s *PostgresStore) PermitsMissingThumbnails(ctx context.Context, limit int) ([]Permit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+permitColumns+` FROM permits
		 WHERE thumbnail_path IS NULL OR thumbnail_path = ''
		 ORDER BY scraped_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: permits missing thumbnails: %w", err)
	}
	return collectPermitsPG(rows)
}

func (s *PostgresStore) UpdateThumbnail(ctx context.Context, permitNumber, path string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE permits SET thumbnail_path = $1 WHERE permit_number = $2`,
		path, permitNumber)
	if err != nil {
		return fmt.Errorf("postgres: update thumbnail %s: %w", permitNumber, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: permit not found: %s", permitNumber)
	}
	return nil
}

func (s *PostgresStore) GetGeocode(ctx context.Context, addressHash string) (*GeocodeEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT address_hash, address, lat, lon, resolved_at
		 FROM geocode_cache WHERE address_hash = $1`, addressHash)

	var e GeocodeEntry
	err := row.Scan(&e.AddressHash, &e.Address, &e.Lat, &e.Lon, &e.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get geocode: %w", err)
	}
	e.ResolvedAt = e.ResolvedAt.UTC()
	return &e, nil
}

func (s *PostgresStore) PutGeocode(ctx context.Context, e GeocodeEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO geocode_cache (address_hash, address, lat, lon, resolved_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (address_hash) DO UPDATE SET
		     address=excluded.address,
		     lat=excluded.lat,
		     lon=excluded.lon,
		     resolved_at=excluded.resolved_at`,
		e.AddressHash, e.Address, e.Lat, e.Lon, e.ResolvedAt.UTC())
	if err != nil {
		return fmt.Errorf("postgres: put geocode: %w", err)
	}
	return nil
}

func (s *PostgresStore) StartRun(ctx context.Context, r Run) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scrape_runs (id, started_at, status) VALUES ($1, $2, $3)`,
		r.ID, r.StartedAt.UTC(), RunStatusRunning)
	if err != nil {
		return fmt.Errorf("postgres: start run %s: %w", r.ID, err)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, r Run) error {
	var finished *time.Time
	if r.FinishedAt != nil {
		t := r.FinishedAt.UTC()
		finished = &t
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_runs
		 SET finished_at = $1, status = $2, pages = $3, links = $4, items = $5, errors = $6, note = $7
		 WHERE id = $8`,
		finished, r.Status, r.Pages, r.Links, r.Items, r.Errors, nullString(r.Note), r.ID)
	if err != nil {
		return fmt.Errorf("postgres: finish run %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: run not found: %s", r.ID)
	}
	return nil
}

func (s *PostgresStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, started_at, finished_at, status, pages, links, items, errors, note
		 FROM scrape_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r    Run
			note *string
		)
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Pages, &r.Links, &r.Items, &r.Errors, &note); err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		r.StartedAt = r.StartedAt.UTC()
		if r.FinishedAt != nil {
			t := r.FinishedAt.UTC()
			r.FinishedAt = &t
		}
		if note != nil {
			r.Note = *note
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: recent runs iterate: %w", err)
	}
	return runs, nil
}

func scanPermitPG(row pgx.Row) (*Permit, error) {
	var (
		p         Permit
		address   *string
		details   []byte
		thumbnail *string
		scrapedAt *time.Time
	)
	if err := row.Scan(&p.PermitNumber, &address, &p.Lat, &p.Lon, &details, &thumbnail, &scrapedAt); err != nil {
		return nil, err
	}
	if address != nil {
		p.Address = *address
	}
	if thumbnail != nil {
		p.ThumbnailPath = *thumbnail
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &p.Details); err != nil {
			return nil, fmt.Errorf("unmarshal details: %w", err)
		}
	}
	if scrapedAt != nil {
		p.ScrapedAt = scrapedAt.UTC()
	}
	return &p, nil
}

func collectPermitsPG(rows pgx.Rows) ([]Permit, error) {
	defer rows.Close()
	var permits []Permit
	for rows.Next() {
		p, err := scanPermitPG(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan permit: %w", err)
		}
		permits = append(permits, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate permits: %w", err)
	}
	return permits, nil
}
