// Package worker implements the thumbnail backfill pool. Scrape runs skip
// thumbnails when imagery fetches fail or coordinates resolve late, so a
// separate pass sweeps recent permits and fills the gaps before the digest
// is rendered.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"permitwatch/internal/imagery"
	"permitwatch/internal/metrics"
	"permitwatch/internal/store"
)

// defaultLimit bounds the sweep when no limit is configured.
const defaultLimit = 30

// Config controls Backfiller behavior.
type Config struct {
	Limit       int
	Concurrency int
}

type permitStore interface {
	RecentPermits(ctx context.Context, limit int) ([]store.Permit, error)
	UpdateThumbnail(ctx context.Context, permitNumber, thumbnailPath string) error
}

type thumbnailFetcher interface {
	FetchThumbnail(ctx context.Context, permitNumber string, lat, lon float64) (string, error)
}

type artifactChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Result summarizes one backfill pass.
type Result struct {
	Scanned int
	Filled  int
	Skipped int
	Errors  int
}

type outcome int

const (
	outcomeFilled outcome = iota
	outcomeSkipped
	outcomeFailed
)

// Backfiller sweeps recent permits for missing thumbnails.
type Backfiller struct {
	cfg       Config
	permits   permitStore
	artifacts artifactChecker
	thumbs    thumbnailFetcher
	logger    *zap.Logger
}

// NewBackfiller constructs a Backfiller.
func NewBackfiller(cfg Config, permits permitStore, artifacts artifactChecker, thumbs thumbnailFetcher, logger *zap.Logger) *Backfiller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backfiller{
		cfg:       cfg,
		permits:   permits,
		artifacts: artifacts,
		thumbs:    thumbs,
		logger:    logger,
	}
}

// Run sweeps once and returns what it did. Individual permit failures are
// counted, not fatal; only listing failure or cancellation aborts the pass.
func (b *Backfiller) Run(ctx context.Context) (Result, error) {
	limit := b.cfg.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	permits, err := b.permits.RecentPermits(ctx, limit)
	if err != nil {
		return Result{}, fmt.Errorf("list recent permits: %w", err)
	}

	workers := b.cfg.Concurrency
	if workers < 1 {
		workers = 1
	}

	var (
		wg      sync.WaitGroup
		filled  atomic.Int64
		skipped atomic.Int64
		failed  atomic.Int64
	)
	jobs := make(chan store.Permit)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.IncActiveBackfillWorkers()
			defer metrics.DecActiveBackfillWorkers()
			for permit := range jobs {
				if ctx.Err() != nil {
					continue
				}
				switch b.process(ctx, permit) {
				case outcomeFilled:
					filled.Add(1)
				case outcomeSkipped:
					skipped.Add(1)
				case outcomeFailed:
					failed.Add(1)
				}
			}
		}()
	}

feed:
	for _, permit := range permits {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- permit:
		}
	}
	close(jobs)
	wg.Wait()

	res := Result{
		Scanned: len(permits),
		Filled:  int(filled.Load()),
		Skipped: int(skipped.Load()),
		Errors:  int(failed.Load()),
	}
	b.logger.Info("thumbnail backfill finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("filled", res.Filled),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", res.Errors),
	)
	return res, ctx.Err()
}

func (b *Backfiller) process(ctx context.Context, permit store.Permit) outcome {
	if permit.Lat == nil || permit.Lon == nil {
		metrics.ObserveBackfillJob("skipped")
		return outcomeSkipped
	}

	key := imagery.ThumbKey(permit.PermitNumber)
	exists, err := b.artifacts.Exists(ctx, key)
	if err != nil {
		b.logger.Warn("thumbnail presence check failed",
			zap.String("permit", permit.PermitNumber),
			zap.Error(err),
		)
		metrics.ObserveBackfillJob("error")
		return outcomeFailed
	}
	if exists && permit.ThumbnailPath != "" {
		metrics.ObserveBackfillJob("skipped")
		return outcomeSkipped
	}
	if !exists {
		key, err = b.thumbs.FetchThumbnail(ctx, permit.PermitNumber, *permit.Lat, *permit.Lon)
		if err != nil {
			b.logger.Warn("thumbnail fetch failed",
				zap.String("permit", permit.PermitNumber),
				zap.Error(err),
			)
			metrics.ObserveBackfillJob("error")
			return outcomeFailed
		}
	}

	// Reaching here with an existing artifact means the row lost its
	// pointer; relink without refetching.
	if err := b.permits.UpdateThumbnail(ctx, permit.PermitNumber, key); err != nil {
		b.logger.Warn("thumbnail row update failed",
			zap.String("permit", permit.PermitNumber),
			zap.Error(err),
		)
		metrics.ObserveBackfillJob("error")
		return outcomeFailed
	}

	b.logger.Debug("thumbnail backfilled",
		zap.String("permit", permit.PermitNumber),
		zap.String("key", key),
	)
	metrics.ObserveBackfillJob("filled")
	return outcomeFilled
}
