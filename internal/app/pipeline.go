package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"permitwatch/internal/config"
	"permitwatch/internal/logging"
	"permitwatch/internal/metrics"
	"permitwatch/internal/notify"
	"permitwatch/internal/progress"
	"permitwatch/internal/runlock"
	"permitwatch/internal/scraper"
	"permitwatch/internal/store"
	"permitwatch/internal/worker"
)

// Pipeline executes the scheduled scrape-and-report flow. Every run is
// recorded in the store and announced on the progress stream, whether it was
// a full daily cycle or a bare scrape.
type Pipeline struct {
	app        *App
	newBrowser func() (scraper.Browser, error)
}

// Pipeline returns the run orchestrator bound to this App.
func (a *App) Pipeline() *Pipeline {
	return &Pipeline{
		app: a,
		newBrowser: func() (scraper.Browser, error) {
			return scraper.NewChromeBrowser(scraper.ChromeConfig{
				Headless:  a.cfg.Scrape.Headless,
				UserAgent: a.cfg.WebClient.UserAgent,
			})
		},
	}
}

// RunDaily performs one scheduled cycle: scrape, then for weekday report days
// backfill thumbnails, render yesterday's digest, and deliver it. Exactly one
// run may execute at a time; a held lock aborts before any work starts.
func (p *Pipeline) RunDaily(ctx context.Context) (notify.Summary, error) {
	release, err := p.acquireLock()
	if err != nil {
		return notify.Summary{}, err
	}
	defer release()

	st, err := p.startRun(ctx)
	if err != nil {
		return notify.Summary{}, err
	}

	scrapeRes, scrapeErr := p.scrapeStage(ctx, st)
	st.sum.Pages, st.sum.Links = scrapeRes.Pages, scrapeRes.Links
	st.sum.Items, st.sum.Errors = scrapeRes.Items, scrapeRes.Errors
	if scrapeErr != nil {
		return p.finish(ctx, st, fmt.Errorf("scrape: %w", scrapeErr))
	}

	day := st.sum.StartedAt.AddDate(0, 0, -1)
	st.sum.ReportDay = day.Format("2006-01-02")
	if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
		st.sum.Note = "weekend report day, digest skipped"
		st.logger.Info("weekend report day, skipping digest",
			zap.String("report_day", st.sum.ReportDay))
		return p.finish(ctx, st, nil)
	}

	if !p.app.cfg.Report.SkipThumbs {
		start := time.Now()
		if _, err := p.Backfill(ctx, 0); err != nil {
			st.logger.Warn("thumbnail backfill failed", zap.Error(err))
		}
		metrics.ObserveStage("backfill", time.Since(start))
	}

	start := time.Now()
	reportPath, err := p.app.renderer.Render(ctx, day)
	metrics.ObserveStage("render", time.Since(start))
	if err != nil {
		return p.finish(ctx, st, fmt.Errorf("render digest: %w", err))
	}
	st.sum.ReportPath = reportPath

	start = time.Now()
	if err := p.app.mailer.Send(ctx, reportPath); err != nil {
		st.logger.Warn("digest delivery failed", zap.Error(err))
		st.sum.Note = "digest delivery failed: " + err.Error()
	} else {
		st.sum.Mailed = true
	}
	metrics.ObserveStage("mail", time.Since(start))

	return p.finish(ctx, st, nil)
}

// ScrapeOnce runs a single scrape under the run lock and records it like any
// other run, without rendering or delivering a digest.
func (p *Pipeline) ScrapeOnce(ctx context.Context) (notify.Summary, error) {
	release, err := p.acquireLock()
	if err != nil {
		return notify.Summary{}, err
	}
	defer release()

	st, err := p.startRun(ctx)
	if err != nil {
		return notify.Summary{}, err
	}
	res, scrapeErr := p.scrapeStage(ctx, st)
	st.sum.Pages, st.sum.Links = res.Pages, res.Links
	st.sum.Items, st.sum.Errors = res.Items, res.Errors
	if scrapeErr != nil {
		return p.finish(ctx, st, fmt.Errorf("scrape: %w", scrapeErr))
	}
	return p.finish(ctx, st, nil)
}

// Backfill regenerates missing thumbnails for recent permits. A limit of 0
// uses the configured scan depth.
func (p *Pipeline) Backfill(ctx context.Context, limit int) (worker.Result, error) {
	cfg := worker.Config{
		Limit:       p.app.cfg.Backfill.Limit,
		Concurrency: p.app.cfg.Backfill.Concurrency,
	}
	if limit > 0 {
		cfg.Limit = limit
	}
	b := worker.NewBackfiller(cfg, p.app.store, p.app.artifacts, p.app.thumbs, p.app.logger.Named("backfill"))
	return b.Run(ctx)
}

func (p *Pipeline) acquireLock() (func(), error) {
	lock := runlock.New(p.app.cfg.DataDir)
	if err := lock.Acquire(); err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Release(); err != nil {
			p.app.logger.Warn("releasing run lock", zap.Error(err))
		}
	}, nil
}

// runState carries one run's identity through the stages.
type runState struct {
	sum     notify.Summary
	runUUID uuid.UUID
	logger  *zap.Logger
}

func (p *Pipeline) startRun(ctx context.Context) (*runState, error) {
	a := p.app
	runID, err := a.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("allocate run id: %w", err)
	}
	runUUID, err := uuid.Parse(runID)
	if err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", runID, err)
	}
	started := a.clock.Now().UTC()
	if err := a.store.StartRun(ctx, store.Run{
		ID:        runID,
		StartedAt: started,
		Status:    store.RunStatusRunning,
	}); err != nil {
		return nil, fmt.Errorf("record run start: %w", err)
	}
	a.hub.Emit(progress.Event{
		RunID: progress.UUIDToBytes(runUUID),
		TS:    started,
		Stage: progress.StageRunStart,
	})
	return &runState{
		sum:     notify.Summary{RunID: runID, StartedAt: started},
		runUUID: runUUID,
		logger:  logging.ForRun(a.logger, runID),
	}, nil
}

func (p *Pipeline) scrapeStage(ctx context.Context, st *runState) (scraper.Result, error) {
	a := p.app
	start := time.Now()
	defer func() {
		metrics.ObserveStage("scrape", time.Since(start))
	}()

	browser, err := p.newBrowser()
	if err != nil {
		return scraper.Result{}, fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if err := browser.Close(); err != nil {
			st.logger.Warn("closing browser", zap.Error(err))
		}
	}()

	s := scraper.NewScraper(scrapeConfig(a.cfg), browser, a.geocoder, a.thumbs,
		a.store, a.clock, a.hub, st.logger.Named("scraper"))
	return s.Run(ctx, st.runUUID)
}

// finish writes the run's terminal state and publishes the summary. It
// detaches from ctx's cancellation so an interrupted run still gets its
// terminal state recorded.
func (p *Pipeline) finish(ctx context.Context, st *runState, runErr error) (notify.Summary, error) {
	a := p.app
	finCtx := context.WithoutCancel(ctx)
	finished := a.clock.Now().UTC()
	st.sum.FinishedAt = finished

	evt := progress.Event{
		RunID:  progress.UUIDToBytes(st.runUUID),
		TS:     finished,
		Pages:  st.sum.Pages,
		Links:  st.sum.Links,
		Items:  st.sum.Items,
		Errors: st.sum.Errors,
		Dur:    finished.Sub(st.sum.StartedAt),
	}
	if runErr != nil {
		st.sum.Status = store.RunStatusFailed
		if st.sum.Note == "" {
			st.sum.Note = runErr.Error()
		}
		evt.Stage = progress.StageRunError
		evt.Note = runErr.Error()
	} else {
		st.sum.Status = store.RunStatusSucceeded
		evt.Stage = progress.StageRunDone
	}
	a.hub.Emit(evt)

	if err := a.store.FinishRun(finCtx, store.Run{
		ID:         st.sum.RunID,
		StartedAt:  st.sum.StartedAt,
		FinishedAt: &finished,
		Status:     st.sum.Status,
		Pages:      st.sum.Pages,
		Links:      st.sum.Links,
		Items:      st.sum.Items,
		Errors:     st.sum.Errors,
		Note:       st.sum.Note,
	}); err != nil {
		st.logger.Warn("recording run completion failed", zap.Error(err))
	}
	if err := a.notifier.Notify(finCtx, st.sum); err != nil {
		st.logger.Warn("publishing run summary failed", zap.Error(err))
	}

	st.logger.Info("pipeline run finished",
		zap.String("status", st.sum.Status),
		zap.Int("pages", st.sum.Pages),
		zap.Int("items", st.sum.Items),
		zap.Int("errors", st.sum.Errors),
		zap.Bool("mailed", st.sum.Mailed),
		zap.Duration("took", finished.Sub(st.sum.StartedAt)),
	)
	return st.sum, runErr
}

func scrapeConfig(cfg config.Config) scraper.Config {
	return scraper.Config{
		LoginURL:    cfg.Site.LoginURL,
		SearchURL:   cfg.Site.SearchURL,
		Username:    cfg.Site.Username,
		Password:    cfg.Site.Password,
		SearchQuery: cfg.Site.SearchQuery,
		Selectors:   cfg.Site.Selectors,
		MaxPages:    cfg.Scrape.MaxPages,
		MaxItems:    cfg.Scrape.MaxItems,
		PagePause:   cfg.Scrape.PagePause,
		NavTimeout:  cfg.Scrape.NavTimeout,
		StepTimeout: cfg.Scrape.StepTimeout,
	}
}
