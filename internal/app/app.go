// Package app wires configuration into the long-lived services every command
// shares. It is the one place where providers are selected, so the rest of
// the code never switches on configuration: commands receive a ready App and
// the pipeline receives ready collaborators.
package app

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"permitwatch/internal/artifacts"
	"permitwatch/internal/clock"
	"permitwatch/internal/config"
	"permitwatch/internal/geo"
	idgen "permitwatch/internal/id/uuid"
	"permitwatch/internal/imagery"
	"permitwatch/internal/logging"
	"permitwatch/internal/mailer"
	"permitwatch/internal/notify"
	"permitwatch/internal/progress"
	"permitwatch/internal/progress/sinks"
	"permitwatch/internal/report"
	"permitwatch/internal/retry"
	"permitwatch/internal/store"
	"permitwatch/internal/webclient"
)

// App holds the shared, long-lived services for one command invocation. It is
// initialized once at startup and closed by a Cobra hook when the command
// finishes.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     store.Store
	artifacts artifacts.Store
	web       *webclient.Client
	policy    retry.Policy
	clock     clock.Clock
	ids       *idgen.Generator
	geocoder  *geo.Resolver
	thumbs    *imagery.Fetcher
	renderer  *report.Renderer
	mailer    *mailer.Mailer
	notifier  notify.Notifier
	hub       *progress.Hub
}

// Progress collectors register against the process-global Prometheus
// registry, so they are created once no matter how many Apps a process
// builds.
var (
	progressSinkOnce sync.Once
	progressSink     *sinks.PrometheusSink
	progressSinkErr  error
)

// New initializes every service from cfg, failing fast on the first one that
// cannot start. The returned App owns its services; call Close when done.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	st, err := newStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	art, err := newArtifacts(ctx, cfg.Artifacts, cfg.DataDir)
	if err != nil {
		st.Close()
		return nil, err
	}

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
	clk := clock.NewSystem()
	web := webclient.New(webclient.Config{
		UserAgent:     cfg.WebClient.UserAgent,
		RespectRobots: cfg.WebClient.RespectRobots,
		DomainDelay:   cfg.WebClient.DomainDelay,
		MaxBodyBytes:  cfg.WebClient.MaxBodyBytes,
	}, logger.Named("webclient"))

	geocoder := geo.NewResolver(geo.Config{
		URL:     cfg.Geocoder.URL,
		Email:   cfg.Geocoder.Email,
		Timeout: cfg.Geocoder.Timeout,
		Pause:   cfg.Geocoder.Pause,
	}, web, st, policy, clk, logger.Named("geo"))

	thumbs := imagery.NewFetcher(imagery.Config{
		StreetViewURL:     cfg.Imagery.StreetViewURL,
		APIKey:            cfg.Imagery.APIKey,
		TileURL:           cfg.Imagery.TileURL,
		Zoom:              cfg.Imagery.Zoom,
		Tiles:             cfg.Imagery.Tiles,
		TileSize:          cfg.Imagery.TileSize,
		Width:             cfg.Imagery.Width,
		Height:            cfg.Imagery.Height,
		StreetViewTimeout: cfg.Imagery.StreetViewTimeout,
		TileTimeout:       cfg.Imagery.TileTimeout,
	}, web, art, logger.Named("imagery"))

	renderer := report.NewRenderer(report.Config{
		OutDir:     cfg.Report.OutDir,
		SkipThumbs: cfg.Report.SkipThumbs,
	}, st, art, logger.Named("report"))

	ml, err := newMailer(cfg.Mail, web, policy, logger.Named("mailer"))
	if err != nil {
		st.Close()
		return nil, err
	}

	notifier, err := notify.New(ctx, cfg.Notify, logger.Named("notify"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build notifier: %w", err)
	}

	hub, err := newProgressHub(logger.Named("progress"))
	if err != nil {
		notifier.Close()
		st.Close()
		return nil, err
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		artifacts: art,
		web:       web,
		policy:    policy,
		clock:     clk,
		ids:       idgen.NewGenerator(),
		geocoder:  geocoder,
		thumbs:    thumbs,
		renderer:  renderer,
		mailer:    ml,
		notifier:  notifier,
		hub:       hub,
	}, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store exposes the record store.
func (a *App) Store() store.Store { return a.store }

// Artifacts exposes the blob store holding thumbnails.
func (a *App) Artifacts() artifacts.Store { return a.artifacts }

// Renderer returns the daily digest renderer.
func (a *App) Renderer() *report.Renderer { return a.renderer }

// Mailer returns the digest delivery ladder.
func (a *App) Mailer() *mailer.Mailer { return a.mailer }

// Notifier returns the run-summary publisher.
func (a *App) Notifier() notify.Notifier { return a.notifier }

// Close shuts the services down in reverse dependency order. Errors are
// logged rather than returned because shutdown continues regardless.
func (a *App) Close() {
	ctx := context.Background()
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("closing progress hub", zap.Error(err))
	}
	if err := a.notifier.Close(); err != nil {
		a.logger.Warn("closing notifier", zap.Error(err))
	}
	if closer, ok := a.artifacts.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warn("closing artifact store", zap.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing record store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func newStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Provider {
	case "sqlite":
		s, err := store.NewSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := store.NewPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store provider %q", cfg.Provider)
	}
}

func newArtifacts(ctx context.Context, cfg config.ArtifactsConfig, dataDir string) (artifacts.Store, error) {
	switch cfg.Provider {
	case "local":
		s, err := artifacts.NewLocal(dataDir)
		if err != nil {
			return nil, fmt.Errorf("open local artifact store: %w", err)
		}
		return s, nil
	case "gcs":
		s, err := artifacts.NewGCS(ctx, cfg.Bucket, cfg.Prefix)
		if err != nil {
			return nil, fmt.Errorf("open gcs artifact store: %w", err)
		}
		return s, nil
	case "memory":
		return artifacts.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown artifacts provider %q", cfg.Provider)
	}
}

// newMailer assembles the delivery ladder. Senders for unconfigured
// transports stay nil so the Mailer knows they are unavailable.
func newMailer(cfg config.MailConfig, poster *webclient.Client, policy retry.Policy, logger *zap.Logger) (*mailer.Mailer, error) {
	var smtp mailer.Sender
	if cfg.SMTP.Host != "" {
		sender, err := mailer.NewSMTPSender(cfg.SMTP, cfg.From, cfg.To, logger)
		if err != nil {
			return nil, fmt.Errorf("build smtp sender: %w", err)
		}
		smtp = sender
	}
	var api mailer.Sender
	if cfg.Addy.Key != "" {
		api = mailer.NewAddySender(cfg.Addy, cfg.From, cfg.To, poster, policy, logger)
	}
	opts := mailer.Options{
		AddyOnly:    cfg.AddyOnly,
		RequireAddy: cfg.RequireAddy,
		ForceSMTP:   cfg.ForceSMTP,
	}
	return mailer.New(opts, smtp, api, logger), nil
}

func newProgressHub(logger *zap.Logger) (*progress.Hub, error) {
	progressSinkOnce.Do(func() {
		progressSink, progressSinkErr = sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	})
	if progressSinkErr != nil {
		return nil, fmt.Errorf("build progress sink: %w", progressSinkErr)
	}
	return progress.NewHub(progress.Config{Logger: logger}, sinks.NewLogSink(logger), progressSink), nil
}
