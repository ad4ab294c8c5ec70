// Package notify publishes end-of-run summaries so downstream consumers
// learn about each pipeline run without polling the database.
package notify

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"permitwatch/internal/config"
)

// Summary describes one finished pipeline run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	ReportDay  string    `json:"report_day,omitempty"`
	Pages      int       `json:"pages"`
	Links      int       `json:"links"`
	Items      int       `json:"items"`
	Errors     int       `json:"errors"`
	ReportPath string    `json:"report_path,omitempty"`
	Mailed     bool      `json:"mailed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Note       string    `json:"note,omitempty"`
}

// Notifier delivers run summaries.
type Notifier interface {
	Notify(ctx context.Context, summary Summary) error
	Close() error
}

// Noop discards summaries.
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(context.Context, Summary) error { return nil }

// Close implements Notifier.
func (Noop) Close() error { return nil }

// New builds the Notifier selected by cfg.
func New(ctx context.Context, cfg config.NotifyConfig, logger *zap.Logger) (Notifier, error) {
	switch cfg.Provider {
	case "log":
		return NewLog(logger), nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Project)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		return NewPubSub(client, cfg.Topic, logger), nil
	case "noop", "":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown notify provider %q", cfg.Provider)
	}
}
