package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes summaries to the structured log. It is the default in
// development where no broker is available.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLog builds a LogNotifier.
func NewLog(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (l *LogNotifier) Notify(_ context.Context, summary Summary) error {
	l.logger.Info("run summary",
		zap.String("run_id", summary.RunID),
		zap.String("status", summary.Status),
		zap.String("report_day", summary.ReportDay),
		zap.Int("pages", summary.Pages),
		zap.Int("links", summary.Links),
		zap.Int("items", summary.Items),
		zap.Int("errors", summary.Errors),
		zap.String("report", summary.ReportPath),
		zap.Bool("mailed", summary.Mailed),
		zap.Duration("took", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return nil
}

// Close implements Notifier.
func (l *LogNotifier) Close() error { return nil }
