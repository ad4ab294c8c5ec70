package sinks

import (
	"context"

	"go.uber.org/zap"

	"permitwatch/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where no metrics endpoint is scraped.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Page > 0 {
			fields = append(fields, zap.Int("page", evt.Page), zap.Int("links", evt.Links))
		}
		if evt.PermitNumber != "" {
			fields = append(fields, zap.String("permit", evt.PermitNumber))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Stage == progress.StageRunDone || evt.Stage == progress.StageRunError {
			fields = append(fields,
				zap.Int("pages", evt.Pages),
				zap.Int("links", evt.Links),
				zap.Int("items", evt.Items),
				zap.Int("errors", evt.Errors),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
