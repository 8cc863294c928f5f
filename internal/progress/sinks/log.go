package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/docsort/internal/progress"
)

// LogSink emits one structured log line per event.
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

// Consume logs each event in the batch. Terminal errors log at warn level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Int64("project_id", evt.ProjectID),
			zap.String("job_id", evt.JobID),
			zap.String("status", string(evt.Status)),
			zap.Int("progress", evt.Progress),
			zap.String("message", evt.Message),
		}
		if evt.Status == progress.StatusError {
			s.logger.Warn("job run failed", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
