package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/sitegrade/sitegrade/internal/push"
)

// LogSink mirrors the push stream into structured logs. It stands in for
// a real transport during development and one-shot CLI runs.
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
func (s *LogSink) Consume(_ context.Context, batch []push.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("type", string(evt.Type)),
		}
		switch evt.Type {
		case push.TypeScanProgress:
			fields = append(fields,
				zap.Int("progress", evt.Progress),
				zap.String("message", evt.Message))
		case push.TypeQueueUpdate:
			fields = append(fields,
				zap.Int("position", evt.Position),
				zap.Int64("wait_seconds", evt.WaitSeconds))
		case push.TypeScanComplete:
			if evt.Report != nil {
				fields = append(fields,
					zap.Int("score", evt.Report.Score),
					zap.String("grade", evt.Report.Grade),
					zap.Int("pages", evt.Report.PagesCrawled),
					zap.Int64("duration_ms", evt.Report.DurationMs))
			}
		}
		s.logger.Info("push event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
