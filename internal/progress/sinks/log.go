package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/omzlo/nocan-node-manager/internal/progress"
)

// LogSink emits one structured log line per progress event.
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

// Consume logs each event in the batch. Terminal stages log at info level,
// ticks at debug.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("session_id", evt.SessionUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.String("url", evt.URL),
			zap.Int("status", evt.StatusCode),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Percent != progress.PercentUnknown {
			fields = append(fields, zap.Int("percent", evt.Percent))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageTick {
			s.logger.Debug("poll tick", fields...)
			continue
		}
		s.logger.Info("poll session event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
