package notify

import (
	"context"
	"log/slog"
)

// LogSink writes events to the structured log. It is the default sink when
// no broker is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, evt Event) error {
	s.logger.InfoContext(ctx, "notification",
		"event_id", evt.ID,
		"kind", string(evt.Kind),
		"pass_id", evt.PassID.String(),
		"occurred_at", evt.OccurredAt,
	)
	return nil
}

func (s *LogSink) Close() error { return nil }
