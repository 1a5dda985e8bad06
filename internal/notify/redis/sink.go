// Package redis appends notification events to a Redis stream.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"passgate/internal/notify"
)

// defaultMaxLen caps the stream; trimming is approximate.
const defaultMaxLen = 100_000

type Sink struct {
	client *goredis.Client
	stream string
	maxLen int64
}

type Option func(*Sink)

func WithMaxLen(n int64) Option {
	return func(s *Sink) {
		s.maxLen = n
	}
}

// New builds a sink on a client owned by the caller; Close leaves it open.
func New(client *goredis.Client, stream string, opts ...Option) *Sink {
	s := &Sink{client: client, stream: stream, maxLen: defaultMaxLen}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sink) Publish(ctx context.Context, evt notify.Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("redis: encode payload: %w", err)
	}
	err = s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":          evt.ID,
			"kind":        string(evt.Kind),
			"pass_id":     evt.PassID.String(),
			"occurred_at": evt.OccurredAt.Format(time.RFC3339Nano),
			"payload":     string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: xadd %s: %w", s.stream, err)
	}
	return nil
}

func (s *Sink) Close() error { return nil }
