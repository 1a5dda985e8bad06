package notify

import (
	"context"
	"log/slog"
	"time"

	"passgate/internal/notify/metrics"
	"passgate/pkg/platform/circuit"
)

const (
	defaultBufferSize     = 256
	defaultPublishTimeout = 5 * time.Second
	defaultCooldown       = 5 * time.Second
	drainTimeout          = 10 * time.Second
)

// Dispatcher buffers events and publishes them to a Sink from one goroutine.
// Enqueue never blocks: a full buffer drops the event.
type Dispatcher struct {
	sink    Sink
	queue   chan Event
	breaker *circuit.Breaker

	publishTimeout time.Duration
	cooldown       time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Dispatcher)

func WithBufferSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Event, n)
		}
	}
}

// WithCooldown sets how long delivery pauses while the sink breaker is open.
func WithCooldown(cooldown time.Duration) Option {
	return func(d *Dispatcher) {
		d.cooldown = cooldown
	}
}

func WithPublishTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.publishTimeout = timeout
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func NewDispatcher(sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:           sink,
		queue:          make(chan Event, defaultBufferSize),
		breaker:        circuit.New("notify-sink", circuit.WithFailureThreshold(3), circuit.WithSuccessThreshold(1)),
		publishTimeout: defaultPublishTimeout,
		cooldown:       defaultCooldown,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue offers evt to the buffer and reports whether it was accepted.
func (d *Dispatcher) Enqueue(evt Event) bool {
	select {
	case d.queue <- evt:
		if d.metrics != nil {
			d.metrics.IncQueued(string(evt.Kind))
		}
		return true
	default:
		if d.metrics != nil {
			d.metrics.IncDropped(string(evt.Kind))
		}
		if d.logger != nil {
			d.logger.Warn("notification buffer full, dropping event",
				"kind", string(evt.Kind),
				"pass_id", evt.PassID.String(),
			)
		}
		return false
	}
}

// Run delivers events until ctx is cancelled, then drains what is still
// buffered within a bounded time and closes the sink.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return d.sink.Close()
		case evt := <-d.queue:
			d.deliver(ctx, evt)
			if d.breaker.IsOpen() {
				d.pause(ctx)
			}
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case evt := <-d.queue:
			if ctx.Err() != nil {
				return
			}
			d.deliver(ctx, evt)
		default:
			return
		}
	}
}

func (d *Dispatcher) pause(ctx context.Context) {
	timer := time.NewTimer(d.cooldown)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (d *Dispatcher) deliver(ctx context.Context, evt Event) {
	pctx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	defer cancel()

	if err := d.sink.Publish(pctx, evt); err != nil {
		if d.metrics != nil {
			d.metrics.IncFailed(string(evt.Kind))
		}
		_, change := d.breaker.RecordFailure()
		if d.logger != nil {
			d.logger.Warn("notification publish failed",
				"kind", string(evt.Kind),
				"event_id", evt.ID,
				"error", err,
			)
			if change.Opened {
				d.logger.Error("notification sink circuit opened")
			}
		}
		if change.Opened && d.metrics != nil {
			d.metrics.SetBreakerOpen(true)
		}
		return
	}

	if d.metrics != nil {
		d.metrics.IncDelivered(string(evt.Kind))
	}
	if _, change := d.breaker.RecordSuccess(); change.Closed {
		if d.logger != nil {
			d.logger.Info("notification sink circuit closed")
		}
		if d.metrics != nil {
			d.metrics.SetBreakerOpen(false)
		}
	}
}
