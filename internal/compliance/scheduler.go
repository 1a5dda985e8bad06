// Package compliance runs the out-of-band jobs that keep stored data within
// policy: audit anonymization and contact scrubbing after the retention
// window, and one-time expiry reminders. Jobs work in bounded batches, one
// short transaction per batch, so they never hold locks a live scan waits on.
package compliance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"passgate/internal/compliance/metrics"
	"passgate/pkg/requestcontext"
)

// Job is one unit of scheduled work. now is the run's reference time.
type Job interface {
	Name() string
	Run(ctx context.Context, now time.Time) error
}

// Scheduler runs its jobs immediately on Start and then on every interval
// until its context is cancelled or Stop is called.
type Scheduler struct {
	jobs     []Job
	interval time.Duration
	clock    func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithClock replaces time.Now as the reference time of each run.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// NewScheduler creates a scheduler but does not start it. A non-positive
// interval defaults to one hour.
func NewScheduler(interval time.Duration, jobs []Job, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	s := &Scheduler{
		jobs:     jobs,
		interval: interval,
		clock:    time.Now,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	s.logger.InfoContext(ctx, "compliance scheduler started",
		"interval", s.interval.String(),
		"jobs", len(s.jobs),
	)
}

// Stop signals the loop to exit and waits for the running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs every job once in order. A failing job is logged and does
// not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.clock().UTC()
	ctx = requestcontext.WithTime(ctx, now)
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		err := job.Run(ctx, now)
		if s.metrics != nil {
			s.metrics.ObserveRun(job.Name(), start, err)
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "compliance job failed",
				"job", job.Name(),
				"error", err,
			)
		}
	}
}
