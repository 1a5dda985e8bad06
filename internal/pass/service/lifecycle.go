package service

import (
	"context"
	"log/slog"
	"time"

	"passgate/internal/audit"
	auditmodels "passgate/internal/audit/models"
	"passgate/internal/pass/metrics"
	"passgate/internal/pass/models"
	"passgate/internal/storage"
)

// Lifecycle evaluates passes and persists the one time-driven transition,
// active -> expired.
type Lifecycle struct {
	recorder *audit.Recorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type LifecycleOption func(*Lifecycle)

func WithLifecycleLogger(logger *slog.Logger) LifecycleOption {
	return func(l *Lifecycle) {
		l.logger = logger
	}
}

func WithLifecycleMetrics(m *metrics.Metrics) LifecycleOption {
	return func(l *Lifecycle) {
		l.metrics = m
	}
}

func NewLifecycle(recorder *audit.Recorder, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{recorder: recorder}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Evaluate classifies pass at now inside the caller's transaction. An active
// pass past its window is moved to expired with a conditional write, and
// only the evaluator whose write applied records PASS_EXPIRED. pass is
// updated in place to the persisted state.
func (l *Lifecycle) Evaluate(ctx context.Context, stores storage.Stores, pass *models.Pass, now time.Time) (models.Verdict, error) {
	verdict, needsExpiry := pass.Evaluate(now)
	if !needsExpiry {
		return verdict, nil
	}

	applied, err := stores.Passes.TransitionStatus(ctx, pass.ID, models.StatusActive, models.StatusExpired, now)
	if err != nil {
		return "", storage.Translate(err, "failed to expire pass")
	}
	if !applied {
		// Someone else moved it first; report what they persisted.
		fresh, err := stores.Passes.FindByID(ctx, pass.ID)
		if err != nil {
			return "", storage.Translate(err, "failed to reload pass")
		}
		*pass = *fresh
		verdict, _ = pass.Evaluate(now)
		return verdict, nil
	}

	before := pass.Snapshot()
	pass.ApplyExpiry(now)
	if _, err := l.recorder.Record(ctx, stores.Audit, audit.Record{
		Action:     auditmodels.ActionPassExpired,
		EntityType: auditmodels.EntityPass,
		EntityID:   pass.ID.String(),
		Before:     before,
		After:      pass.Snapshot(),
		At:         now,
	}); err != nil {
		return "", err
	}

	if l.metrics != nil {
		l.metrics.IncrementTransition(string(models.StatusExpired))
	}
	if l.logger != nil {
		l.logger.InfoContext(ctx, "pass expired",
			"pass_id", pass.ID.String(),
			"valid_until", pass.ValidUntil,
		)
	}
	return models.VerdictExpired, nil
}
