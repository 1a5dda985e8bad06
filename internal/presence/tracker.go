// Package presence keeps the record of who is on site. Each valid scan
// toggles the pass between inside (one open visit) and outside.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"passgate/internal/audit"
	auditmodels "passgate/internal/audit/models"
	"passgate/internal/presence/metrics"
	"passgate/internal/presence/models"
	"passgate/internal/storage"
	id "passgate/pkg/domain"
	"passgate/pkg/platform/sentinel"
)

type ToggleKind string

const (
	Entered ToggleKind = "ENTERED"
	Exited  ToggleKind = "EXITED"
)

type ToggleResult struct {
	Kind            ToggleKind
	Visit           *models.Visit
	DurationMinutes int
}

// Tracker toggles presence inside the caller's transaction. The caller must
// hold the pass row lock so two toggles of one pass never interleave; the
// store's one-open-visit constraint turns a violation into ErrConflict.
type Tracker struct {
	recorder *audit.Recorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Tracker)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

func NewTracker(recorder *audit.Recorder, opts ...Option) *Tracker {
	t := &Tracker{recorder: recorder}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Toggle opens a visit when the pass is outside, closes it when inside.
func (t *Tracker) Toggle(ctx context.Context, stores storage.Stores, passID id.PassID, now time.Time, actor *id.UserID) (ToggleResult, error) {
	open, err := stores.Visits.FindOpen(ctx, passID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return t.enter(ctx, stores, passID, now, actor)
	case err != nil:
		return ToggleResult{}, storage.Translate(err, "failed to read open visit")
	}
	return t.exit(ctx, stores, open, now, actor)
}

func (t *Tracker) enter(ctx context.Context, stores storage.Stores, passID id.PassID, now time.Time, actor *id.UserID) (ToggleResult, error) {
	visit := models.NewVisit(passID, now)
	if err := stores.Visits.Insert(ctx, visit); err != nil {
		return ToggleResult{}, storage.Translate(err, "failed to open visit")
	}
	if _, err := t.recorder.Record(ctx, stores.Audit, audit.Record{
		Actor:      actor,
		Action:     auditmodels.ActionEntry,
		EntityType: auditmodels.EntityVisit,
		EntityID:   visit.ID.String(),
		After:      visit,
		At:         now,
	}); err != nil {
		return ToggleResult{}, err
	}
	if t.metrics != nil {
		t.metrics.IncrementToggle("entered")
	}
	return ToggleResult{Kind: Entered, Visit: visit}, nil
}

func (t *Tracker) exit(ctx context.Context, stores storage.Stores, open *models.Visit, now time.Time, actor *id.UserID) (ToggleResult, error) {
	before := open.Clone()
	open.ApplyExit(now)
	if err := stores.Visits.Close(ctx, open.ID, *open.ExitAt); err != nil {
		return ToggleResult{}, storage.Translate(err, "failed to close visit")
	}
	minutes := open.DurationMinutes()
	if _, err := t.recorder.Record(ctx, stores.Audit, audit.Record{
		Actor:      actor,
		Action:     auditmodels.ActionExit,
		EntityType: auditmodels.EntityVisit,
		EntityID:   open.ID.String(),
		Before:     before,
		After:      open,
		At:         now,
	}); err != nil {
		return ToggleResult{}, err
	}
	if t.metrics != nil {
		t.metrics.IncrementToggle("exited")
		t.metrics.ObserveVisit(minutes)
	}
	return ToggleResult{Kind: Exited, Visit: open, DurationMinutes: minutes}, nil
}

// OpenCount returns how many open visits the pass has; anything but 0 or 1
// is a broken invariant.
func (t *Tracker) OpenCount(ctx context.Context, stores storage.Stores, passID id.PassID) (int, error) {
	n, err := stores.Visits.CountOpen(ctx, passID)
	if err != nil {
		return 0, storage.Translate(err, "failed to count open visits")
	}
	if n > 1 && t.logger != nil {
		t.logger.ErrorContext(ctx, "pass has more than one open visit",
			"pass_id", passID.String(),
			"open_visits", n,
		)
	}
	return n, nil
}
