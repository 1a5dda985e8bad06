// Package service is the scan endpoint's decision path: permission gate,
// lifecycle evaluation, presence toggle and the SCAN audit entry, all in one
// transaction per attempt.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"passgate/internal/audit"
	auditmodels "passgate/internal/audit/models"
	"passgate/internal/notify"
	passmodels "passgate/internal/pass/models"
	passservice "passgate/internal/pass/service"
	"passgate/internal/permission"
	"passgate/internal/presence"
	presencemodels "passgate/internal/presence/models"
	"passgate/internal/scan/metrics"
	"passgate/internal/storage"
	dErrors "passgate/pkg/domain-errors"
	"passgate/pkg/platform/sentinel"
	"passgate/pkg/requestcontext"
)

const (
	// maxAttempts is the first try plus one retry after a conflict.
	maxAttempts = 2
	tracerName  = "passgate/internal/scan"
)

// Authorizer is the slice of the permission engine the service needs.
type Authorizer interface {
	Authorize(ctx context.Context, actor permission.Actor, perm permission.Permission, entityType auditmodels.EntityType, entityID string) error
}

// Notifier accepts advisory events after commit.
type Notifier interface {
	Enqueue(evt notify.Event) bool
}

type Service struct {
	tx        storage.Tx
	authz     Authorizer
	recorder  *audit.Recorder
	lifecycle *passservice.Lifecycle
	tracker   *presence.Tracker
	notifier  Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithTracerProvider overrides the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer(tracerName)
	}
}

func New(tx storage.Tx, authz Authorizer, recorder *audit.Recorder, lifecycle *passservice.Lifecycle, tracker *presence.Tracker, opts ...Option) *Service {
	s := &Service{
		tx:        tx,
		authz:     authz,
		recorder:  recorder,
		lifecycle: lifecycle,
		tracker:   tracker,
		logger:    slog.New(slog.DiscardHandler),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify decides a scan of token. A DENIED verdict is an Outcome, not an
// error. Errors are Forbidden (actor may not scan) or transient
// (Unavailable, Timeout, Internal); a conflict is retried once before it
// surfaces as Unavailable.
func (s *Service) Verify(ctx context.Context, actor permission.Actor, token string) (*Outcome, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "scan.Verify",
		trace.WithAttributes(attribute.String("actor.role", string(actor.Role))))
	defer span.End()
	if s.metrics != nil {
		defer s.metrics.ObserveLatency(start)
	}

	if err := s.authz.Authorize(ctx, actor, permission.ScanPass, auditmodels.EntityPass, ""); err != nil {
		s.fail(ctx, span, err)
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var (
		outcome *Outcome
		err     error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome, err = s.verifyOnce(ctx, actor, token, now)
		if err == nil || !dErrors.HasCode(err, dErrors.CodeConflict) || attempt == maxAttempts {
			break
		}
		span.AddEvent("retry after conflict")
		if s.metrics != nil {
			s.metrics.IncrementRetry()
		}
		s.logger.InfoContext(ctx, "scan lost a concurrent race, retrying",
			"request_id", requestcontext.RequestID(ctx),
			"attempt", attempt,
		)
	}
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			err = dErrors.Wrap(err, dErrors.CodeUnavailable, "pass is being scanned concurrently, try again")
		}
		s.fail(ctx, span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("scan.status", string(outcome.Status)),
		attribute.String("scan.reason", outcome.Reason),
	)
	if s.metrics != nil {
		s.metrics.IncrementOutcome(string(outcome.Status), outcome.Reason)
	}
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"status", outcome.Status,
	}
	if outcome.PassID != nil {
		attrs = append(attrs, "pass_id", outcome.PassID.String())
	}
	if outcome.Reason != "" {
		attrs = append(attrs, "reason", outcome.Reason)
	}
	s.logger.InfoContext(ctx, "scan verified", attrs...)

	s.notifyOutcome(outcome)
	return outcome, nil
}

func (s *Service) verifyOnce(ctx context.Context, actor permission.Actor, token string, now time.Time) (*Outcome, error) {
	var outcome *Outcome
	err := s.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		pass, err := stores.Passes.FindByTokenForUpdate(ctx, token)
		if errors.Is(err, sentinel.ErrNotFound) {
			outcome = denied(ReasonNotFound, now)
			return s.recordScan(ctx, stores, actor, "", outcome, nil)
		}
		if err != nil {
			return err
		}

		verdict, err := s.lifecycle.Evaluate(ctx, stores, pass, now)
		if err != nil {
			return err
		}
		if verdict != passmodels.VerdictValid {
			outcome = denied(reasonFor(verdict), now)
			outcome.PassID = &pass.ID
			return s.recordScan(ctx, stores, actor, pass.ID.String(), outcome, nil)
		}

		toggle, err := s.tracker.Toggle(ctx, stores, pass.ID, now, actor.Ref())
		if err != nil {
			return err
		}
		outcome = allowed(pass, toggle, now)
		return s.recordScan(ctx, stores, actor, pass.ID.String(), outcome, toggle.Visit)
	})
	if err != nil {
		return nil, storage.Translate(err, "scan failed")
	}
	return outcome, nil
}

func allowed(pass *passmodels.Pass, toggle presence.ToggleResult, now time.Time) *Outcome {
	o := &Outcome{
		PassID:     &pass.ID,
		HolderName: pass.HolderName,
		HolderOrg:  pass.HolderOrg,
		PhotoRef:   pass.PhotoRef,
		ScannedAt:  now,
	}
	if toggle.Kind == presence.Entered {
		validUntil := pass.ValidUntil
		o.Status = StatusAllowedEntry
		o.ValidUntil = &validUntil
		return o
	}
	minutes := toggle.DurationMinutes
	o.Status = StatusAllowedExit
	o.DurationMinutes = &minutes
	return o
}

func (s *Service) recordScan(ctx context.Context, stores storage.Stores, actor permission.Actor, passID string, o *Outcome, visit *presencemodels.Visit) error {
	rec := scanRecord{
		Outcome:   o.Status,
		Reason:    o.Reason,
		ScannedAt: o.ScannedAt,
		Duration:  o.DurationMinutes,
	}
	if visit != nil {
		rec.VisitID = &visit.ID
		rec.EntryAt = &visit.EntryAt
		rec.ExitAt = visit.ExitAt
	}
	_, err := s.recorder.Record(ctx, stores.Audit, audit.Record{
		Actor:      actor.Ref(),
		Action:     auditmodels.ActionScan,
		EntityType: auditmodels.EntityPass,
		EntityID:   passID,
		Payload:    rec,
		At:         o.ScannedAt,
	})
	return err
}

func (s *Service) notifyOutcome(o *Outcome) {
	if s.notifier == nil || o.PassID == nil {
		return
	}
	payload := map[string]any{
		"holder_name": o.HolderName,
		"scanned_at":  o.ScannedAt,
	}
	switch o.Status {
	case StatusAllowedEntry:
		s.notifier.Enqueue(notify.NewEvent(notify.KindEntry, *o.PassID, o.ScannedAt, payload))
	case StatusAllowedExit:
		payload["duration_minutes"] = *o.DurationMinutes
		s.notifier.Enqueue(notify.NewEvent(notify.KindExit, *o.PassID, o.ScannedAt, payload))
	}
}

func (s *Service) fail(ctx context.Context, span trace.Span, err error) {
	code := dErrors.CodeOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))
	if s.metrics != nil {
		s.metrics.IncrementFailure(string(code))
	}
	if code == dErrors.CodeForbidden {
		s.logger.WarnContext(ctx, "scan refused",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return
	}
	s.logger.ErrorContext(ctx, "scan failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}
