// Package audit appends hash-chained audit entries inside the caller's
// transaction. A failed append fails the operation it documents.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"passgate/internal/audit/chain"
	"passgate/internal/audit/metrics"
	"passgate/internal/audit/models"
	"passgate/internal/storage"
	id "passgate/pkg/domain"
	dErrors "passgate/pkg/domain-errors"
	"passgate/pkg/requestcontext"
)

// Record describes one state change. Payload, when set, is stored as the
// change payload verbatim; otherwise Before/After become {before, after}.
type Record struct {
	Actor      *id.UserID
	Action     models.Action
	EntityType models.EntityType
	EntityID   string
	Before     any
	After      any
	Payload    any
	At         time.Time
}

// Recorder builds, seals and appends entries.
type Recorder struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Recorder)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one entry through store, which must be bound to the
// transaction of the mutation being documented. Origin comes from ctx.
func (r *Recorder) Record(ctx context.Context, store storage.AuditStore, rec Record) (*models.Entry, error) {
	changes, err := encodeChanges(rec)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode audit payload")
	}

	at := rec.At
	if at.IsZero() {
		at = requestcontext.Now(ctx)
	}
	entry := &models.Entry{
		ID:         id.NewAuditID(),
		ActorID:    rec.Actor,
		Action:     rec.Action,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Changes:    changes,
		Origin:     originFromContext(ctx),
		Timestamp:  at.UTC().Truncate(time.Microsecond),
	}

	prev, err := store.LastHash(ctx, rec.EntityType, rec.EntityID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit chain")
	}
	chain.Seal(entry, prev)

	if err := store.Append(ctx, entry); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
	}

	r.logAudit(ctx, entry)
	if r.metrics != nil {
		r.metrics.IncrementRecorded(string(entry.Action))
	}
	return entry, nil
}

func encodeChanges(rec Record) (json.RawMessage, error) {
	var v any
	switch {
	case rec.Payload != nil:
		v = rec.Payload
	case rec.Before != nil || rec.After != nil:
		v = models.Change{Before: rec.Before, After: rec.After}
	default:
		return nil, nil
	}
	return json.Marshal(v)
}

func originFromContext(ctx context.Context) *models.Origin {
	o := &models.Origin{
		IP:        requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.UserAgent(ctx),
		RequestID: requestcontext.RequestID(ctx),
	}
	if o.IsZero() {
		return nil
	}
	return o
}

func (r *Recorder) logAudit(ctx context.Context, e *models.Entry) {
	if r.logger == nil {
		return
	}
	attrs := []any{
		"event", string(e.Action),
		"log_type", "audit",
		"entity_type", string(e.EntityType),
		"entity_id", e.EntityID,
		"audit_id", e.ID.String(),
	}
	if e.ActorID != nil {
		attrs = append(attrs, "actor_id", e.ActorID.String())
	}
	if e.Origin != nil && e.Origin.RequestID != "" {
		attrs = append(attrs, "request_id", e.Origin.RequestID)
	}
	r.logger.InfoContext(ctx, string(e.Action), attrs...)
}
