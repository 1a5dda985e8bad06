package permission

import (
	"context"
	"log/slog"

	"passgate/internal/audit"
	auditmodels "passgate/internal/audit/models"
	"passgate/internal/permission/metrics"
	"passgate/internal/storage"
	id "passgate/pkg/domain"
	dErrors "passgate/pkg/domain-errors"
	"passgate/pkg/requestcontext"
)

// Actor is the authenticated caller as supplied by the identity layer.
type Actor struct {
	UserID id.UserID
	Role   Role
	Active bool
}

// ActorFromContext reads the actor placed on ctx by the auth middleware.
// An unknown role yields an actor without permissions.
func ActorFromContext(ctx context.Context) Actor {
	return Actor{
		UserID: requestcontext.UserID(ctx),
		Role:   Role(requestcontext.Role(ctx)),
		Active: requestcontext.Active(ctx),
	}
}

// Ref returns a pointer to the actor's id for audit records, nil for an
// anonymous actor.
func (a Actor) Ref() *id.UserID {
	if a.UserID.IsNil() {
		return nil
	}
	userID := a.UserID
	return &userID
}

// Engine answers permission checks against one Policy and audits denials.
type Engine struct {
	policy   *Policy
	tx       storage.Tx
	recorder *audit.Recorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func NewEngine(policy *Policy, tx storage.Tx, recorder *audit.Recorder, opts ...Option) *Engine {
	e := &Engine{
		policy:   policy,
		tx:       tx,
		recorder: recorder,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Policy() *Policy { return e.policy }

// Can is the pure check. Deactivated actors are denied everything.
func (e *Engine) Can(actor Actor, perm Permission) bool {
	return actor.Active && e.policy.Allowed(actor.Role, perm)
}

// Authorize allows or denies actor for perm on the given entity. A denial
// is recorded as PERMISSION_DENIED and returned as CodeForbidden. When no
// entity is known yet the denial is chained under the actor.
func (e *Engine) Authorize(ctx context.Context, actor Actor, perm Permission, entityType auditmodels.EntityType, entityID string) error {
	if e.Can(actor, perm) {
		if e.metrics != nil {
			e.metrics.IncrementDecision(string(perm), true)
		}
		return nil
	}
	if e.metrics != nil {
		e.metrics.IncrementDecision(string(perm), false)
	}

	reason := "missing permission"
	if !actor.Active {
		reason = "account inactive"
	}
	e.recordDenial(ctx, actor, perm, entityType, entityID, reason)
	return dErrors.New(dErrors.CodeForbidden, "permission denied: "+string(perm))
}

type denialPayload struct {
	Permission Permission `json:"permission"`
	Role       Role       `json:"role"`
	TargetType string     `json:"target_type,omitempty"`
	TargetID   string     `json:"target_id,omitempty"`
	Reason     string     `json:"reason"`
	Outcome    string     `json:"outcome"`
}

func (e *Engine) recordDenial(ctx context.Context, actor Actor, perm Permission, entityType auditmodels.EntityType, entityID, reason string) {
	chainType, chainID := entityType, entityID
	if chainID == "" {
		chainType, chainID = auditmodels.EntityUser, actor.UserID.String()
	}
	payload := denialPayload{
		Permission: perm,
		Role:       actor.Role,
		TargetType: string(entityType),
		TargetID:   entityID,
		Reason:     reason,
		Outcome:    "denied",
	}
	err := e.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		_, err := e.recorder.Record(ctx, stores.Audit, audit.Record{
			Actor:      actor.Ref(),
			Action:     auditmodels.ActionPermissionDenied,
			EntityType: chainType,
			EntityID:   chainID,
			Payload:    payload,
		})
		return err
	})
	if err != nil && e.logger != nil {
		e.logger.ErrorContext(ctx, "failed to record permission denial",
			"permission", string(perm),
			"actor_id", actor.UserID.String(),
			"error", err,
		)
	}
	if e.logger != nil {
		e.logger.WarnContext(ctx, "permission denied",
			"permission", string(perm),
			"role", string(actor.Role),
			"actor_id", actor.UserID.String(),
			"reason", reason,
		)
	}
}
