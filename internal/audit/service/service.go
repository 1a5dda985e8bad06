// Package service exposes the audit trail to operators: filtered queries,
// chain verification, per-user export and retention anonymization.
package service

import (
	"context"
	"log/slog"
	"time"

	"passgate/internal/audit/chain"
	"passgate/internal/audit/metrics"
	"passgate/internal/audit/models"
	"passgate/internal/permission"
	"passgate/internal/storage"
	id "passgate/pkg/domain"
	dErrors "passgate/pkg/domain-errors"
	"passgate/pkg/requestcontext"
)

// Authorizer is the slice of the permission engine the service needs.
type Authorizer interface {
	Authorize(ctx context.Context, actor permission.Actor, perm permission.Permission, entityType models.EntityType, entityID string) error
}

type Service struct {
	tx      storage.Tx
	authz   Authorizer
	logger  *slog.Logger
	metrics *metrics.Metrics
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

func New(tx storage.Tx, authz Authorizer, opts ...Option) *Service {
	s := &Service{tx: tx, authz: authz}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query lists entries matching f in append order.
func (s *Service) Query(ctx context.Context, actor permission.Actor, f models.Filter) ([]*models.Entry, error) {
	if err := s.authz.Authorize(ctx, actor, permission.ViewAuditLog, models.EntityAuditLog, ""); err != nil {
		return nil, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return nil, dErrors.New(dErrors.CodeValidation, "from must not be after to")
	}
	switch {
	case f.Limit <= 0:
		f.Limit = models.DefaultLimit
	case f.Limit > models.MaxLimit:
		f.Limit = models.MaxLimit
	}

	var entries []*models.Entry
	err := s.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		var err error
		entries, err = stores.Audit.List(ctx, f)
		return err
	})
	if err != nil {
		return nil, storage.Translate(err, "failed to query audit log")
	}
	return entries, nil
}

// Verify recomputes the hash chain of one entity.
func (s *Service) Verify(ctx context.Context, actor permission.Actor, entityType models.EntityType, entityID string) (*chain.Result, error) {
	if err := s.authz.Authorize(ctx, actor, permission.ViewAuditLog, models.EntityAuditLog, ""); err != nil {
		return nil, err
	}
	if entityType == "" || entityID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "entity_type and entity_id are required")
	}

	var entries []*models.Entry
	err := s.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		var err error
		entries, err = stores.Audit.List(ctx, models.Filter{EntityType: entityType, EntityID: entityID})
		return err
	})
	if err != nil {
		return nil, storage.Translate(err, "failed to read audit chain")
	}

	result := chain.Verify(entries)
	if s.metrics != nil {
		s.metrics.IncrementVerification(result.Valid)
	}
	if !result.Valid && s.logger != nil {
		s.logger.ErrorContext(ctx, "audit chain verification failed",
			"entity_type", string(entityType),
			"entity_id", entityID,
			"broken_at", result.BrokenAt.String(),
			"reason", result.Reason,
		)
	}
	return &result, nil
}

// Export is a user's audit history.
type Export struct {
	UserID      id.UserID       `json:"user_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Entries     []*models.Entry `json:"entries"`
}

// ExportUser returns every entry the user acted in. Anonymized entries no
// longer carry the actor and are not part of the export.
func (s *Service) ExportUser(ctx context.Context, actor permission.Actor, userID id.UserID) (*Export, error) {
	if err := s.authz.Authorize(ctx, actor, permission.ExportReport, models.EntityUser, userID.String()); err != nil {
		return nil, err
	}

	var entries []*models.Entry
	err := s.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		var err error
		entries, err = stores.Audit.List(ctx, models.Filter{ActorID: &userID})
		return err
	})
	if err != nil {
		return nil, storage.Translate(err, "failed to export audit history")
	}
	if entries == nil {
		entries = []*models.Entry{}
	}
	return &Export{
		UserID:      userID,
		GeneratedAt: requestcontext.Now(ctx),
		Entries:     entries,
	}, nil
}

// Anonymize clears actor and origin on entries older than olderThan, one
// batch per transaction, until a batch comes back short. It is only called
// by the compliance scheduler.
func (s *Service) Anonymize(ctx context.Context, olderThan time.Time, batch int) (int, error) {
	if batch <= 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "batch size must be positive")
	}
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, dErrors.Wrap(err, dErrors.CodeTimeout, "anonymization interrupted")
		}
		var n int
		err := s.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
			var err error
			n, err = stores.Audit.AnonymizeBefore(ctx, olderThan, batch, requestcontext.Now(ctx))
			return err
		})
		if err != nil {
			return total, storage.Translate(err, "failed to anonymize audit entries")
		}
		total += n
		if s.metrics != nil {
			s.metrics.AddAnonymized(n)
		}
		if n < batch {
			break
		}
	}
	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "audit entries anonymized",
			"count", total,
			"older_than", olderThan,
		)
	}
	return total, nil
}
