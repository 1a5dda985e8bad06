// Package service implements pass issuance and the explicit lifecycle
// operations. Every operation is permission gated and writes its audit
// entry in the same transaction as the state change.
package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"

	"passgate/internal/audit"
	auditmodels "passgate/internal/audit/models"
	"passgate/internal/notify"
	"passgate/internal/pass/metrics"
	"passgate/internal/pass/models"
	"passgate/internal/permission"
	"passgate/internal/pii"
	"passgate/internal/storage"
	id "passgate/pkg/domain"
	dErrors "passgate/pkg/domain-errors"
	"passgate/pkg/platform/sentinel"
	"passgate/pkg/requestcontext"
)

const (
	tokenBytes      = 32
	tokenAttempts   = 3
	maxHolderOrgLen = 200
	maxNotesLen     = 2000
	maxContactLen   = 320
	maxPhotoRefLen  = 500
)

// Authorizer is the slice of the permission engine the service needs.
type Authorizer interface {
	Authorize(ctx context.Context, actor permission.Actor, perm permission.Permission, entityType auditmodels.EntityType, entityID string) error
	Can(actor permission.Actor, perm permission.Permission) bool
}

// Notifier accepts advisory events after commit.
type Notifier interface {
	Enqueue(evt notify.Event) bool
}

type Service struct {
	tx        storage.Tx
	authz     Authorizer
	recorder  *audit.Recorder
	lifecycle *Lifecycle
	guard     *pii.Guard
	notifier  Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
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

func New(tx storage.Tx, authz Authorizer, recorder *audit.Recorder, lifecycle *Lifecycle, guard *pii.Guard, opts ...Option) *Service {
	s := &Service{
		tx:        tx,
		authz:     authz,
		recorder:  recorder,
		lifecycle: lifecycle,
		guard:     guard,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates a pass. The response carries the token exactly once.
func (s *Service) Issue(ctx context.Context, actor permission.Actor, req IssueRequest) (*PassSummary, error) {
	if err := s.authz.Authorize(ctx, actor, permission.CreatePass, auditmodels.EntityPass, ""); err != nil {
		return nil, err
	}
	if err := validateIssue(req); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	validFrom := req.ValidFrom
	if validFrom.IsZero() {
		validFrom = now
	}
	status := req.Status
	if status == "" {
		status = models.StatusActive
	}

	email, err := s.guard.Protect(req.HolderEmail)
	if err != nil {
		return nil, err
	}
	phone, err := s.guard.Protect(req.HolderPhone)
	if err != nil {
		return nil, err
	}

	var pass *models.Pass
	for attempt := 1; ; attempt++ {
		token, err := newToken()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate pass token")
		}
		pass, err = models.NewPass(id.NewPassID(), token, req.HolderName, status, validFrom, req.ValidUntil, actor.UserID, now)
		if err != nil {
			return nil, err
		}
		pass.HolderOrg = req.HolderOrg
		pass.HolderEmail = email
		pass.HolderPhone = phone
		pass.PhotoRef = req.PhotoRef
		pass.Notes = req.Notes

		err = s.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
			if err := stores.Passes.Create(ctx, pass); err != nil {
				return err
			}
			_, err := s.recorder.Record(ctx, stores.Audit, audit.Record{
				Actor:      actor.Ref(),
				Action:     auditmodels.ActionCreate,
				EntityType: auditmodels.EntityPass,
				EntityID:   pass.ID.String(),
				After:      pass.Snapshot(),
				At:         now,
			})
			return err
		})
		if err == nil {
			break
		}
		// A token collision surfaces as a uniqueness conflict; draw again.
		if errors.Is(err, sentinel.ErrConflict) && attempt < tokenAttempts {
			continue
		}
		return nil, storage.Translate(err, "failed to issue pass")
	}

	if s.metrics != nil {
		s.metrics.IncrementIssued(string(pass.Status))
	}
	s.logger.InfoContext(ctx, "pass issued",
		"pass_id", pass.ID.String(),
		"status", string(pass.Status),
		"issued_by", actor.UserID.String(),
	)
	s.notify(notify.NewEvent(notify.KindPassCreated, pass.ID, now, map[string]any{
		"holder_name": pass.HolderName,
		"holder_org":  pass.HolderOrg,
		"valid_from":  pass.ValidFrom,
		"valid_until": pass.ValidUntil,
	}))

	summary := s.summarize(ctx, actor, pass)
	summary.Token = pass.Token
	return summary, nil
}

// Activate moves a pending pass to active.
func (s *Service) Activate(ctx context.Context, actor permission.Actor, passID id.PassID) (*PassSummary, error) {
	if err := s.authz.Authorize(ctx, actor, permission.UpdatePass, auditmodels.EntityPass, passID.String()); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	var pass *models.Pass
	err := s.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		var err error
		pass, err = stores.Passes.FindByIDForUpdate(ctx, passID)
		if err != nil {
			return loadErr(err)
		}
		if err := pass.CanActivate(); err != nil {
			return err
		}
		before := pass.Snapshot()
		applied, err := stores.Passes.TransitionStatus(ctx, pass.ID, models.StatusPending, models.StatusActive, now)
		if err != nil {
			return storage.Translate(err, "failed to activate pass")
		}
		if !applied {
			return dErrors.New(dErrors.CodeConflict, "pass changed concurrently")
		}
		pass.ApplyActivation(now)
		_, err = s.recorder.Record(ctx, stores.Audit, audit.Record{
			Actor:      actor.Ref(),
			Action:     auditmodels.ActionActivate,
			EntityType: auditmodels.EntityPass,
			EntityID:   pass.ID.String(),
			Before:     before,
			After:      pass.Snapshot(),
			At:         now,
		})
		return err
	})
	if err != nil {
		return nil, storage.Translate(err, "failed to activate pass")
	}

	if s.metrics != nil {
		s.metrics.IncrementTransition(string(models.StatusActive))
	}
	return s.summarize(ctx, actor, pass), nil
}

type revocation struct {
	Before models.Snapshot `json:"before"`
	After  models.Snapshot `json:"after"`
	Reason string          `json:"reason,omitempty"`
}

// Revoke moves a pending or active pass to revoked. Revoking a pass that is
// already terminal changes nothing, writes no audit entry and returns the
// pass with an invalid_state warning.
func (s *Service) Revoke(ctx context.Context, actor permission.Actor, passID id.PassID, reason string) (*PassSummary, error) {
	if err := s.authz.Authorize(ctx, actor, permission.RevokePass, auditmodels.EntityPass, passID.String()); err != nil {
		return nil, err
	}
	if len(reason) > maxNotesLen {
		return nil, dErrors.New(dErrors.CodeValidation, "reason is too long")
	}
	now := requestcontext.Now(ctx)

	var (
		pass *models.Pass
		noop bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		var err error
		pass, err = stores.Passes.FindByIDForUpdate(ctx, passID)
		if err != nil {
			return loadErr(err)
		}
		if _, err := s.lifecycle.Evaluate(ctx, stores, pass, now); err != nil {
			return err
		}
		if pass.CanRevoke() != nil {
			noop = true
			return nil
		}

		from := pass.Status
		before := pass.Snapshot()
		applied, err := stores.Passes.TransitionStatus(ctx, pass.ID, from, models.StatusRevoked, now)
		if err != nil {
			return storage.Translate(err, "failed to revoke pass")
		}
		if !applied {
			return dErrors.New(dErrors.CodeConflict, "pass changed concurrently")
		}
		pass.ApplyRevocation(now)
		_, err = s.recorder.Record(ctx, stores.Audit, audit.Record{
			Actor:      actor.Ref(),
			Action:     auditmodels.ActionRevoke,
			EntityType: auditmodels.EntityPass,
			EntityID:   pass.ID.String(),
			Payload:    revocation{Before: before, After: pass.Snapshot(), Reason: reason},
			At:         now,
		})
		return err
	})
	if err != nil {
		return nil, storage.Translate(err, "failed to revoke pass")
	}

	summary := s.summarize(ctx, actor, pass)
	if noop {
		summary.Warning = string(dErrors.CodeInvalidState)
		s.logger.WarnContext(ctx, "revoke on terminal pass ignored",
			"pass_id", passID.String(),
			"status", string(pass.Status),
		)
		return summary, nil
	}
	if s.metrics != nil {
		s.metrics.IncrementTransition(string(models.StatusRevoked))
	}
	s.logger.InfoContext(ctx, "pass revoked",
		"pass_id", passID.String(),
		"revoked_by", actor.UserID.String(),
	)
	return summary, nil
}

// Get returns the pass as of now, persisting expiry if its window ended.
func (s *Service) Get(ctx context.Context, actor permission.Actor, passID id.PassID) (*PassSummary, error) {
	if err := s.authz.Authorize(ctx, actor, permission.ViewPass, auditmodels.EntityPass, passID.String()); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	var pass *models.Pass
	err := s.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		var err error
		pass, err = stores.Passes.FindByIDForUpdate(ctx, passID)
		if err != nil {
			return loadErr(err)
		}
		_, err = s.lifecycle.Evaluate(ctx, stores, pass, now)
		return err
	})
	if err != nil {
		return nil, storage.Translate(err, "failed to read pass")
	}
	return s.summarize(ctx, actor, pass), nil
}

func (s *Service) summarize(ctx context.Context, actor permission.Actor, pass *models.Pass) *PassSummary {
	summary := &PassSummary{
		ID:         pass.ID,
		HolderName: pass.HolderName,
		HolderOrg:  pass.HolderOrg,
		PhotoRef:   pass.PhotoRef,
		Status:     pass.Status,
		ValidFrom:  pass.ValidFrom,
		ValidUntil: pass.ValidUntil,
		Notes:      pass.Notes,
		IssuedBy:   pass.IssuedBy,
		CreatedAt:  pass.CreatedAt,
		UpdatedAt:  pass.UpdatedAt,
	}
	if !pass.HasContact() {
		return summary
	}
	email, emailErr := s.guard.Reveal(ctx, pass.HolderEmail)
	phone, phoneErr := s.guard.Reveal(ctx, pass.HolderPhone)
	if emailErr != nil || phoneErr != nil {
		s.logger.ErrorContext(ctx, "failed to reveal contact fields",
			"pass_id", pass.ID.String(),
			"error", errors.Join(emailErr, phoneErr),
		)
		return summary
	}
	if s.authz.Can(actor, permission.ViewSensitiveData) {
		summary.HolderEmail, summary.HolderPhone = email, phone
		return summary
	}
	summary.HolderEmail, summary.HolderPhone = pii.MaskEmail(email), pii.MaskPhone(phone)
	return summary
}

func (s *Service) notify(evt notify.Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.Enqueue(evt)
}

func validateIssue(req IssueRequest) error {
	if req.ValidUntil.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "valid_until is required")
	}
	if !req.ValidFrom.IsZero() && req.ValidFrom.After(req.ValidUntil) {
		return dErrors.New(dErrors.CodeValidation, "valid_from must not be after valid_until")
	}
	if req.Status != "" && req.Status != models.StatusPending && req.Status != models.StatusActive {
		return dErrors.New(dErrors.CodeValidation, "status must be pending or active")
	}
	switch {
	case len(req.HolderOrg) > maxHolderOrgLen:
		return dErrors.New(dErrors.CodeValidation, "holder_org is too long")
	case len(req.Notes) > maxNotesLen:
		return dErrors.New(dErrors.CodeValidation, "notes are too long")
	case len(req.HolderEmail) > maxContactLen, len(req.HolderPhone) > maxContactLen:
		return dErrors.New(dErrors.CodeValidation, "contact field is too long")
	case len(req.PhotoRef) > maxPhotoRefLen:
		return dErrors.New(dErrors.CodeValidation, "photo_ref is too long")
	}
	return nil
}

func loadErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "pass not found")
	}
	return storage.Translate(err, "failed to load pass")
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
