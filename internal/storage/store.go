// Package storage defines the persistence contract shared by the memory and
// SQL backends.
//
// Stores are interface-driven to keep the domain logic testable and to allow
// swapping in-memory, SQLite or Postgres persistence without rewiring
// business code. Every read and write goes through Tx.RunInTx so a state
// change and the audit entry documenting it commit or roll back together.
//
// Stores return pkg/platform/sentinel errors:
//   - ErrNotFound when a lookup matches nothing
//   - ErrConflict when a concurrent writer won a lock or uniqueness race
package storage

import (
	"context"
	"time"

	auditmodels "passgate/internal/audit/models"
	passmodels "passgate/internal/pass/models"
	presencemodels "passgate/internal/presence/models"
	id "passgate/pkg/domain"
)

type PassStore interface {
	// Create inserts a new pass. A duplicate token yields ErrConflict.
	Create(ctx context.Context, p *passmodels.Pass) error
	FindByID(ctx context.Context, passID id.PassID) (*passmodels.Pass, error)
	// FindByIDForUpdate and FindByTokenForUpdate lock the pass row until
	// the surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, passID id.PassID) (*passmodels.Pass, error)
	FindByTokenForUpdate(ctx context.Context, token string) (*passmodels.Pass, error)
	// TransitionStatus applies from -> to only when the row is still in
	// from. It reports whether the write applied.
	TransitionStatus(ctx context.Context, passID id.PassID, from, to passmodels.Status, now time.Time) (bool, error)
	// ListEndedBefore returns passes whose window ended before cutoff and
	// still hold contact fields, oldest first.
	ListEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*passmodels.Pass, error)
	// ListExpiring returns active, not yet notified passes whose window ends
	// in [from, to], soonest first.
	ListExpiring(ctx context.Context, from, to time.Time, limit int) ([]*passmodels.Pass, error)
	// MarkExpiryNotified sets expiry_notified_at if unset and reports
	// whether it applied.
	MarkExpiryNotified(ctx context.Context, passID id.PassID, at time.Time) (bool, error)
	// ScrubContact clears contact fields if not yet scrubbed and reports
	// whether it applied.
	ScrubContact(ctx context.Context, passID id.PassID, at time.Time) (bool, error)
}

type VisitStore interface {
	// FindOpen returns the pass's visit with no exit, or ErrNotFound.
	FindOpen(ctx context.Context, passID id.PassID) (*presencemodels.Visit, error)
	// Insert adds an open visit. A second open visit for the same pass
	// yields ErrConflict.
	Insert(ctx context.Context, v *presencemodels.Visit) error
	// Close sets exit_at on a still-open visit; ErrConflict if it was
	// already closed.
	Close(ctx context.Context, visitID id.VisitID, exitAt time.Time) error
	CountOpen(ctx context.Context, passID id.PassID) (int, error)
	ListOpen(ctx context.Context, limit int) ([]*presencemodels.Visit, error)
}

type AuditStore interface {
	// LastHash locks the entity's chain for the rest of the transaction and
	// returns the hash of its newest entry ("" for a new chain).
	LastHash(ctx context.Context, entityType auditmodels.EntityType, entityID string) (string, error)
	// Append persists e and assigns e.Seq.
	Append(ctx context.Context, e *auditmodels.Entry) error
	// List returns entries matching f in append order.
	List(ctx context.Context, f auditmodels.Filter) ([]*auditmodels.Entry, error)
	// AnonymizeBefore clears actor and origin on up to limit not yet
	// anonymized entries older than cutoff, oldest first.
	AnonymizeBefore(ctx context.Context, cutoff time.Time, limit int, now time.Time) (int, error)
}

// Stores is the set of stores bound to one transaction.
type Stores struct {
	Passes PassStore
	Visits VisitStore
	Audit  AuditStore
}

// Tx provides the transactional boundary. fn receives a context carrying
// the transaction; stores used with that context participate in it. A
// returned error or a cancelled context rolls everything back.
type Tx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error
}
