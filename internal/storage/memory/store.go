// Package memory is the in-process storage backend used by tests and
// single-process development.
//
// One mutex serializes whole transactions, which makes every transaction
// trivially serializable. Writes record undo steps that are replayed in
// reverse when the transaction fails.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	auditmodels "passgate/internal/audit/models"
	passmodels "passgate/internal/pass/models"
	presencemodels "passgate/internal/presence/models"
	"passgate/internal/storage"
	id "passgate/pkg/domain"
	dErrors "passgate/pkg/domain-errors"
	"passgate/pkg/platform/sentinel"
)

// defaultTxTimeout is the maximum duration for one transaction.
const defaultTxTimeout = 5 * time.Second

type Store struct {
	mu      sync.Mutex
	timeout time.Duration

	passes map[id.PassID]*passmodels.Pass
	tokens map[string]id.PassID
	visits map[id.VisitID]*presencemodels.Visit
	open   map[id.PassID]id.VisitID
	audit  []*auditmodels.Entry
	seq    int64

	undo []func()
}

func New() *Store {
	return &Store{
		passes: make(map[id.PassID]*passmodels.Pass),
		tokens: make(map[string]id.PassID),
		visits: make(map[id.VisitID]*presencemodels.Visit),
		open:   make(map[id.PassID]id.VisitID),
	}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, stores storage.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := s.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	s.undo = s.undo[:0]
	err := fn(ctx, storage.Stores{
		Passes: &passStore{s},
		Visits: &visitStore{s},
		Audit:  &auditStore{s},
	})
	if err == nil && ctx.Err() != nil {
		err = dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "transaction aborted before commit")
	}
	if err != nil {
		for i := len(s.undo) - 1; i >= 0; i-- {
			s.undo[i]()
		}
	}
	s.undo = s.undo[:0]
	return err
}

func (s *Store) onRollback(f func()) {
	s.undo = append(s.undo, f)
}

// restorePass returns an undo step that puts back the given prior value.
func (s *Store) restorePass(prev *passmodels.Pass) func() {
	return func() { s.passes[prev.ID] = prev }
}

type passStore struct{ s *Store }

func (p *passStore) Create(_ context.Context, pass *passmodels.Pass) error {
	s := p.s
	if _, exists := s.tokens[pass.Token]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.passes[pass.ID]; exists {
		return sentinel.ErrConflict
	}
	s.passes[pass.ID] = pass.Clone()
	s.tokens[pass.Token] = pass.ID
	s.onRollback(func() {
		delete(s.passes, pass.ID)
		delete(s.tokens, pass.Token)
	})
	return nil
}

func (p *passStore) FindByID(_ context.Context, passID id.PassID) (*passmodels.Pass, error) {
	pass, ok := p.s.passes[passID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return pass.Clone(), nil
}

func (p *passStore) FindByIDForUpdate(ctx context.Context, passID id.PassID) (*passmodels.Pass, error) {
	return p.FindByID(ctx, passID)
}

func (p *passStore) FindByTokenForUpdate(ctx context.Context, token string) (*passmodels.Pass, error) {
	passID, ok := p.s.tokens[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p.FindByID(ctx, passID)
}

func (p *passStore) TransitionStatus(_ context.Context, passID id.PassID, from, to passmodels.Status, now time.Time) (bool, error) {
	s := p.s
	pass, ok := s.passes[passID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if pass.Status != from {
		return false, nil
	}
	s.onRollback(s.restorePass(pass))
	next := pass.Clone()
	next.Status = to
	next.UpdatedAt = now.UTC()
	s.passes[passID] = next
	return true, nil
}

func (p *passStore) ListEndedBefore(_ context.Context, cutoff time.Time, limit int) ([]*passmodels.Pass, error) {
	var out []*passmodels.Pass
	for _, pass := range p.s.passes {
		if pass.ValidUntil.Before(cutoff) && pass.ContactScrubbedAt == nil && pass.HasContact() {
			out = append(out, pass.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidUntil.Before(out[j].ValidUntil) })
	return truncate(out, limit), nil
}

func (p *passStore) ListExpiring(_ context.Context, from, to time.Time, limit int) ([]*passmodels.Pass, error) {
	var out []*passmodels.Pass
	for _, pass := range p.s.passes {
		if pass.Status != passmodels.StatusActive || pass.ExpiryNotifiedAt != nil {
			continue
		}
		if pass.ValidUntil.Before(from) || pass.ValidUntil.After(to) {
			continue
		}
		out = append(out, pass.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidUntil.Before(out[j].ValidUntil) })
	return truncate(out, limit), nil
}

func (p *passStore) MarkExpiryNotified(_ context.Context, passID id.PassID, at time.Time) (bool, error) {
	s := p.s
	pass, ok := s.passes[passID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if pass.ExpiryNotifiedAt != nil {
		return false, nil
	}
	s.onRollback(s.restorePass(pass))
	next := pass.Clone()
	at = at.UTC()
	next.ExpiryNotifiedAt = &at
	s.passes[passID] = next
	return true, nil
}

func (p *passStore) ScrubContact(_ context.Context, passID id.PassID, at time.Time) (bool, error) {
	s := p.s
	pass, ok := s.passes[passID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if pass.ContactScrubbedAt != nil {
		return false, nil
	}
	s.onRollback(s.restorePass(pass))
	next := pass.Clone()
	at = at.UTC()
	next.HolderEmail = ""
	next.HolderPhone = ""
	next.ContactScrubbedAt = &at
	next.UpdatedAt = at
	s.passes[passID] = next
	return true, nil
}

type visitStore struct{ s *Store }

func (v *visitStore) FindOpen(_ context.Context, passID id.PassID) (*presencemodels.Visit, error) {
	visitID, ok := v.s.open[passID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return v.s.visits[visitID].Clone(), nil
}

func (v *visitStore) Insert(_ context.Context, visit *presencemodels.Visit) error {
	s := v.s
	if !visit.IsOpen() {
		return dErrors.New(dErrors.CodeInvariantViolation, "inserted visit must be open")
	}
	if _, exists := s.open[visit.PassID]; exists {
		return sentinel.ErrConflict
	}
	s.visits[visit.ID] = visit.Clone()
	s.open[visit.PassID] = visit.ID
	s.onRollback(func() {
		delete(s.visits, visit.ID)
		delete(s.open, visit.PassID)
	})
	return nil
}

func (v *visitStore) Close(_ context.Context, visitID id.VisitID, exitAt time.Time) error {
	s := v.s
	visit, ok := s.visits[visitID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !visit.IsOpen() {
		return sentinel.ErrConflict
	}
	prev := visit
	next := visit.Clone()
	next.ApplyExit(exitAt)
	s.visits[visitID] = next
	delete(s.open, visit.PassID)
	s.onRollback(func() {
		s.visits[visitID] = prev
		s.open[prev.PassID] = visitID
	})
	return nil
}

func (v *visitStore) CountOpen(_ context.Context, passID id.PassID) (int, error) {
	n := 0
	for _, visit := range v.s.visits {
		if visit.PassID == passID && visit.IsOpen() {
			n++
		}
	}
	return n, nil
}

func (v *visitStore) ListOpen(_ context.Context, limit int) ([]*presencemodels.Visit, error) {
	out := make([]*presencemodels.Visit, 0, len(v.s.open))
	for _, visitID := range v.s.open {
		out = append(out, v.s.visits[visitID].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryAt.Before(out[j].EntryAt) })
	return truncate(out, limit), nil
}

type auditStore struct{ s *Store }

func (a *auditStore) LastHash(_ context.Context, entityType auditmodels.EntityType, entityID string) (string, error) {
	entries := a.s.audit
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].EntityType == entityType && entries[i].EntityID == entityID {
			return entries[i].Hash, nil
		}
	}
	return "", nil
}

func (a *auditStore) Append(_ context.Context, e *auditmodels.Entry) error {
	s := a.s
	s.seq++
	e.Seq = s.seq
	s.audit = append(s.audit, e.Clone())
	s.onRollback(func() {
		s.audit = s.audit[:len(s.audit)-1]
		s.seq--
	})
	return nil
}

func (a *auditStore) List(_ context.Context, f auditmodels.Filter) ([]*auditmodels.Entry, error) {
	var out []*auditmodels.Entry
	for _, e := range a.s.audit {
		if !matches(e, f) {
			continue
		}
		out = append(out, e.Clone())
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (a *auditStore) AnonymizeBefore(_ context.Context, cutoff time.Time, limit int, now time.Time) (int, error) {
	s := a.s
	var candidates []int
	for i, e := range s.audit {
		if e.AnonymizedAt == nil && e.Timestamp.Before(cutoff) {
			candidates = append(candidates, i)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return s.audit[candidates[i]].Timestamp.Before(s.audit[candidates[j]].Timestamp)
	})
	candidates = truncate(candidates, limit)

	now = now.UTC()
	for _, idx := range candidates {
		prev := s.audit[idx]
		next := prev.Clone()
		next.ActorID = nil
		next.Origin = nil
		next.AnonymizedAt = &now
		s.audit[idx] = next
		s.onRollback(func() { s.audit[idx] = prev })
	}
	return len(candidates), nil
}

func matches(e *auditmodels.Entry, f auditmodels.Filter) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
