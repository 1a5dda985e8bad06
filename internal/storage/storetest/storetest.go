// Package storetest is the behavioural contract every storage backend must
// satisfy. Backend packages embed Suite and supply Open.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	auditmodels "passgate/internal/audit/models"
	passmodels "passgate/internal/pass/models"
	presencemodels "passgate/internal/presence/models"
	"passgate/internal/storage"
	id "passgate/pkg/domain"
	"passgate/pkg/platform/sentinel"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var errAbort = errors.New("abort")

type Suite struct {
	suite.Suite

	// Open returns an empty store. It is called before every test.
	Open func(t *testing.T) storage.Tx

	tx     storage.Tx
	issuer id.UserID
}

func (s *Suite) SetupTest() {
	s.Require().NotNil(s.Open, "storetest.Suite needs Open")
	s.tx = s.Open(s.T())
	s.issuer = id.UserID(uuid.New())
}

func (s *Suite) run(fn func(ctx context.Context, st storage.Stores) error) error {
	return s.tx.RunInTx(context.Background(), fn)
}

func (s *Suite) newPass(token string, status passmodels.Status, from, until time.Time) *passmodels.Pass {
	p, err := passmodels.NewPass(id.NewPassID(), token, "Ada Lovelace", status, from, until, s.issuer, base)
	s.Require().NoError(err)
	return p
}

func (s *Suite) create(p *passmodels.Pass) {
	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		return st.Passes.Create(ctx, p)
	}))
}

func (s *Suite) load(passID id.PassID) *passmodels.Pass {
	var out *passmodels.Pass
	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		var err error
		out, err = st.Passes.FindByID(ctx, passID)
		return err
	}))
	return out
}

func (s *Suite) TestPassRoundTrip() {
	p := s.newPass("tok-roundtrip", passmodels.StatusActive, base, base.Add(8*time.Hour))
	p.HolderOrg = "Analytical Engines"
	p.HolderEmail = "sealed-email"
	p.PhotoRef = "photos/ada.jpg"
	p.Notes = "escort required"
	s.create(p)

	got := s.load(p.ID)
	s.Equal(p.ID, got.ID)
	s.Equal("tok-roundtrip", got.Token)
	s.Equal("Analytical Engines", got.HolderOrg)
	s.Equal("sealed-email", got.HolderEmail)
	s.Equal("", got.HolderPhone)
	s.Equal(passmodels.StatusActive, got.Status)
	s.True(got.ValidFrom.Equal(p.ValidFrom))
	s.True(got.ValidUntil.Equal(p.ValidUntil))
	s.Equal(s.issuer, got.IssuedBy)
	s.Nil(got.ExpiryNotifiedAt)
	s.Nil(got.ContactScrubbedAt)

	var byToken *passmodels.Pass
	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		var err error
		byToken, err = st.Passes.FindByTokenForUpdate(ctx, "tok-roundtrip")
		return err
	}))
	s.Equal(p.ID, byToken.ID)
}

func (s *Suite) TestNotFound() {
	err := s.run(func(ctx context.Context, st storage.Stores) error {
		_, err := st.Passes.FindByID(ctx, id.NewPassID())
		return err
	})
	s.ErrorIs(err, sentinel.ErrNotFound)

	err = s.run(func(ctx context.Context, st storage.Stores) error {
		_, err := st.Passes.FindByTokenForUpdate(ctx, "missing")
		return err
	})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *Suite) TestDuplicateTokenConflicts() {
	s.create(s.newPass("tok-dup", passmodels.StatusActive, base, base.Add(time.Hour)))

	err := s.run(func(ctx context.Context, st storage.Stores) error {
		return st.Passes.Create(ctx, s.newPass("tok-dup", passmodels.StatusActive, base, base.Add(time.Hour)))
	})
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *Suite) TestTransitionStatusIsConditional() {
	p := s.newPass("tok-transition", passmodels.StatusPending, base, base.Add(time.Hour))
	s.create(p)

	var applied bool
	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		var err error
		applied, err = st.Passes.TransitionStatus(ctx, p.ID, passmodels.StatusActive, passmodels.StatusRevoked, base)
		return err
	}))
	s.False(applied, "row is not in the from state")

	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		var err error
		applied, err = st.Passes.TransitionStatus(ctx, p.ID, passmodels.StatusPending, passmodels.StatusActive, base.Add(time.Minute))
		return err
	}))
	s.True(applied)

	got := s.load(p.ID)
	s.Equal(passmodels.StatusActive, got.Status)
	s.True(got.UpdatedAt.Equal(base.Add(time.Minute)))
}

func (s *Suite) TestFailedTransactionRollsBack() {
	p := s.newPass("tok-rollback", passmodels.StatusActive, base, base.Add(time.Hour))
	s.create(p)

	err := s.run(func(ctx context.Context, st storage.Stores) error {
		if err := st.Passes.Create(ctx, s.newPass("tok-never", passmodels.StatusActive, base, base.Add(time.Hour))); err != nil {
			return err
		}
		if _, err := st.Passes.TransitionStatus(ctx, p.ID, passmodels.StatusActive, passmodels.StatusRevoked, base); err != nil {
			return err
		}
		if err := st.Visits.Insert(ctx, presencemodels.NewVisit(p.ID, base)); err != nil {
			return err
		}
		if _, err := st.Audit.LastHash(ctx, auditmodels.EntityPass, p.ID.String()); err != nil {
			return err
		}
		if err := st.Audit.Append(ctx, s.entry(auditmodels.EntityPass, p.ID.String(), "", "h1", base)); err != nil {
			return err
		}
		return errAbort
	})
	s.ErrorIs(err, errAbort)

	s.Equal(passmodels.StatusActive, s.load(p.ID).Status)
	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		_, err := st.Passes.FindByTokenForUpdate(ctx, "tok-never")
		s.ErrorIs(err, sentinel.ErrNotFound)

		n, err := st.Visits.CountOpen(ctx, p.ID)
		s.Require().NoError(err)
		s.Zero(n)

		entries, err := st.Audit.List(ctx, auditmodels.Filter{})
		s.Require().NoError(err)
		s.Empty(entries)
		return nil
	}))
}

func (s *Suite) TestCancelledContextIsRejected() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.tx.RunInTx(ctx, func(context.Context, storage.Stores) error {
		called = true
		return nil
	})
	s.Error(err)
	s.False(called)
}

func (s *Suite) TestAtMostOneOpenVisit() {
	p := s.newPass("tok-visit", passmodels.StatusActive, base, base.Add(8*time.Hour))
	s.create(p)

	first := presencemodels.NewVisit(p.ID, base.Add(time.Hour))
	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		return st.Visits.Insert(ctx, first)
	}))

	err := s.run(func(ctx context.Context, st storage.Stores) error {
		return st.Visits.Insert(ctx, presencemodels.NewVisit(p.ID, base.Add(2*time.Hour)))
	})
	s.ErrorIs(err, sentinel.ErrConflict)

	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		open, err := st.Visits.FindOpen(ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(first.ID, open.ID)
		s.True(open.EntryAt.Equal(first.EntryAt))
		return st.Visits.Close(ctx, first.ID, base.Add(90*time.Minute))
	}))

	err = s.run(func(ctx context.Context, st storage.Stores) error {
		return st.Visits.Close(ctx, first.ID, base.Add(2*time.Hour))
	})
	s.ErrorIs(err, sentinel.ErrConflict, "closing twice")

	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		_, err := st.Visits.FindOpen(ctx, p.ID)
		s.ErrorIs(err, sentinel.ErrNotFound)

		// A closed visit frees the slot.
		return st.Visits.Insert(ctx, presencemodels.NewVisit(p.ID, base.Add(3*time.Hour)))
	}))
}

func (s *Suite) TestListOpenOrdersByEntry() {
	late := s.newPass("tok-late", passmodels.StatusActive, base, base.Add(8*time.Hour))
	early := s.newPass("tok-early", passmodels.StatusActive, base, base.Add(8*time.Hour))
	gone := s.newPass("tok-gone", passmodels.StatusActive, base, base.Add(8*time.Hour))
	for _, p := range []*passmodels.Pass{late, early, gone} {
		s.create(p)
	}
	goneVisit := presencemodels.NewVisit(gone.ID, base)
	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		if err := st.Visits.Insert(ctx, presencemodels.NewVisit(late.ID, base.Add(2*time.Hour))); err != nil {
			return err
		}
		if err := st.Visits.Insert(ctx, presencemodels.NewVisit(early.ID, base.Add(time.Hour))); err != nil {
			return err
		}
		if err := st.Visits.Insert(ctx, goneVisit); err != nil {
			return err
		}
		return st.Visits.Close(ctx, goneVisit.ID, base.Add(30*time.Minute))
	}))

	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		open, err := st.Visits.ListOpen(ctx, 10)
		s.Require().NoError(err)
		s.Require().Len(open, 2)
		s.Equal(early.ID, open[0].PassID)
		s.Equal(late.ID, open[1].PassID)

		n, err := st.Visits.CountOpen(ctx, gone.ID)
		s.Require().NoError(err)
		s.Zero(n)
		return nil
	}))
}

func (s *Suite) entry(entityType auditmodels.EntityType, entityID, prev, hash string, at time.Time) *auditmodels.Entry {
	actor := s.issuer
	return &auditmodels.Entry{
		ID:         id.NewAuditID(),
		ActorID:    &actor,
		Action:     auditmodels.ActionScan,
		EntityType: entityType,
		EntityID:   entityID,
		Changes:    []byte(`{"outcome":"DENIED"}`),
		Origin:     &auditmodels.Origin{IP: "10.0.0.7", UserAgent: "gate-3", RequestID: "req-1"},
		Timestamp:  at,
		PrevHash:   prev,
		Hash:       hash,
	}
}

func (s *Suite) TestAuditChainHeads() {
	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		head, err := st.Audit.LastHash(ctx, auditmodels.EntityPass, "p-1")
		s.Require().NoError(err)
		s.Empty(head, "new chain")

		first := s.entry(auditmodels.EntityPass, "p-1", "", "a1", base)
		s.Require().NoError(st.Audit.Append(ctx, first))
		other := s.entry(auditmodels.EntityPass, "p-2", "", "b1", base.Add(time.Second))
		s.Require().NoError(st.Audit.Append(ctx, other))
		second := s.entry(auditmodels.EntityPass, "p-1", "a1", "a2", base.Add(2*time.Second))
		s.Require().NoError(st.Audit.Append(ctx, second))
		s.Less(first.Seq, other.Seq)
		s.Less(other.Seq, second.Seq)
		return nil
	}))

	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		head, err := st.Audit.LastHash(ctx, auditmodels.EntityPass, "p-1")
		s.Require().NoError(err)
		s.Equal("a2", head)

		head, err = st.Audit.LastHash(ctx, auditmodels.EntityVisit, "p-1")
		s.Require().NoError(err)
		s.Empty(head, "chains are keyed by entity type too")
		return nil
	}))
}

func (s *Suite) TestAuditListFilters() {
	other := id.UserID(uuid.New())
	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		for i, e := range []*auditmodels.Entry{
			s.entry(auditmodels.EntityPass, "p-1", "", "a1", base),
			s.entry(auditmodels.EntityPass, "p-1", "a1", "a2", base.Add(time.Hour)),
			s.entry(auditmodels.EntityVisit, "v-1", "", "v1", base.Add(2*time.Hour)),
		} {
			if i == 2 {
				e.ActorID = &other
				e.Changes = nil
				e.Origin = nil
			}
			if err := st.Audit.Append(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}))

	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		all, err := st.Audit.List(ctx, auditmodels.Filter{})
		s.Require().NoError(err)
		s.Require().Len(all, 3)
		s.Equal("a1", all[0].Hash)
		s.JSONEq(`{"outcome":"DENIED"}`, string(all[0].Changes))
		s.Require().NotNil(all[0].Origin)
		s.Equal("gate-3", all[0].Origin.UserAgent)
		s.Nil(all[2].Origin)
		s.Empty(all[2].Changes)

		byEntity, err := st.Audit.List(ctx, auditmodels.Filter{EntityType: auditmodels.EntityPass, EntityID: "p-1"})
		s.Require().NoError(err)
		s.Len(byEntity, 2)

		byActor, err := st.Audit.List(ctx, auditmodels.Filter{ActorID: &other})
		s.Require().NoError(err)
		s.Require().Len(byActor, 1)
		s.Equal("v1", byActor[0].Hash)

		window, err := st.Audit.List(ctx, auditmodels.Filter{From: base.Add(30 * time.Minute), To: base.Add(90 * time.Minute)})
		s.Require().NoError(err)
		s.Require().Len(window, 1)
		s.Equal("a2", window[0].Hash)

		limited, err := st.Audit.List(ctx, auditmodels.Filter{Limit: 2})
		s.Require().NoError(err)
		s.Len(limited, 2)
		return nil
	}))
}

func (s *Suite) TestAnonymizeBeforeKeepsHashes() {
	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		for i := range 3 {
			at := base.Add(time.Duration(i) * time.Hour)
			if err := st.Audit.Append(ctx, s.entry(auditmodels.EntityPass, "p-1", "", string(rune('a'+i)), at)); err != nil {
				return err
			}
		}
		return nil
	}))

	anonymizedAt := base.Add(48 * time.Hour)
	var n int
	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		var err error
		n, err = st.Audit.AnonymizeBefore(ctx, base.Add(90*time.Minute), 1, anonymizedAt)
		return err
	}))
	s.Equal(1, n, "limit bounds the batch")

	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		var err error
		n, err = st.Audit.AnonymizeBefore(ctx, base.Add(90*time.Minute), 10, anonymizedAt)
		return err
	}))
	s.Equal(1, n, "only the remaining old entry")

	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		all, err := st.Audit.List(ctx, auditmodels.Filter{})
		s.Require().NoError(err)
		s.Require().Len(all, 3)
		for _, e := range all[:2] {
			s.Nil(e.ActorID)
			s.Nil(e.Origin)
			s.Require().NotNil(e.AnonymizedAt)
			s.True(e.AnonymizedAt.Equal(anonymizedAt))
			s.NotEmpty(e.Hash)
		}
		s.NotNil(all[2].ActorID)
		s.Nil(all[2].AnonymizedAt)
		return nil
	}))
}

func (s *Suite) TestExpiryAndRetentionQueries() {
	soon := s.newPass("tok-soon", passmodels.StatusActive, base, base.Add(6*time.Hour))
	later := s.newPass("tok-later", passmodels.StatusActive, base, base.Add(72*time.Hour))
	pending := s.newPass("tok-pending", passmodels.StatusPending, base, base.Add(6*time.Hour))
	ended := s.newPass("tok-ended", passmodels.StatusActive, base.Add(-72*time.Hour), base.Add(-48*time.Hour))
	ended.Status = passmodels.StatusExpired
	ended.HolderPhone = "sealed-phone"
	bare := s.newPass("tok-bare", passmodels.StatusActive, base.Add(-72*time.Hour), base.Add(-48*time.Hour))
	bare.Status = passmodels.StatusExpired
	for _, p := range []*passmodels.Pass{soon, later, pending, ended, bare} {
		s.create(p)
	}

	s.Require().NoError(s.run(func(ctx context.Context, st storage.Stores) error {
		expiring, err := st.Passes.ListExpiring(ctx, base, base.Add(24*time.Hour), 10)
		s.Require().NoError(err)
		s.Require().Len(expiring, 1)
		s.Equal(soon.ID, expiring[0].ID)

		applied, err := st.Passes.MarkExpiryNotified(ctx, soon.ID, base)
		s.Require().NoError(err)
		s.True(applied)
		applied, err = st.Passes.MarkExpiryNotified(ctx, soon.ID, base)
		s.Require().NoError(err)
		s.False(applied)

		expiring, err = st.Passes.ListExpiring(ctx, base, base.Add(24*time.Hour), 10)
		s.Require().NoError(err)
		s.Empty(expiring)

		endedBefore, err := st.Passes.ListEndedBefore(ctx, base, 10)
		s.Require().NoError(err)
		s.Require().Len(endedBefore, 1, "passes without contact fields are skipped")
		s.Equal(ended.ID, endedBefore[0].ID)

		applied, err = st.Passes.ScrubContact(ctx, ended.ID, base)
		s.Require().NoError(err)
		s.True(applied)
		applied, err = st.Passes.ScrubContact(ctx, ended.ID, base)
		s.Require().NoError(err)
		s.False(applied)

		endedBefore, err = st.Passes.ListEndedBefore(ctx, base, 10)
		s.Require().NoError(err)
		s.Empty(endedBefore)
		return nil
	}))

	got := s.load(ended.ID)
	s.Empty(got.HolderPhone)
	s.Require().NotNil(got.ContactScrubbedAt)
	s.True(got.ContactScrubbedAt.Equal(base))
	s.Require().NotNil(s.load(soon.ID).ExpiryNotifiedAt)
}
