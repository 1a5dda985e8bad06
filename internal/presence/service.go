package presence

import (
	"context"
	"time"

	auditmodels "passgate/internal/audit/models"
	"passgate/internal/permission"
	"passgate/internal/storage"
	id "passgate/pkg/domain"
	"passgate/pkg/requestcontext"
)

// maxOccupancy bounds one occupancy listing.
const maxOccupancy = 1000

// Authorizer is the slice of the permission engine the service needs.
type Authorizer interface {
	Authorize(ctx context.Context, actor permission.Actor, perm permission.Permission, entityType auditmodels.EntityType, entityID string) error
}

// Occupant is one person currently inside.
type Occupant struct {
	VisitID       id.VisitID `json:"visit_id"`
	PassID        id.PassID  `json:"pass_id"`
	HolderName    string     `json:"holder_name"`
	HolderOrg     string     `json:"holder_org,omitempty"`
	EntryAt       time.Time  `json:"entry_at"`
	MinutesInside int        `json:"minutes_inside"`
}

// Service answers read-only presence questions for operators.
type Service struct {
	tx      storage.Tx
	authz   Authorizer
	tracker *Tracker
}

func NewService(tx storage.Tx, authz Authorizer, tracker *Tracker) *Service {
	return &Service{tx: tx, authz: authz, tracker: tracker}
}

// Occupancy lists open visits, longest inside first.
func (s *Service) Occupancy(ctx context.Context, actor permission.Actor) ([]Occupant, error) {
	if err := s.authz.Authorize(ctx, actor, permission.ViewPass, auditmodels.EntityVisit, ""); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	out := []Occupant{}
	err := s.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		visits, err := stores.Visits.ListOpen(ctx, maxOccupancy)
		if err != nil {
			return err
		}
		for _, v := range visits {
			pass, err := stores.Passes.FindByID(ctx, v.PassID)
			if err != nil {
				return err
			}
			minutes := 0
			if elapsed := now.Sub(v.EntryAt); elapsed > 0 {
				minutes = int(elapsed / time.Minute)
			}
			out = append(out, Occupant{
				VisitID:       v.ID,
				PassID:        v.PassID,
				HolderName:    pass.HolderName,
				HolderOrg:     pass.HolderOrg,
				EntryAt:       v.EntryAt,
				MinutesInside: minutes,
			})
		}
		return nil
	})
	if err != nil {
		return nil, storage.Translate(err, "failed to list occupancy")
	}
	return out, nil
}

// OpenCount exposes the tracker's invariant check for one pass.
func (s *Service) OpenCount(ctx context.Context, passID id.PassID) (int, error) {
	var n int
	err := s.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		var err error
		n, err = s.tracker.OpenCount(ctx, stores, passID)
		return err
	})
	return n, err
}
