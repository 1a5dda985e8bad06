package models

import (
	"time"

	id "passgate/pkg/domain"
)

// Visit is one presence interval of a pass. ExitAt nil means the holder is
// inside. Visits are never deleted.
type Visit struct {
	ID        id.VisitID `json:"id"`
	PassID    id.PassID  `json:"pass_id"`
	EntryAt   time.Time  `json:"entry_at"`
	ExitAt    *time.Time `json:"exit_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func NewVisit(passID id.PassID, entryAt time.Time) *Visit {
	entryAt = entryAt.UTC()
	return &Visit{
		ID:        id.NewVisitID(),
		PassID:    passID,
		EntryAt:   entryAt,
		CreatedAt: entryAt,
	}
}

func (v *Visit) IsOpen() bool { return v.ExitAt == nil }

// ApplyExit closes the visit. An exit earlier than entry is clamped to entry
// so entry <= exit always holds.
func (v *Visit) ApplyExit(now time.Time) {
	exit := now.UTC()
	if exit.Before(v.EntryAt) {
		exit = v.EntryAt
	}
	v.ExitAt = &exit
}

// DurationMinutes is the whole minutes between entry and exit, floored.
// Open visits report 0.
func (v *Visit) DurationMinutes() int {
	if v.ExitAt == nil {
		return 0
	}
	d := v.ExitAt.Sub(v.EntryAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

// Clone returns a copy safe to hand out of a store.
func (v *Visit) Clone() *Visit {
	c := *v
	if v.ExitAt != nil {
		exit := *v.ExitAt
		c.ExitAt = &exit
	}
	return &c
}
