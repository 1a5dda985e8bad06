package models

import (
	"encoding/json"
	"time"

	id "passgate/pkg/domain"
)

// Action is the kind of state change an entry documents.
type Action string

const (
	ActionCreate           Action = "CREATE"
	ActionActivate         Action = "ACTIVATE"
	ActionRevoke           Action = "REVOKE"
	ActionPassExpired      Action = "PASS_EXPIRED"
	ActionEntry            Action = "ENTRY"
	ActionExit             Action = "EXIT"
	ActionScan             Action = "SCAN"
	ActionPermissionDenied Action = "PERMISSION_DENIED"
	ActionPIIScrubbed      Action = "PII_SCRUBBED"
	ActionExpiryNotified   Action = "EXPIRY_NOTIFIED"
)

// EntityType names the table an entry's EntityID points into.
type EntityType string

const (
	EntityPass     EntityType = "pass"
	EntityVisit    EntityType = "visit"
	EntityAuditLog EntityType = "audit_log"
	EntityUser     EntityType = "user"
)

// Origin is the request metadata captured with an entry. Anonymization
// clears it.
type Origin struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (o *Origin) IsZero() bool {
	return o == nil || (o.IP == "" && o.UserAgent == "" && o.RequestID == "")
}

// Entry is one append-only audit record.
//
// Invariants:
//   - Never updated except by anonymization, which clears ActorID and Origin
//     and sets AnonymizedAt
//   - Hash covers everything but ActorID, Origin and AnonymizedAt, and links
//     to PrevHash, the hash of the previous entry for the same entity
type Entry struct {
	ID           id.AuditID      `json:"id"`
	Seq          int64           `json:"seq"`
	ActorID      *id.UserID      `json:"actor_id,omitempty"`
	Action       Action          `json:"action"`
	EntityType   EntityType      `json:"entity_type"`
	EntityID     string          `json:"entity_id"`
	Changes      json.RawMessage `json:"changes,omitempty"`
	Origin       *Origin         `json:"origin,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	PrevHash     string          `json:"prev_hash,omitempty"`
	Hash         string          `json:"hash"`
	AnonymizedAt *time.Time      `json:"anonymized_at,omitempty"`
}

// Clone returns a deep copy safe to hand out of a store.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.ActorID != nil {
		a := *e.ActorID
		c.ActorID = &a
	}
	if e.Origin != nil {
		o := *e.Origin
		c.Origin = &o
	}
	if e.Changes != nil {
		c.Changes = append(json.RawMessage(nil), e.Changes...)
	}
	if e.AnonymizedAt != nil {
		t := *e.AnonymizedAt
		c.AnonymizedAt = &t
	}
	return &c
}

// Change is the before/after payload of a state transition.
type Change struct {
	Before any `json:"before,omitempty"`
	After  any `json:"after,omitempty"`
}

// Filter selects entries for Query. Zero values do not constrain.
type Filter struct {
	EntityType EntityType
	EntityID   string
	ActorID    *id.UserID
	From       time.Time
	To         time.Time
	Limit      int
}

// DefaultLimit and MaxLimit bound Query page sizes.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)
