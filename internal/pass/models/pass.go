package models

import (
	"strings"
	"time"

	id "passgate/pkg/domain"
	dErrors "passgate/pkg/domain-errors"
)

// Pass is one issued, time-bounded access credential.
//
// Invariants:
//   - Token is unique across every pass ever issued
//   - ValidFrom <= ValidUntil
//   - Status transitions: pending -> active, pending -> revoked,
//     active -> expired, active -> revoked; expired and revoked are terminal
//   - HolderEmail and HolderPhone hold PII guard ciphertext, never plaintext
type Pass struct {
	ID                id.PassID  `json:"id"`
	Token             string     `json:"-"`
	HolderName        string     `json:"holder_name"`
	HolderOrg         string     `json:"holder_org,omitempty"`
	HolderEmail       string     `json:"-"`
	HolderPhone       string     `json:"-"`
	PhotoRef          string     `json:"photo_ref,omitempty"`
	Status            Status     `json:"status"`
	ValidFrom         time.Time  `json:"valid_from"`
	ValidUntil        time.Time  `json:"valid_until"`
	Notes             string     `json:"notes,omitempty"`
	IssuedBy          id.UserID  `json:"issued_by"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	ExpiryNotifiedAt  *time.Time `json:"expiry_notified_at,omitempty"`
	ContactScrubbedAt *time.Time `json:"contact_scrubbed_at,omitempty"`
}

// NewPass validates invariants and builds a pass in the given initial status.
func NewPass(passID id.PassID, token, holderName string, status Status, validFrom, validUntil time.Time, issuedBy id.UserID, now time.Time) (*Pass, error) {
	holderName = strings.TrimSpace(holderName)
	if holderName == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "holder name is required")
	}
	if len(holderName) > 200 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "holder name must be at most 200 characters")
	}
	if token == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "token is required")
	}
	if status != StatusPending && status != StatusActive {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "pass must start pending or active")
	}
	if validFrom.IsZero() || validUntil.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "validity window is required")
	}
	if validFrom.After(validUntil) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "valid_from must not be after valid_until")
	}
	now = now.UTC()
	return &Pass{
		ID:         passID,
		Token:      token,
		HolderName: holderName,
		Status:     status,
		ValidFrom:  validFrom.UTC(),
		ValidUntil: validUntil.UTC(),
		IssuedBy:   issuedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Evaluate classifies the pass at now. It never mutates the pass; when the
// second return value is true the caller must persist active -> expired.
// The window is inclusive at both ends.
func (p *Pass) Evaluate(now time.Time) (Verdict, bool) {
	switch p.Status {
	case StatusRevoked:
		return VerdictRevoked, false
	case StatusExpired:
		return VerdictExpired, false
	case StatusPending:
		return VerdictInactive, false
	}
	if now.Before(p.ValidFrom) {
		return VerdictNotYetValid, false
	}
	if now.After(p.ValidUntil) {
		return VerdictExpired, true
	}
	return VerdictValid, false
}

// CanActivate checks pending -> active.
// Use with ApplyActivation in Execute callbacks.
func (p *Pass) CanActivate() error {
	if !p.Status.CanTransitionTo(StatusActive) {
		return dErrors.New(dErrors.CodeInvalidState, "pass is "+string(p.Status)+", only pending passes can be activated")
	}
	return nil
}

// ApplyActivation transitions the pass to active. Call CanActivate first.
func (p *Pass) ApplyActivation(now time.Time) {
	p.Status = StatusActive
	p.UpdatedAt = now.UTC()
}

// CanRevoke checks pending|active -> revoked.
func (p *Pass) CanRevoke() error {
	if !p.Status.CanTransitionTo(StatusRevoked) {
		return dErrors.New(dErrors.CodeInvalidState, "pass is already "+string(p.Status))
	}
	return nil
}

// ApplyRevocation transitions the pass to revoked. Call CanRevoke first.
func (p *Pass) ApplyRevocation(now time.Time) {
	p.Status = StatusRevoked
	p.UpdatedAt = now.UTC()
}

// ApplyExpiry mirrors a persisted active -> expired transition in memory.
func (p *Pass) ApplyExpiry(now time.Time) {
	p.Status = StatusExpired
	p.UpdatedAt = now.UTC()
}

// HasContact reports whether encrypted contact fields are still stored.
func (p *Pass) HasContact() bool {
	return p.HolderEmail != "" || p.HolderPhone != ""
}

// Snapshot is the PII-free view of a pass written into audit change payloads.
type Snapshot struct {
	Status     Status    `json:"status"`
	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`
	HasContact bool      `json:"has_contact"`
}

func (p *Pass) Snapshot() Snapshot {
	return Snapshot{
		Status:     p.Status,
		ValidFrom:  p.ValidFrom,
		ValidUntil: p.ValidUntil,
		HasContact: p.HasContact(),
	}
}

// Clone returns a deep copy safe to hand out of a store.
func (p *Pass) Clone() *Pass {
	c := *p
	if p.ExpiryNotifiedAt != nil {
		t := *p.ExpiryNotifiedAt
		c.ExpiryNotifiedAt = &t
	}
	if p.ContactScrubbedAt != nil {
		t := *p.ContactScrubbedAt
		c.ContactScrubbedAt = &t
	}
	return &c
}
