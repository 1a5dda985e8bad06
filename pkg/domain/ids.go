// Package domain holds the typed identifiers shared across passgate modules.
//
// Each identifier wraps a UUID in its own named type so a PassID can never be
// passed where a VisitID is expected. Parse functions are the trust boundary:
// they reject empty, malformed and nil UUIDs with CodeInvalidInput.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "passgate/pkg/domain-errors"
)

type (
	UserID  uuid.UUID
	PassID  uuid.UUID
	VisitID uuid.UUID
	AuditID uuid.UUID
)

func (id UserID) String() string  { return uuid.UUID(id).String() }
func (id PassID) String() string  { return uuid.UUID(id).String() }
func (id VisitID) String() string { return uuid.UUID(id).String() }
func (id AuditID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id PassID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id VisitID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id AuditID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// Text marshaling keeps identifiers as canonical UUID strings in JSON.

func (id UserID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id PassID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id VisitID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id AuditID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *UserID) UnmarshalText(b []byte) error  { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *PassID) UnmarshalText(b []byte) error  { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *VisitID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *AuditID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

func NewPassID() PassID   { return PassID(uuid.New()) }
func NewVisitID() VisitID { return VisitID(uuid.New()) }
func NewAuditID() AuditID { return AuditID(uuid.New()) }

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user ID")
	return UserID(u), err
}

func ParsePassID(s string) (PassID, error) {
	u, err := parseUUID(s, "pass ID")
	return PassID(u), err
}

func ParseVisitID(s string) (VisitID, error) {
	u, err := parseUUID(s, "visit ID")
	return VisitID(u), err
}

func ParseAuditID(s string) (AuditID, error) {
	u, err := parseUUID(s, "audit ID")
	return AuditID(u), err
}

// parseUUID enforces the shared identifier invariant: non-empty, well formed
// and not the nil UUID.
func parseUUID(s, label string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}
