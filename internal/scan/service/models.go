package service

import (
	"time"

	passmodels "passgate/internal/pass/models"
	id "passgate/pkg/domain"
)

// Status is the verdict shown on the guard terminal.
type Status string

const (
	StatusAllowedEntry Status = "ALLOWED_ENTRY"
	StatusAllowedExit  Status = "ALLOWED_EXIT"
	StatusDenied       Status = "DENIED"
)

// Denial reasons.
const (
	ReasonNotFound    = "not found"
	ReasonRevoked     = "revoked"
	ReasonNotYetValid = "not yet valid"
	ReasonExpired     = "expired"
	ReasonInactive    = "inactive"
)

// Outcome is the result of one scan. Holder fields are set on both allowed
// verdicts; ValidUntil only on ALLOWED_ENTRY, DurationMinutes only on
// ALLOWED_EXIT.
type Outcome struct {
	Status          Status     `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	PassID          *id.PassID `json:"-"`
	HolderName      string     `json:"holder_name,omitempty"`
	HolderOrg       string     `json:"holder_org,omitempty"`
	PhotoRef        string     `json:"photo_ref,omitempty"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	ScannedAt       time.Time  `json:"scanned_at"`
}

func denied(reason string, at time.Time) *Outcome {
	return &Outcome{Status: StatusDenied, Reason: reason, ScannedAt: at}
}

// reasonFor maps a non-valid verdict to its denial reason.
func reasonFor(v passmodels.Verdict) string {
	switch v {
	case passmodels.VerdictRevoked:
		return ReasonRevoked
	case passmodels.VerdictNotYetValid:
		return ReasonNotYetValid
	case passmodels.VerdictExpired:
		return ReasonExpired
	default:
		return ReasonInactive
	}
}

// scanRecord is the SCAN audit payload.
type scanRecord struct {
	Outcome   Status      `json:"outcome"`
	Reason    string      `json:"reason,omitempty"`
	ScannedAt time.Time   `json:"scanned_at"`
	VisitID   *id.VisitID `json:"visit_id,omitempty"`
	EntryAt   *time.Time  `json:"entry_at,omitempty"`
	ExitAt    *time.Time  `json:"exit_at,omitempty"`
	Duration  *int        `json:"duration_minutes,omitempty"`
}
