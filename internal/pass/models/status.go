package models

// Status is the persisted lifecycle state of a pass.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusRevoked},
	StatusActive:  {StatusExpired, StatusRevoked},
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusExpired, StatusRevoked:
		return true
	}
	return false
}

// IsTerminal reports expired and revoked.
func (s Status) IsTerminal() bool {
	return s == StatusExpired || s == StatusRevoked
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Verdict is the outcome of evaluating a pass at a point in time.
type Verdict string

const (
	VerdictValid       Verdict = "VALID"
	VerdictNotYetValid Verdict = "NOT_YET_VALID"
	VerdictExpired     Verdict = "EXPIRED"
	VerdictRevoked     Verdict = "REVOKED"
	VerdictInactive    Verdict = "INACTIVE"
)
