// Package notify hands advisory notification events to an external sink.
// Events are queued after the transaction they describe commits; losing one
// never affects access decisions.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "passgate/pkg/domain"
)

// Kind names what happened.
type Kind string

const (
	KindPassCreated  Kind = "pass_created"
	KindPassExpiring Kind = "pass_expiring"
	KindEntry        Kind = "entry"
	KindExit         Kind = "exit"
)

// Event is the unit handed to a Sink. Payload never carries contact PII.
type Event struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	PassID     id.PassID      `json:"pass_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func NewEvent(kind Kind, passID id.PassID, occurredAt time.Time, payload map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		PassID:     passID,
		Payload:    payload,
		OccurredAt: occurredAt.UTC(),
	}
}

// Sink delivers events to the notification collaborator.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}
