package service

import (
	"time"

	"passgate/internal/pass/models"
	id "passgate/pkg/domain"
)

// IssueRequest carries plaintext holder data; contact fields are encrypted
// before they reach the store. A zero ValidFrom means now.
type IssueRequest struct {
	HolderName  string
	HolderOrg   string
	HolderEmail string
	HolderPhone string
	PhotoRef    string
	Notes       string
	ValidFrom   time.Time
	ValidUntil  time.Time
	Status      models.Status
}

// PassSummary is the outward view of a pass. Contact fields are plaintext
// only for actors allowed to view sensitive data, masked otherwise. Token is
// set once, in the Issue response.
type PassSummary struct {
	ID          id.PassID     `json:"id"`
	Token       string        `json:"token,omitempty"`
	HolderName  string        `json:"holder_name"`
	HolderOrg   string        `json:"holder_org,omitempty"`
	HolderEmail string        `json:"holder_email,omitempty"`
	HolderPhone string        `json:"holder_phone,omitempty"`
	PhotoRef    string        `json:"photo_ref,omitempty"`
	Status      models.Status `json:"status"`
	ValidFrom   time.Time     `json:"valid_from"`
	ValidUntil  time.Time     `json:"valid_until"`
	Notes       string        `json:"notes,omitempty"`
	IssuedBy    id.UserID     `json:"issued_by"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Warning     string        `json:"warning,omitempty"`
}
