package handler

import (
	"strings"
	"time"

	"passgate/internal/pass/models"
	"passgate/internal/pass/service"
	dErrors "passgate/pkg/domain-errors"
)

// IssuePassRequest is the body of POST /passes.
type IssuePassRequest struct {
	HolderName  string     `json:"holder_name"`
	HolderOrg   string     `json:"holder_org"`
	HolderEmail string     `json:"holder_email"`
	HolderPhone string     `json:"holder_phone"`
	PhotoRef    string     `json:"photo_ref"`
	Notes       string     `json:"notes"`
	ValidFrom   *time.Time `json:"valid_from"`
	ValidUntil  *time.Time `json:"valid_until"`
	Status      string     `json:"status"`
}

// Validate implements httputil.Validatable.
func (r *IssuePassRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.HolderName = strings.TrimSpace(r.HolderName)
	r.HolderOrg = strings.TrimSpace(r.HolderOrg)
	r.HolderEmail = strings.TrimSpace(r.HolderEmail)
	r.HolderPhone = strings.TrimSpace(r.HolderPhone)
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))

	if r.HolderName == "" {
		return dErrors.New(dErrors.CodeValidation, "holder_name is required")
	}
	if r.ValidUntil == nil {
		return dErrors.New(dErrors.CodeValidation, "valid_until is required")
	}
	if r.HolderEmail != "" && !strings.Contains(r.HolderEmail, "@") {
		return dErrors.New(dErrors.CodeValidation, "holder_email is not an email address")
	}
	return nil
}

func (r *IssuePassRequest) toService() service.IssueRequest {
	req := service.IssueRequest{
		HolderName:  r.HolderName,
		HolderOrg:   r.HolderOrg,
		HolderEmail: r.HolderEmail,
		HolderPhone: r.HolderPhone,
		PhotoRef:    r.PhotoRef,
		Notes:       r.Notes,
		ValidUntil:  r.ValidUntil.UTC(),
		Status:      models.Status(r.Status),
	}
	if r.ValidFrom != nil {
		req.ValidFrom = r.ValidFrom.UTC()
	}
	return req
}

// RevokePassRequest is the optional body of POST /passes/{id}/revoke.
type RevokePassRequest struct {
	Reason string `json:"reason"`
}

func (r *RevokePassRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	return nil
}
