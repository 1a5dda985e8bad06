package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"passgate/internal/permission"
	"passgate/internal/scan/service"
	dErrors "passgate/pkg/domain-errors"
	"passgate/pkg/platform/httputil"
	"passgate/pkg/requestcontext"
)

// maxTokenLen bounds the scanned token; issued tokens are 43 characters.
const maxTokenLen = 256

// Failure reasons shown on the terminal when no verdict could be reached.
const (
	reasonBadRequest  = "unreadable credential"
	reasonForbidden   = "not permitted to scan"
	reasonUnavailable = "try again"
	reasonError       = "system error"
)

// Service defines the interface for scan verification.
type Service interface {
	Verify(ctx context.Context, actor permission.Actor, token string) (*service.Outcome, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/scan", h.HandleScan)
}

// ScanRequest is the body of POST /scan.
type ScanRequest struct {
	Token string `json:"token"`
}

func (r *ScanRequest) Validate() error {
	r.Token = strings.TrimSpace(r.Token)
	if r.Token == "" {
		return dErrors.New(dErrors.CodeValidation, "token is required")
	}
	if len(r.Token) > maxTokenLen {
		return dErrors.New(dErrors.CodeValidation, "token is too long")
	}
	return nil
}

// HandleScan handles POST /scan. The terminal always receives a
// {status, reason} body, including on failures.
func (h *Handler) HandleScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var req ScanRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 4096))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.WarnContext(ctx, "failed to decode scan request",
			"request_id", requestID,
			"error", err,
		)
		writeDenied(ctx, w, http.StatusBadRequest, reasonBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		h.logger.WarnContext(ctx, "invalid scan request",
			"request_id", requestID,
			"error", err,
		)
		writeDenied(ctx, w, http.StatusBadRequest, reasonBadRequest)
		return
	}

	outcome, err := h.service.Verify(ctx, permission.ActorFromContext(ctx), req.Token)
	if err != nil {
		switch dErrors.CodeOf(err) {
		case dErrors.CodeForbidden:
			writeDenied(ctx, w, http.StatusForbidden, reasonForbidden)
		case dErrors.CodeUnavailable, dErrors.CodeTimeout:
			writeDenied(ctx, w, http.StatusServiceUnavailable, reasonUnavailable)
		default:
			writeDenied(ctx, w, http.StatusInternalServerError, reasonError)
		}
		return
	}
	httputil.WriteJSON(w, http.StatusOK, outcome)
}

func writeDenied(ctx context.Context, w http.ResponseWriter, status int, reason string) {
	httputil.WriteJSON(w, status, service.Outcome{
		Status:    service.StatusDenied,
		Reason:    reason,
		ScannedAt: requestcontext.Now(ctx),
	})
}
