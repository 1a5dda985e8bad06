package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"passgate/internal/pass/service"
	"passgate/internal/permission"
	id "passgate/pkg/domain"
	dErrors "passgate/pkg/domain-errors"
	"passgate/pkg/platform/httputil"
	"passgate/pkg/requestcontext"
)

// Service defines the pass operations exposed over HTTP.
type Service interface {
	Issue(ctx context.Context, actor permission.Actor, req service.IssueRequest) (*service.PassSummary, error)
	Activate(ctx context.Context, actor permission.Actor, passID id.PassID) (*service.PassSummary, error)
	Revoke(ctx context.Context, actor permission.Actor, passID id.PassID, reason string) (*service.PassSummary, error)
	Get(ctx context.Context, actor permission.Actor, passID id.PassID) (*service.PassSummary, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts pass endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/passes", h.HandleIssue)
	r.Get("/passes/{id}", h.HandleGet)
	r.Post("/passes/{id}/activate", h.HandleActivate)
	r.Post("/passes/{id}/revoke", h.HandleRevoke)
}

// HandleIssue handles POST /passes.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[IssuePassRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	summary, err := h.service.Issue(ctx, permission.ActorFromContext(ctx), req.toService())
	if err != nil {
		h.fail(ctx, w, "failed to issue pass", requestID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, summary)
}

// HandleGet handles GET /passes/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	passID, err := id.ParsePassID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	summary, err := h.service.Get(ctx, permission.ActorFromContext(ctx), passID)
	if err != nil {
		h.fail(ctx, w, "failed to get pass", requestID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// HandleActivate handles POST /passes/{id}/activate.
func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	passID, err := id.ParsePassID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	summary, err := h.service.Activate(ctx, permission.ActorFromContext(ctx), passID)
	if err != nil {
		h.fail(ctx, w, "failed to activate pass", requestID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// HandleRevoke handles POST /passes/{id}/revoke. Revoking a terminal pass
// answers 200 with warning=invalid_state.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	passID, err := id.ParsePassID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[RevokePassRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	summary, err := h.service.Revoke(ctx, permission.ActorFromContext(ctx), passID, req.Reason)
	if err != nil {
		h.fail(ctx, w, "failed to revoke pass", requestID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg, requestID string, err error) {
	level := slog.LevelWarn
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestID,
		"error", err,
	)
	httputil.WriteError(w, err)
}
