package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"passgate/internal/audit/chain"
	"passgate/internal/audit/models"
	"passgate/internal/audit/service"
	"passgate/internal/permission"
	id "passgate/pkg/domain"
	dErrors "passgate/pkg/domain-errors"
	"passgate/pkg/platform/httputil"
	"passgate/pkg/requestcontext"
)

// Service defines the audit operations exposed over HTTP.
type Service interface {
	Query(ctx context.Context, actor permission.Actor, f models.Filter) ([]*models.Entry, error)
	Verify(ctx context.Context, actor permission.Actor, entityType models.EntityType, entityID string) (*chain.Result, error)
	ExportUser(ctx context.Context, actor permission.Actor, userID id.UserID) (*service.Export, error)
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

// Register mounts audit endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit", h.HandleQuery)
	r.Get("/audit/verify", h.HandleVerify)
	r.Get("/audit/users/{id}/export", h.HandleExportUser)
}

// QueryResponse is the body of GET /audit.
type QueryResponse struct {
	Entries []*models.Entry `json:"entries"`
	Count   int             `json:"count"`
}

// HandleQuery handles GET /audit?entity_type&entity_id&from&to&limit.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	f, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.service.Query(ctx, permission.ActorFromContext(ctx), f)
	if err != nil {
		h.logFailure(ctx, "audit query failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, QueryResponse{Entries: entries, Count: len(entries)})
}

// HandleVerify handles GET /audit/verify?entity_type&entity_id.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	q := r.URL.Query()

	result, err := h.service.Verify(ctx, permission.ActorFromContext(ctx),
		models.EntityType(q.Get("entity_type")), q.Get("entity_id"))
	if err != nil {
		h.logFailure(ctx, "audit verification failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleExportUser handles GET /audit/users/{id}/export.
func (h *Handler) HandleExportUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	userID, err := id.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	export, err := h.service.ExportUser(ctx, permission.ActorFromContext(ctx), userID)
	if err != nil {
		h.logFailure(ctx, "audit export failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, export)
}

func (h *Handler) logFailure(ctx context.Context, msg, requestID string, err error) {
	level := slog.LevelWarn
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestID,
		"error", err,
	)
}

func parseFilter(r *http.Request) (models.Filter, error) {
	q := r.URL.Query()
	f := models.Filter{
		EntityType: models.EntityType(q.Get("entity_type")),
		EntityID:   q.Get("entity_id"),
	}
	var err error
	if f.From, err = parseTime(q.Get("from"), "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTime(q.Get("to"), "to"); err != nil {
		return f, err
	}
	if raw := q.Get("limit"); raw != "" {
		f.Limit, err = strconv.Atoi(raw)
		if err != nil || f.Limit < 0 {
			return f, dErrors.New(dErrors.CodeValidation, "limit must be a non-negative integer")
		}
	}
	return f, nil
}

func parseTime(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, field+" must be an RFC 3339 timestamp")
	}
	return t.UTC(), nil
}
