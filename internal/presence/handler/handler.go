package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"passgate/internal/permission"
	"passgate/internal/presence"
	"passgate/pkg/platform/httputil"
	"passgate/pkg/requestcontext"
)

// Service defines the presence read model exposed over HTTP.
type Service interface {
	Occupancy(ctx context.Context, actor permission.Actor) ([]presence.Occupant, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/presence", h.HandleOccupancy)
}

// OccupancyResponse is the body of GET /presence.
type OccupancyResponse struct {
	Inside []presence.Occupant `json:"inside"`
	Count  int                 `json:"count"`
}

// HandleOccupancy handles GET /presence.
func (h *Handler) HandleOccupancy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	occupants, err := h.service.Occupancy(ctx, permission.ActorFromContext(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "occupancy lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, OccupancyResponse{Inside: occupants, Count: len(occupants)})
}
