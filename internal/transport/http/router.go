// Package httptransport assembles the chi router: shared middleware, the
// authenticated /api surface, and the unauthenticated operational routes.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"passgate/internal/platform/metrics"
	"passgate/internal/platform/middleware"
	"passgate/pkg/platform/httputil"
	"passgate/pkg/platform/middleware/admin"
	"passgate/pkg/platform/middleware/auth"
	"passgate/pkg/platform/middleware/metadata"
	"passgate/pkg/platform/middleware/request"
	"passgate/pkg/platform/middleware/requesttime"
)

// healthTimeout bounds all probes of one /healthz request.
const healthTimeout = 2 * time.Second

// Registrar is implemented by every domain handler.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Validator auth.JWTValidator
	// MetricsToken, when set, is required as X-Admin-Token on /metrics.
	MetricsToken string
	Health       map[string]HealthCheck
	Handlers     []Registrar
}

// NewRouter wires all endpoints. Domain routes live under /api and require a
// bearer token; /healthz and /metrics do not.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Latency(cfg.Metrics))

	r.Get("/healthz", healthHandler(cfg.Health))
	r.Group(func(r chi.Router) {
		if cfg.MetricsToken != "" {
			r.Use(admin.RequireAdminToken(cfg.MetricsToken, cfg.Logger))
		}
		r.Handle("/metrics", promhttp.Handler())
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(auth.RequireAuth(cfg.Validator, cfg.Logger))
		for _, h := range cfg.Handlers {
			h.Register(api)
		}
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				if resp.Checks == nil {
					resp.Checks = make(map[string]string)
				}
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
			}
		}
		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, resp)
	}
}
