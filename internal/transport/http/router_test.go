package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passgate/pkg/platform/middleware/auth"
	"passgate/pkg/requestcontext"
	"passgate/pkg/testutil"
)

const signingKey = "router-test-key"

type whoami struct{}

func (whoami) Register(r chi.Router) {
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if requestcontext.RequestID(ctx) == "" || requestcontext.Now(ctx).IsZero() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(requestcontext.Role(ctx)))
	})
}

func newRouter(health map[string]HealthCheck) http.Handler {
	return NewRouter(RouterConfig{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Validator:    auth.NewHS256Validator(signingKey, ""),
		MetricsToken: "ops",
		Health:       health,
		Handlers:     []Registrar{whoami{}},
	})
}

func bearer(t *testing.T, role string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.JWTClaims{
		Role:   role,
		Active: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(signingKey))
	require.NoError(t, err)
	return "Bearer " + token
}

func TestAPIRequiresBearerToken(t *testing.T) {
	router := newRouter(nil)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/api/whoami"))
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")

	req := testutil.NewRequest(t, http.MethodGet, "/api/whoami")
	req.Header.Set("Authorization", bearer(t, "guard"))
	rr = testutil.DoRequest(router, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "guard", rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestMetricsRequiresAdminToken(t *testing.T) {
	router := newRouter(nil)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := testutil.NewRequest(t, http.MethodGet, "/metrics")
	req.Header.Set("X-Admin-Token", "ops")
	rr = testutil.DoRequest(router, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHealthz(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		router := newRouter(map[string]HealthCheck{
			"store": func(context.Context) error { return nil },
		})
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
		assert.Equal(t, http.StatusOK, rr.Code)
		testutil.AssertJSONContains(t, rr, "status", "ok")
	})

	t.Run("degraded", func(t *testing.T) {
		router := newRouter(map[string]HealthCheck{
			"store": func(context.Context) error { return nil },
			"redis": func(context.Context) error { return errors.New("connection refused") },
		})
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		body := testutil.UnmarshalResponse[healthResponse](t, rr)
		assert.Equal(t, "degraded", body.Status)
		assert.Equal(t, map[string]string{"redis": "connection refused"}, body.Checks)
	})
}
