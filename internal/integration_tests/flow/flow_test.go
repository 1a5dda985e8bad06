// Package flow drives the full HTTP surface over the in-memory store: issue,
// scan in and out, occupancy, revocation and audit chain verification.
package flow

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passgate/internal/audit"
	auditchain "passgate/internal/audit/chain"
	audithandler "passgate/internal/audit/handler"
	auditservice "passgate/internal/audit/service"
	passhandler "passgate/internal/pass/handler"
	passservice "passgate/internal/pass/service"
	"passgate/internal/permission"
	"passgate/internal/pii"
	"passgate/internal/presence"
	presencehandler "passgate/internal/presence/handler"
	scanhandler "passgate/internal/scan/handler"
	scanservice "passgate/internal/scan/service"
	"passgate/internal/storage/memory"
	httptransport "passgate/internal/transport/http"
	"passgate/pkg/platform/middleware/auth"
	"passgate/pkg/testutil"
)

const signingKey = "flow-test-key"

func newServer(t *testing.T) http.Handler {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	guard, err := pii.New("flow-test-pii-secret")
	require.NoError(t, err)

	recorder := audit.NewRecorder(audit.WithLogger(log))
	engine := permission.NewEngine(permission.DefaultPolicy(), store, recorder, permission.WithLogger(log))
	lifecycle := passservice.NewLifecycle(recorder)
	tracker := presence.NewTracker(recorder)

	passes := passservice.New(store, engine, recorder, lifecycle, guard, passservice.WithLogger(log))
	scans := scanservice.New(store, engine, recorder, lifecycle, tracker, scanservice.WithLogger(log))
	audits := auditservice.New(store, engine, auditservice.WithLogger(log))

	return httptransport.NewRouter(httptransport.RouterConfig{
		Logger:    log,
		Validator: auth.NewHS256Validator(signingKey, ""),
		Handlers: []httptransport.Registrar{
			scanhandler.New(scans, log),
			passhandler.New(passes, log),
			presencehandler.New(presence.NewService(store, engine, tracker), log),
			audithandler.New(audits, log),
		},
	})
}

type client struct {
	t      *testing.T
	server http.Handler
	bearer string
}

func as(t *testing.T, server http.Handler, role permission.Role) *client {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.JWTClaims{
		Role:   string(role),
		Active: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(signingKey))
	require.NoError(t, err)
	return &client{t: t, server: server, bearer: "Bearer " + token}
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var req *http.Request
	if body != nil {
		req = testutil.NewJSONRequest(c.t, method, path, body)
	} else {
		req = testutil.NewRequest(c.t, method, path)
	}
	req.Header.Set("Authorization", c.bearer)
	return testutil.DoRequest(c.server, req)
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestPassLifecycleOverHTTP(t *testing.T) {
	server := newServer(t)
	hr := as(t, server, permission.RoleHR)
	guard := as(t, server, permission.RoleGuard)
	admin := as(t, server, permission.RoleAdmin)
	auditor := as(t, server, permission.RoleITSpecialist)

	var issued passservice.PassSummary

	testutil.Given(t, "hr issues a pass for a visitor", func(t *testing.T) {
		rr := hr.do(http.MethodPost, "/api/passes", map[string]any{
			"holder_name":  "Ada Lovelace",
			"holder_org":   "Analytical Engines",
			"holder_email": "ada@example.com",
			"valid_until":  time.Now().Add(8 * time.Hour),
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		issued = decode[passservice.PassSummary](t, rr)
		require.NotEmpty(t, issued.Token)
		assert.Equal(t, "active", string(issued.Status))
	})

	testutil.When(t, "the guard scans the credential twice", func(t *testing.T) {
		rr := guard.do(http.MethodPost, "/api/scan", map[string]string{"token": issued.Token})
		require.Equal(t, http.StatusOK, rr.Code)
		entry := decode[scanservice.Outcome](t, rr)

		occupancy := guard.do(http.MethodGet, "/api/presence", nil)
		require.Equal(t, http.StatusOK, occupancy.Code)
		inside := decode[presencehandler.OccupancyResponse](t, occupancy)

		rr = guard.do(http.MethodPost, "/api/scan", map[string]string{"token": issued.Token})
		require.Equal(t, http.StatusOK, rr.Code)
		exit := decode[scanservice.Outcome](t, rr)

		testutil.Then(t, "the holder enters, is listed inside and then leaves", func(t *testing.T) {
			assert.Equal(t, scanservice.StatusAllowedEntry, entry.Status)
			assert.Equal(t, "Ada Lovelace", entry.HolderName)
			assert.Equal(t, 1, inside.Count)
			require.Len(t, inside.Inside, 1)
			assert.Equal(t, issued.ID, inside.Inside[0].PassID)
			assert.Equal(t, scanservice.StatusAllowedExit, exit.Status)
			require.NotNil(t, exit.DurationMinutes)
			assert.Equal(t, 0, *exit.DurationMinutes)
		})
	})

	testutil.When(t, "the pass is read back", func(t *testing.T) {
		asAdmin := decode[passservice.PassSummary](t, admin.do(http.MethodGet, "/api/passes/"+issued.ID.String(), nil))
		asHR := decode[passservice.PassSummary](t, hr.do(http.MethodGet, "/api/passes/"+issued.ID.String(), nil))

		testutil.Then(t, "contact data is plaintext only for sensitive-data viewers and the token is not repeated", func(t *testing.T) {
			assert.Equal(t, "ada@example.com", asAdmin.HolderEmail)
			assert.NotEqual(t, "ada@example.com", asHR.HolderEmail)
			assert.NotEmpty(t, asHR.HolderEmail)
			assert.Empty(t, asAdmin.Token)
		})
	})

	testutil.When(t, "an admin revokes the pass", func(t *testing.T) {
		rr := admin.do(http.MethodPost, "/api/passes/"+issued.ID.String()+"/revoke", map[string]string{"reason": "badge lost"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		scan := guard.do(http.MethodPost, "/api/scan", map[string]string{"token": issued.Token})

		testutil.Then(t, "the next scan is denied as revoked", func(t *testing.T) {
			assert.Equal(t, "revoked", string(decode[passservice.PassSummary](t, rr).Status))
			require.Equal(t, http.StatusOK, scan.Code)
			outcome := decode[scanservice.Outcome](t, scan)
			assert.Equal(t, scanservice.StatusDenied, outcome.Status)
			assert.Equal(t, "revoked", outcome.Reason)
		})
	})

	testutil.Then(t, "the pass's audit chain verifies", func(t *testing.T) {
		rr := auditor.do(http.MethodGet, "/api/audit/verify?entity_type=pass&entity_id="+issued.ID.String(), nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		result := decode[auditchain.Result](t, rr)
		assert.True(t, result.Valid)
		assert.GreaterOrEqual(t, result.Checked, 5, "create, two scans, revoke, denied scan")
	})
}

func TestRolesWithoutScanPermissionAreRefused(t *testing.T) {
	server := newServer(t)
	hr := as(t, server, permission.RoleHR)

	rr := hr.do(http.MethodPost, "/api/scan", map[string]string{"token": "anything"})
	require.Equal(t, http.StatusForbidden, rr.Code)
	outcome := decode[scanservice.Outcome](t, rr)
	assert.Equal(t, scanservice.StatusDenied, outcome.Status)

	// view_pass is enough to see who is inside.
	rr = hr.do(http.MethodGet, "/api/presence", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	it := as(t, server, permission.RoleITSpecialist)
	rr = it.do(http.MethodPost, "/api/scan", map[string]string{"token": "anything"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = it.do(http.MethodGet, "/api/presence", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
