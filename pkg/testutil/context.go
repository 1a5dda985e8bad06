package testutil

import (
	"net/http"
	"time"

	id "passgate/pkg/domain"
	"passgate/pkg/requestcontext"
)

// WithActor puts an authenticated actor on the request context, as the auth
// middleware does after validating a bearer token.
func WithActor(req *http.Request, userID id.UserID, role string) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), userID, role, true))
}

// WithInactiveActor is WithActor for a deactivated account.
func WithInactiveActor(req *http.Request, userID id.UserID, role string) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), userID, role, false))
}

// WithTime pins the request time read by handlers and services.
func WithTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
