package testutil

import (
	"net/http"
	"time"

	id "attest/pkg/domain"
	"attest/pkg/requestcontext"
)

// WithActor adds an acting admin to the request context, as the auth
// middleware would for an authenticated request. Invalid ids are ignored.
func WithActor(req *http.Request, userID string) *http.Request {
	if actor, err := id.ParseUserID(userID); err == nil {
		return req.WithContext(requestcontext.WithActorID(req.Context(), actor))
	}
	return req
}

// WithRequestTime pins the request's "now", as the request-time middleware
// would. Use it to place requests in the past or future relative to run
// schedules.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
