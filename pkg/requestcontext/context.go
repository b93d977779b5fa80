// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// This package defines context keys and getter/setter functions for values that
// are set by middleware but consumed by services. By keeping it free of
// net/http dependencies, services can import only what they need without
// pulling in HTTP-related code.
//
// Usage in services (read values):
//
//	actorID := requestcontext.ActorID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithActorID(ctx, actorID)
//	ctx = requestcontext.WithRequestID(ctx, requestID)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	id "attest/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	actorIDKey     struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
)

// Exported context keys for tests that need context.WithValue directly.
var (
	ContextKeyActorID     = actorIDKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyUserAgent   = userAgentKey{}
)

// ActorID retrieves the acting (authenticated) user ID from the context.
// Returns the zero value if not set.
func ActorID(ctx context.Context) id.UserID {
	if actor, ok := ctx.Value(ContextKeyActorID).(id.UserID); ok {
		return actor
	}
	return id.UserID{}
}

// WithActorID injects the acting user ID into the context.
func WithActorID(ctx context.Context, actor id.UserID) context.Context {
	return context.WithValue(ctx, ContextKeyActorID, actor)
}

// RequestID retrieves the request correlation ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(ContextKeyUserAgent).(string); ok {
		return ua
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
// Useful for service unit tests that don't run the full middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	return ctx
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() for non-HTTP contexts (sweeper, CLI, tests).
//
// All operations within a single request observe the same "now", which keeps
// domain timestamps and audit entries consistent.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Used by the request-time
// middleware, the sweeper (one "now" per pass) and tests.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
