// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; services and handlers read them. Keeping the
// package free of net/http lets services depend on it without pulling in
// transport code.
//
//	principal, ok := requestcontext.Principal(ctx)
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
package requestcontext

import (
	"context"
	"time"

	id "parley/pkg/domain"
)

type (
	principalKey   struct{}
	bearerKey      struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyPrincipal   = principalKey{}
	ContextKeyBearer      = bearerKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Auth context
// -----------------------------------------------------------------------------

// Principal returns the authenticated principal, if the request carried a
// valid credential.
func Principal(ctx context.Context) (id.Principal, bool) {
	p, ok := ctx.Value(ContextKeyPrincipal).(id.Principal)
	if !ok || p.IsAnonymous() {
		return id.Principal{}, false
	}
	return p, true
}

// WithPrincipal injects an authenticated principal into the context.
func WithPrincipal(ctx context.Context, p id.Principal) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipal, p)
}

// UserID returns the authenticated user ID, or the zero value for anonymous callers.
func UserID(ctx context.Context) id.UserID {
	p, _ := Principal(ctx)
	return p.UserID
}

// Bearer returns the Authorization header value exactly as the caller presented it.
func Bearer(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyBearer).(string); ok {
		return v
	}
	return ""
}

// WithBearer stores the presented Authorization header value for verbatim forwarding.
func WithBearer(ctx context.Context, header string) context.Context {
	return context.WithValue(ctx, ContextKeyBearer, header)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() outside HTTP requests (workers, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
