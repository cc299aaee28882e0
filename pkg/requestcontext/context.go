// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values. Middleware sets them, services read them, and tests
// inject them without pulling in net/http.
package requestcontext

import (
	"context"
	"time"
)

type (
	stationIDKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need context.WithValue directly.
var (
	ContextKeyStationID   = stationIDKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// WithStationID records the authenticated station identifier.
func WithStationID(ctx context.Context, stationID string) context.Context {
	return context.WithValue(ctx, ContextKeyStationID, stationID)
}

// StationID returns the authenticated station identifier, or "" if absent.
func StationID(ctx context.Context) string {
	v, _ := ctx.Value(ContextKeyStationID).(string)
	return v
}

// WithRequestID records the correlation ID for this request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestID returns the correlation ID, or "" if absent.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(ContextKeyRequestID).(string)
	return v
}

// WithTime pins the request clock. Tests use this to make freshness checks
// and transition timestamps deterministic.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}

// Now returns the pinned request time, falling back to time.Now.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}
