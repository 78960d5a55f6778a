// Package ctxutil provides shared context key accessors.
//
// The claims service and the CLI both stamp the acting principal onto the
// context; lifecycle transitions read it back for their history records.
package ctxutil

import (
	"context"
)

type contextKey string

const (
	keyActor     contextKey = "actor"
	keyRequestID contextKey = "request_id"
)

// SystemActor is recorded when no principal is attached to the context.
const SystemActor = "system"

// WithActor returns a new context carrying the acting principal, such as an
// adjuster ID.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, keyActor, actor)
}

// ActorFromContext extracts the acting principal, defaulting to SystemActor.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyActor).(string); ok && v != "" {
		return v
	}
	return SystemActor
}

// WithRequestID returns a new context carrying a correlation ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the correlation ID, or "" if none was set.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}
