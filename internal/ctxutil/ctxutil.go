// Package ctxutil carries request-scoped values through contexts so the
// HTTP handlers and background code share the same accessors.
package ctxutil

import (
	"context"

	"github.com/Preservarium/acl-poc/internal/model"
)

type contextKey string

const (
	contextKeyUser      contextKey = "user"
	contextKeyRequestID contextKey = "request_id"
)

// WithUser stores the authenticated user in the context.
func WithUser(ctx context.Context, u model.User) context.Context {
	return context.WithValue(ctx, contextKeyUser, u)
}

// UserFromContext extracts the authenticated user. ok is false on
// unauthenticated contexts.
func UserFromContext(ctx context.Context) (model.User, bool) {
	u, ok := ctx.Value(contextKeyUser).(model.User)
	return u, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// RequestIDFromContext extracts the request ID, or "" when absent.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return v
	}
	return ""
}
