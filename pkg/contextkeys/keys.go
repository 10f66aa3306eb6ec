// Package contextkeys holds the request-scoped context keys shared by the
// HTTP middleware, the logger and the auth package, with typed helpers.
//
//	ctx = contextkeys.WithIdentity(ctx, identity)
//	identity, ok := ctx.Value(contextkeys.IdentityKey).(*auth.Identity)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey holds the *auth.Identity set by middleware.AuthMiddleware
	IdentityKey Key = "identity"

	// RequestIDKey holds the request ID set by httputil.RequestIDMiddleware
	RequestIDKey Key = "request_id"

	// UserIDKey holds the authenticated user ID as an int64
	UserIDKey Key = "user_id"

	// LoggerKey holds the *observability.Logger set by httputil.LoggingMiddleware
	LoggerKey Key = "logger"
)

// WithIdentity adds the authenticated identity to the context
func WithIdentity(ctx context.Context, identity interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds the authenticated user ID to the context
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID returns the request ID, or "" outside a request
func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(RequestIDKey).(string)
	return requestID
}

// GetUserID returns the authenticated user ID; false for anonymous requests
func GetUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	return userID, ok
}
