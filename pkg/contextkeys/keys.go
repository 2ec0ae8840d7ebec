// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so key usage
// stays discoverable and values are never read back with the wrong type.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/ptbhub/pkg/contextkeys"
//	ctx = contextkeys.WithPrincipal(ctx, principal)
//	principal := contextkeys.GetPrincipal(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains the authenticated principal
	// Set by: middleware.Authenticate (pkg/middleware/auth.go), realtime consumers
	// Required by: permission middleware, every protected handler
	// Type: auth.Principal
	PrincipalKey Key = "principal"

	// TokenKey contains the raw token the request was authenticated with
	// Set by: middleware.Authenticate
	// Type: string
	TokenKey Key = "token"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, error responses
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains user ID string
	// Set by: Auth middleware after user authentication
	// Used by: Logger
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// TxKey contains the active *postgres.Tx
	// Set by: postgres.DB.WithTx
	// Used by: stores (to join the transaction) and post-commit hook registration
	// Type: *postgres.Tx
	TxKey Key = "tx"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// GetPrincipal retrieves the raw principal value from context
func GetPrincipal(ctx context.Context) interface{} {
	return ctx.Value(PrincipalKey)
}

// WithToken adds the raw bearer token to the context
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, TokenKey, token)
}

// GetToken retrieves the raw bearer token from context
func GetToken(ctx context.Context) string {
	if token, ok := ctx.Value(TokenKey).(string); ok {
		return token
	}
	return ""
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithTx adds an open transaction to the context
func WithTx(ctx context.Context, tx interface{}) context.Context {
	return context.WithValue(ctx, TxKey, tx)
}

// GetTx retrieves the raw transaction value from context
func GetTx(ctx context.Context) interface{} {
	return ctx.Value(TxKey)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
