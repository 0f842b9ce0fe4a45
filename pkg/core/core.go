// Package core holds the domain types shared by the credential broker:
// credentials, pending authorization requests, and the store contract that
// backs both.
package core

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// RequestIDKey is a custom context key type for storing the request ID in context.
type RequestIDKey struct{}

// WithRequestID returns a new context with a generated request ID set.
func WithRequestID(ctx context.Context) context.Context {
	reqID := uuid.New().String()
	return context.WithValue(ctx, RequestIDKey{}, reqID)
}

// LoggerFromCtx returns a slog.Logger with request_id field if present in context.
// If no request ID is found, it returns the default logger.
// This allows for structured logging with request context.
func LoggerFromCtx(ctx context.Context) *slog.Logger {
	reqID, _ := ctx.Value(RequestIDKey{}).(string)
	if reqID != "" {
		return slog.Default().With("request_id", reqID)
	}
	return slog.Default()
}
