// Package logging carries a request ID through contexts so log lines of one
// API call or CLI invocation can be correlated.
package logging

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "requestId"

// RequestIDHeader is echoed on every API response.
const RequestIDHeader = "X-Request-ID"

// GenerateRequestID creates an 8-character hex request ID.
func GenerateRequestID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Prefix returns "[id] " for log lines, or "" without a request ID.
func Prefix(ctx context.Context) string {
	if id := GetRequestID(ctx); id != "" {
		return "[" + id + "] "
	}
	return ""
}
