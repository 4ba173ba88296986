// Package observability carries request-scoped structured logging
// through the HTTP layer.
package observability

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type contextKey struct{}

// NewRequestID generates a short request identifier.
func NewRequestID() string {
	return uuid.New().String()[:8]
}

// WithLogger stores a request-scoped logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// Logger returns the request-scoped logger, or the default logger when
// the context carries none.
func Logger(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
