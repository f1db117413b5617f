package logger

import (
	"context"
	"log/slog"
)

// contextKey is unexported so no other package can collide with our context
// entry.
type contextKey struct{}

// WithContext stores a request-scoped logger in the context. HTTP middleware
// uses this to attach the request id to every log line downstream.
func WithContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, log)
}

// FromContext returns the logger stored in the context, or slog.Default()
// when none is present. It never returns nil, so call sites do not need a
// guard.
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}
