package observability

import (
	"context"
	"log/slog"
)

// loggerContextKey is the private context key used to store a *slog.Logger.
type loggerContextKey struct{}

// dispatchIDContextKey is the private context key used to store the ULID
// stamped on a phase event at dispatch time, so every downstream adapter
// call logs under the same correlation id (internal/worker assigns it).
type dispatchIDContextKey struct{}

// ContextWithLogger attaches a non-nil logger to the context.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// LoggerFromContext returns the logger stored in the context or the default
// slog logger when none is present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if v := ctx.Value(loggerContextKey{}); v != nil {
		if lg, ok := v.(*slog.Logger); ok && lg != nil {
			return lg
		}
	}
	return slog.Default()
}

// ContextWithDispatchID stores a non-empty dispatch id in the context.
func ContextWithDispatchID(ctx context.Context, dispatchID string) context.Context {
	if ctx == nil || dispatchID == "" {
		return ctx
	}
	return context.WithValue(ctx, dispatchIDContextKey{}, dispatchID)
}

// DispatchIDFromContext retrieves the dispatch id from the context, or an
// empty string when none is present.
func DispatchIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(dispatchIDContextKey{}); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
