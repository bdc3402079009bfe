package slogx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// WithContext stores logger on the context for downstream token flows.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger carried by ctx, falling back to the
// process default so callers never get a nil logger.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WithAuthority tags the context logger with the authority a token flow is
// running against, so interleaved flows can be told apart in the logs.
func WithAuthority(ctx context.Context, authority string) context.Context {
	return WithContext(ctx, FromContext(ctx).With("authority", authority))
}
