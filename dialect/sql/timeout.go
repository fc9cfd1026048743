package sql

import (
	"context"
	"time"
)

// ctxTimeoutKey is the key used for attaching the statement timeout.
type ctxTimeoutKey struct{}

// WithQueryTimeout returns a new context whose statements executed through
// a Conn are canceled after d. A zero or negative d removes the timeout.
func WithQueryTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, ctxTimeoutKey{}, d)
}

// QueryTimeoutFromContext returns the statement timeout of the context.
func QueryTimeoutFromContext(ctx context.Context) (time.Duration, bool) {
	d, ok := ctx.Value(ctxTimeoutKey{}).(time.Duration)
	return d, ok && d > 0
}

// applyQueryTimeout derives the statement context. The timeout never
// extends an earlier deadline of ctx.
func applyQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	d, ok := QueryTimeoutFromContext(ctx)
	if !ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
