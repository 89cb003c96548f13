package log

import "context"

type ctxKey struct{}

// WithContext stores l in ctx. Request handlers get theirs from
// httpmw.WithLogger.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger in ctx, or Nop.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
		return l
	}
	return Nop()
}

// With returns ctx carrying its logger extended with kv, so fields learned
// mid-request (user, auth outcome) reach every later log line.
func With(ctx context.Context, kv ...any) context.Context {
	return WithContext(ctx, FromContext(ctx).With(kv...))
}
