package logger

import "context"

// contextKey keeps the request-id value private to this package.
type contextKey struct{}

var requestIDKey = contextKey{}

// WithRequestID stores the id assigned to an inbound call so log lines across
// the handler chain can be correlated.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the stored request id, or "" when the context has none.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
