package providers

import "context"

type requestIDKeyType struct{}
type threadIDKeyType struct{}

var (
	RequestIDKey = requestIDKeyType{}
	ThreadIDKey  = threadIDKeyType{}
)

// WithRequestID returns a context carrying the given HTTP request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID extracts the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithThreadID returns a context carrying the consensus thread ID, so that
// provider calls can be correlated to the session that issued them.
func WithThreadID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ThreadIDKey, id)
}

// GetThreadID extracts the consensus thread ID from context.
func GetThreadID(ctx context.Context) string {
	if id, ok := ctx.Value(ThreadIDKey).(string); ok {
		return id
	}
	return ""
}
