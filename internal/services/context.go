package services

import "context"

type contextKey string

const (
	identityKey   contextKey = "identity"
	batchIDKey    contextKey = "batch_id"
	progressIDKey contextKey = "progress_id"
	requestIDKey  contextKey = "request_id"
)

// WithIdentity annotates context with the target asset identity.
func WithIdentity(ctx context.Context, identity string) context.Context {
	if identity == "" {
		return ctx
	}
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the target asset identity if present.
func IdentityFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(identityKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithBatchID annotates context with the batch identifier.
func WithBatchID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, batchIDKey, id)
}

// BatchIDFromContext returns the batch identifier if present.
func BatchIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(batchIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithProgressID annotates context with the caller-assigned progress identifier.
func WithProgressID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, progressIDKey, id)
}

// ProgressIDFromContext returns the progress identifier if present.
func ProgressIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(progressIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
