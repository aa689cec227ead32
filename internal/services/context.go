package services

import "context"

type contextKey string

const (
	localIDKey   contextKey = "local_id"
	lineIDKey    contextKey = "line_id"
	requestIDKey contextKey = "request_id"
)

// WithLocalID annotates context with the client identifier of a queued record.
func WithLocalID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, localIDKey, id)
}

// LocalIDFromContext extracts the queued record identifier if present.
func LocalIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(localIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithLineID annotates context with the production line identifier.
func WithLineID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, lineIDKey, id)
}

// LineIDFromContext returns the production line identifier if present.
func LineIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(lineIDKey).(string); ok && v != "" {
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
