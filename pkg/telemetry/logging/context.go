package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for diagnostics request IDs.
	RequestIDKey contextKey = "request_id"

	// SubscriptionKey is the context key for subscription handles.
	SubscriptionKey contextKey = "subscription"

	// EndpointKey is the context key for relay endpoint URLs.
	EndpointKey contextKey = "endpoint"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithSubscription adds a subscription handle to the context.
func WithSubscription(ctx context.Context, handle string) context.Context {
	return context.WithValue(ctx, SubscriptionKey, handle)
}

// GetSubscription retrieves the subscription handle from the context.
func GetSubscription(ctx context.Context) string {
	if handle, ok := ctx.Value(SubscriptionKey).(string); ok {
		return handle
	}
	return ""
}

// WithEndpoint adds a relay endpoint to the context.
func WithEndpoint(ctx context.Context, endpoint string) context.Context {
	return context.WithValue(ctx, EndpointKey, endpoint)
}

// GetEndpoint retrieves the relay endpoint from the context.
func GetEndpoint(ctx context.Context) string {
	if endpoint, ok := ctx.Value(EndpointKey).(string); ok {
		return endpoint
	}
	return ""
}

// contextAttrs extracts the known fields from ctx.
func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr
	if requestID := GetRequestID(ctx); requestID != "" {
		attrs = append(attrs, slog.String(string(RequestIDKey), requestID))
	}
	if handle := GetSubscription(ctx); handle != "" {
		attrs = append(attrs, slog.String(string(SubscriptionKey), handle))
	}
	if endpoint := GetEndpoint(ctx); endpoint != "" {
		attrs = append(attrs, slog.String(string(EndpointKey), endpoint))
	}
	return attrs
}
