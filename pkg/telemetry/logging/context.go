package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// UserKey is the context key for user identifiers.
	UserKey contextKey = "user"

	// TenantKey is the context key for tenant identifiers.
	TenantKey contextKey = "tenant"

	// ClientAddressKey is the context key for the caller's network address.
	ClientAddressKey contextKey = "client_address"

	// OperationKey is the context key for the operation being admitted.
	OperationKey contextKey = "operation"
)

// contextFields lists the keys copied into log records, in output order.
var contextFields = []contextKey{RequestIDKey, UserKey, TenantKey, ClientAddressKey, OperationKey}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// WithUser adds a user identifier to the context.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// GetUser retrieves the user identifier from the context.
func GetUser(ctx context.Context) string {
	return getString(ctx, UserKey)
}

// WithTenant adds a tenant identifier to the context.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// GetTenant retrieves the tenant identifier from the context.
func GetTenant(ctx context.Context) string {
	return getString(ctx, TenantKey)
}

// WithClientAddress adds the caller's address to the context.
func WithClientAddress(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, ClientAddressKey, addr)
}

// GetClientAddress retrieves the caller's address from the context.
func GetClientAddress(ctx context.Context) string {
	return getString(ctx, ClientAddressKey)
}

// WithOperation adds the operation name to the context.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, OperationKey, op)
}

// GetOperation retrieves the operation name from the context.
func GetOperation(ctx context.Context) string {
	return getString(ctx, OperationKey)
}

func getString(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// contextAttrs extracts the non-empty request fields from ctx.
func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, key := range contextFields {
		if v := getString(ctx, key); v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	return attrs
}
