// Package ctxkeys defines typed context keys shared across packages.
package ctxkeys

import "context"

// Key is a typed context key to prevent collisions.
type Key string

const (
	KeyRequestID Key = "request_id"
	KeyTenantID  Key = "tenant_id"
)

// WithRequestID stores the request id on ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, KeyRequestID, requestID)
}

// GetRequestID extracts request_id from context.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(KeyRequestID).(string); ok {
		return v
	}
	return ""
}

// WithTenantID stores the tenant id on ctx for logging only. Query scoping
// always takes the tenant id as an explicit argument.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, KeyTenantID, tenantID)
}

// GetTenantID extracts tenant_id from context.
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(KeyTenantID).(string); ok {
		return v
	}
	return ""
}
