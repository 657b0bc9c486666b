// Package requestctx carries the tenant and actor of a request through context.
package requestctx

import "context"

type key int

const (
	tenantKey key = iota
	actorKey
)

// WithTenant returns a context scoped to tenantID.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantID returns the tenant of the request, or "" when unscoped.
func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantKey).(string)
	return v
}

// WithActor returns a context carrying the acting user.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actorID)
}

// ActorID returns the acting user, or "".
func ActorID(ctx context.Context) string {
	v, _ := ctx.Value(actorKey).(string)
	return v
}

// Visible reports whether a row owned by tenantID may be seen from ctx.
// An unscoped context (CLI, seeding) sees every tenant.
func Visible(ctx context.Context, tenantID string) bool {
	t := TenantID(ctx)
	return t == "" || t == tenantID
}
