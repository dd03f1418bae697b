package storage

import "context"

type tenantCtxKey struct{}

// WithTenant scopes ctx to a tenant. Stores tag records saved under ctx
// with it and hide records of other tenants.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tenant)
}

// TenantFrom returns the tenant of ctx, or "" when ctx is unscoped.
func TenantFrom(ctx context.Context) string {
	tenant, _ := ctx.Value(tenantCtxKey{}).(string)
	return tenant
}

// Visible reports whether a record owned by owner may be returned under ctx.
// An unscoped context sees every record.
func Visible(ctx context.Context, owner string) bool {
	tenant := TenantFrom(ctx)
	return tenant == "" || tenant == owner
}
