// Package tenant carries the calling tenant through request contexts.
package tenant

import "context"

// Shared is the cache and credential key used when every tenant shares one
// object store.
const Shared = "shared"

type contextKey struct{}

// WithTenant returns a copy of ctx carrying the tenant id.
func WithTenant(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the tenant id stored in ctx, or an empty string.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Detach returns a background context that only keeps the tenant of ctx, so
// work spawned from a request survives the request's cancellation.
func Detach(ctx context.Context) context.Context {
	return WithTenant(context.Background(), FromContext(ctx))
}
