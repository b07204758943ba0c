package storage

import (
	"context"
	"fmt"

	config "github.com/mwantia/goattach/internal/config/server"
	"github.com/mwantia/goattach/pkg/log"
	"github.com/mwantia/goattach/pkg/tenant"
)

// remote holds what every object store variant shares: tenancy mode,
// credential lookup and the per-tenant client cache.
type remote[T any] struct {
	kind      Kind
	tenancy   string
	provider  CredentialProvider
	clients   *ClientCache[T]
	newClient func(ctx context.Context, creds Credentials) (T, error)
	log       log.LoggerService
}

func newRemote[T any](kind Kind, tenancy string, provider CredentialProvider, logger log.LoggerService,
	newClient func(ctx context.Context, creds Credentials) (T, error)) remote[T] {
	return remote[T]{
		kind:      kind,
		tenancy:   tenancy,
		provider:  provider,
		clients:   NewClientCache[T](),
		newClient: newClient,
		log:       log.OrDiscard(logger),
	}
}

// cacheKey resolves which client serves ctx. Only separate-store tenancy
// needs one client per tenant.
func (r *remote[T]) cacheKey(ctx context.Context) (string, error) {
	if r.tenancy != config.TenancySeparate {
		return tenant.Shared, nil
	}

	id := tenant.FromContext(ctx)
	if id == "" {
		return "", fmt.Errorf("%w: separate-store tenancy requires a tenant", ErrConfiguration)
	}
	return id, nil
}

func (r *remote[T]) client(ctx context.Context) (T, error) {
	key, err := r.cacheKey(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	return r.clients.Get(ctx, key, func(ctx context.Context) (T, error) {
		var zero T

		creds, err := r.provider.Lookup(ctx, key)
		if err != nil {
			return zero, err
		}
		if err := creds.Validate(r.kind); err != nil {
			return zero, err
		}

		r.log.Debug("Creating %s client for '%s'", r.kind, key)
		return r.newClient(ctx, creds)
	})
}

// ResetClients drops all cached clients.
func (r *remote[T]) ResetClients() {
	r.clients.Reset()
}
