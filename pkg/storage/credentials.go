package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	config "github.com/mwantia/goattach/internal/config/server"
	"github.com/mwantia/goattach/pkg/db/store"
	"github.com/mwantia/goattach/pkg/tenant"
)

// Credentials holds the backend specific fields of one credential binding.
type Credentials map[string]string

func (c Credentials) Get(name string) string {
	return strings.TrimSpace(c[name])
}

// required credential fields per backend kind
var requiredCredentials = map[Kind][][]string{
	KindS3:    {{"bucket"}, {"region"}, {"access_key_id"}, {"secret_access_key"}},
	KindAzure: {{"container_uri", "container_name"}, {"sas_token", "account_key"}},
	KindGCP:   {{"bucket"}, {"credentials_json", "credentials_file", "endpoint"}},
}

// DetectKind guesses which backend a set of credentials was bound for.
func DetectKind(c Credentials) Kind {
	switch {
	case c.Get("container_uri") != "" || c.Get("container_name") != "" || c.Get("sas_token") != "":
		return KindAzure
	case c.Get("access_key_id") != "" || c.Get("secret_access_key") != "":
		return KindS3
	case c.Get("credentials_json") != "" || c.Get("credentials_file") != "" || c.Get("project_id") != "":
		return KindGCP
	default:
		return ""
	}
}

// Validate checks that c is complete for kind and was not bound for another
// backend kind.
func (c Credentials) Validate(kind Kind) error {
	if len(c) == 0 {
		return fmt.Errorf("%w: no credentials bound for backend '%s'", ErrConfiguration, kind)
	}

	if detected := DetectKind(c); detected != "" && detected != kind {
		return fmt.Errorf("%w: credentials are bound for '%s' but the configured backend is '%s'", ErrConfiguration, detected, kind)
	}

	var missing []string
	for _, alternatives := range requiredCredentials[kind] {
		found := false
		for _, name := range alternatives {
			if c.Get(name) != "" {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, strings.Join(alternatives, "|"))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: incomplete credentials for backend '%s', missing %s", ErrConfiguration, kind, strings.Join(missing, ", "))
	}

	return nil
}

// CredentialProvider resolves the credential binding of a tenant.
type CredentialProvider interface {
	Lookup(ctx context.Context, tenantID string) (Credentials, error)
}

// ConfigProvider serves credentials from the storage configuration section.
type ConfigProvider struct {
	cfg config.StorageServerConfig
}

func NewConfigProvider(cfg config.StorageServerConfig) *ConfigProvider {
	return &ConfigProvider{cfg: cfg}
}

func (p *ConfigProvider) Lookup(ctx context.Context, tenantID string) (Credentials, error) {
	if tenantID == tenant.Shared {
		if len(p.cfg.Credentials) == 0 {
			return nil, fmt.Errorf("%w: no shared credentials configured", ErrConfiguration)
		}
		return Credentials(p.cfg.Credentials), nil
	}

	creds, ok := p.cfg.Tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: no credentials bound for tenant '%s'", ErrConfiguration, tenantID)
	}
	return Credentials(creds), nil
}

// BindingProvider serves credentials stored as tenant bindings in the
// metadata database.
type BindingProvider struct {
	store store.MetadataStore
}

func NewBindingProvider(s store.MetadataStore) *BindingProvider {
	return &BindingProvider{store: s}
}

func (p *BindingProvider) Lookup(ctx context.Context, tenantID string) (Credentials, error) {
	binding, err := p.store.GetBinding(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no credentials bound for tenant '%s'", ErrConfiguration, tenantID)
		}
		return nil, fmt.Errorf("failed to load binding for tenant '%s': %w", tenantID, err)
	}

	creds := make(Credentials, len(binding.Credentials))
	for name, value := range binding.Credentials {
		creds[name] = fmt.Sprint(value)
	}
	return creds, nil
}

// ChainProvider returns the first binding found in its providers.
type ChainProvider []CredentialProvider

func (c ChainProvider) Lookup(ctx context.Context, tenantID string) (Credentials, error) {
	var lastErr error
	for _, provider := range c {
		creds, err := provider.Lookup(ctx, tenantID)
		if err == nil {
			return creds, nil
		}
		if !errors.Is(err, ErrConfiguration) {
			return nil, err
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no credential provider configured", ErrConfiguration)
	}
	return nil, lastErr
}
