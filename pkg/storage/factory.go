package storage

import (
	"fmt"

	config "github.com/mwantia/goattach/internal/config/server"
	"github.com/mwantia/goattach/pkg/db/store"
	"github.com/mwantia/goattach/pkg/log"
)

// New builds the backend selected by cfg.Kind. Credentials for object stores
// are looked up in the configuration first and in the tenant bindings of the
// metadata store second.
func New(cfg config.StorageServerConfig, s store.MetadataStore, logger log.LoggerService) (Backend, error) {
	logger = log.OrDiscard(logger)
	provider := ChainProvider{NewConfigProvider(cfg), NewBindingProvider(s)}

	kind := Kind(cfg.Kind)
	if IsRemote(kind) && kind != KindMemory && len(cfg.Credentials) > 0 {
		if err := Credentials(cfg.Credentials).Validate(kind); err != nil {
			return nil, err
		}
	}

	switch kind {
	case KindDatabase:
		return NewDatabaseBackend(s, logger.Named("db")), nil
	case KindS3:
		return NewS3Backend(cfg.Tenancy, provider, logger.Named("s3")), nil
	case KindAzure:
		return NewAzureBackend(cfg.Tenancy, provider, logger.Named("azure")), nil
	case KindGCP:
		return NewGCSBackend(cfg.Tenancy, provider, logger.Named("gcp")), nil
	case KindMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported storage kind '%s'", ErrConfiguration, cfg.Kind)
	}
}
