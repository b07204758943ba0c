package agent

import (
	"context"
	"fmt"

	config "github.com/mwantia/goattach/internal/config/server"
	"github.com/mwantia/goattach/pkg/db/store"
)

// OpenStore creates and connects the metadata store selected by cfg.
func OpenStore(ctx context.Context, cfg config.MetadataServerConfig) (store.MetadataStore, error) {
	var (
		s   store.MetadataStore
		err error
	)

	level := store.ParseLogLevel(cfg.LogLevel)
	switch cfg.Type {
	case "sqlite":
		s, err = store.NewSQLiteStore(store.SQLiteConfig{
			Path:     cfg.SQLite.Path,
			LogLevel: level,
		})
	case "postgres":
		s, err = store.NewPostgresStore(store.PostgresConfig{
			DSN:          cfg.Postgres.DSN,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Postgres.MaxIdleConns,
			LogLevel:     level,
		})
	default:
		return nil, fmt.Errorf("unsupported metadata store type '%s'", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := s.Connect(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to connect to %s metadata store: %w", cfg.Type, err)
	}
	return s, nil
}
