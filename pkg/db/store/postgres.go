package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm/logger"
)

// PostgresStore implements MetadataStore using PostgreSQL
type PostgresStore struct {
	GormStore
	cfg PostgresConfig
}

// PostgresConfig holds PostgreSQL-specific configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	LogLevel     logger.LogLevel
}

// NewPostgresStore creates a new PostgreSQL-backed metadata store
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	db, err := openGorm(postgres.Open(cfg.DSN), cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	return &PostgresStore{
		GormStore: GormStore{db: db},
		cfg:       cfg,
	}, nil
}

// Connect initializes the database connection
func (s *PostgresStore) Connect(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if s.cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(s.cfg.MaxOpenConns)
	}
	if s.cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(s.cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return sqlDB.PingContext(ctx)
}
