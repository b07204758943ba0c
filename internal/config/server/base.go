package server

import (
	"fmt"

	"github.com/spf13/viper"
)

type BaseServerConfig struct {
	ShutdownTimeout string `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Log      LogServerConfig      `mapstructure:"log"      yaml:"log"`
	HTTP     HTTPServerConfig     `mapstructure:"http"     yaml:"http"`
	Metadata MetadataServerConfig `mapstructure:"metadata" yaml:"metadata"`
	Storage  StorageServerConfig  `mapstructure:"storage"  yaml:"storage"`
	Scan     ScanServerConfig     `mapstructure:"scan"     yaml:"scan"`
	Events   EventsServerConfig   `mapstructure:"events"   yaml:"events"`
	Entities []EntityConfig       `mapstructure:"entities" yaml:"entities"`
}

func LoadServerConfig() (*BaseServerConfig, error) {
	cfg := &BaseServerConfig{}

	setDefaults()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if len(cfg.Entities) == 0 {
		cfg.Entities = GetServerDefault().Entities
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that can never start successfully.
func (c *BaseServerConfig) Validate() error {
	switch c.Storage.Kind {
	case StorageKindDB, StorageKindS3, StorageKindAzure, StorageKindGCP, StorageKindMemory:
	default:
		return fmt.Errorf("unsupported storage kind '%s'", c.Storage.Kind)
	}

	switch c.Storage.Tenancy {
	case TenancyNone, TenancyShared, TenancySeparate:
	default:
		return fmt.Errorf("unsupported multi-tenancy mode '%s'", c.Storage.Tenancy)
	}

	if c.Storage.Kind == StorageKindDB && c.Storage.Tenancy == TenancySeparate {
		return fmt.Errorf("multi-tenancy mode 'separate' requires an object store, not '%s'", c.Storage.Kind)
	}

	switch c.Metadata.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported metadata store type '%s'", c.Metadata.Type)
	}

	if c.Scan.Enabled && c.Scan.URL == "" {
		return fmt.Errorf("malware scanning is enabled but 'scan.url' is empty")
	}

	return nil
}
