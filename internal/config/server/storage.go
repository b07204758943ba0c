package server

const (
	StorageKindDB     = "db"
	StorageKindS3     = "s3"
	StorageKindAzure  = "azure"
	StorageKindGCP    = "gcp"
	StorageKindMemory = "memory"

	TenancyNone     = "none"
	TenancyShared   = "shared"
	TenancySeparate = "separate"
)

// StorageServerConfig selects the content backend and how tenants map onto it.
type StorageServerConfig struct {
	Kind    string `mapstructure:"kind"    yaml:"kind"`
	Tenancy string `mapstructure:"tenancy" yaml:"tenancy"`

	// Credentials used in 'none' and 'shared' tenancy mode.
	Credentials map[string]string `mapstructure:"credentials" yaml:"credentials"`
	// Per-tenant credential bindings used in 'separate' tenancy mode.
	Tenants map[string]map[string]string `mapstructure:"tenants" yaml:"tenants"`
}
