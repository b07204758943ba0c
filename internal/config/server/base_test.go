package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := GetServerDefault()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StorageKindDB, cfg.Storage.Kind)
	assert.Equal(t, "72h", cfg.Scan.Expiry)
}

func TestValidateRejectsUnknownStorageKind(t *testing.T) {
	cfg := GetServerDefault()
	cfg.Storage.Kind = "ftp"
	assert.ErrorContains(t, cfg.Validate(), "unsupported storage kind")
}

func TestValidateRejectsSeparateTenancyOnDatabase(t *testing.T) {
	cfg := GetServerDefault()
	cfg.Storage.Tenancy = TenancySeparate
	assert.ErrorContains(t, cfg.Validate(), "requires an object store")
}

func TestValidateRequiresScanURL(t *testing.T) {
	cfg := GetServerDefault()
	cfg.Scan.Enabled = true
	assert.ErrorContains(t, cfg.Validate(), "scan.url")

	cfg.Scan.URL = "https://scanner.example.com"
	assert.NoError(t, cfg.Validate())
}
