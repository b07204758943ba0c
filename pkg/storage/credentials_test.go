package storage

import (
	"context"
	"testing"

	config "github.com/mwantia/goattach/internal/config/server"
	"github.com/mwantia/goattach/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func s3Credentials() Credentials {
	return Credentials{
		"bucket":            "attachments",
		"region":            "eu-central-1",
		"access_key_id":     "AKIA",
		"secret_access_key": "secret",
	}
}

func TestCredentialsValidate(t *testing.T) {
	assert.NoError(t, s3Credentials().Validate(KindS3))

	incomplete := s3Credentials()
	delete(incomplete, "region")
	err := incomplete.Validate(KindS3)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorContains(t, err, "region")

	assert.ErrorIs(t, Credentials{}.Validate(KindGCP), ErrConfiguration)
}

func TestCredentialsBoundForWrongBackend(t *testing.T) {
	azure := Credentials{"container_uri": "https://acc.blob.core.windows.net/c", "sas_token": "sv=1"}
	require.NoError(t, azure.Validate(KindAzure))

	err := azure.Validate(KindS3)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorContains(t, err, "bound for 'azure'")
}

func TestConfigProvider(t *testing.T) {
	provider := NewConfigProvider(config.StorageServerConfig{
		Credentials: s3Credentials(),
		Tenants: map[string]map[string]string{
			"t1": {"bucket": "tenant-bucket"},
		},
	})

	shared, err := provider.Lookup(context.Background(), tenant.Shared)
	require.NoError(t, err)
	assert.Equal(t, "attachments", shared.Get("bucket"))

	creds, err := provider.Lookup(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-bucket", creds.Get("bucket"))

	_, err = provider.Lookup(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestChainProviderFallsThrough(t *testing.T) {
	empty := NewConfigProvider(config.StorageServerConfig{})
	filled := NewConfigProvider(config.StorageServerConfig{Credentials: s3Credentials()})

	creds, err := ChainProvider{empty, filled}.Lookup(context.Background(), tenant.Shared)
	require.NoError(t, err)
	assert.Equal(t, "attachments", creds.Get("bucket"))

	_, err = ChainProvider{empty}.Lookup(context.Background(), tenant.Shared)
	assert.ErrorIs(t, err, ErrConfiguration)
}
