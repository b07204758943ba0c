package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/mwantia/goattach/pkg/db/models"
	"github.com/mwantia/goattach/pkg/db/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDatabaseBackend(t *testing.T) Backend {
	t.Helper()

	s, err := store.NewSQLiteStore(store.SQLiteConfig{Path: "file::memory:"})
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	return NewDatabaseBackend(s, nil)
}

func backendVariants(t *testing.T) map[string]Backend {
	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"db":     newDatabaseBackend(t),
	}
}

func testKey(id string) Key {
	return Key{
		URL: "url-" + id,
		Row: models.AttachmentRef{Entity: "Incidents.attachments", ID: id, IsActiveEntity: true},
	}
}

func TestBackendContract(t *testing.T) {
	for name, backend := range backendVariants(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := testKey("a1")

			exists, err := backend.Exists(ctx, key)
			require.NoError(t, err)
			assert.False(t, exists)

			_, err = backend.Get(ctx, key)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, backend.Put(ctx, key, bytes.NewReader([]byte("hello")), 5))

			exists, err = backend.Exists(ctx, key)
			require.NoError(t, err)
			assert.True(t, exists)

			reader, err := backend.Get(ctx, key)
			require.NoError(t, err)
			data, err := io.ReadAll(reader)
			require.NoError(t, err)
			require.NoError(t, reader.Close())
			assert.Equal(t, "hello", string(data))

			err = backend.Put(ctx, key, bytes.NewReader([]byte("other")), 5)
			assert.ErrorIs(t, err, ErrConflict)

			reader, err = backend.Get(ctx, key)
			require.NoError(t, err)
			data, _ = io.ReadAll(reader)
			assert.Equal(t, "hello", string(data), "conflicting put must not overwrite")

			require.NoError(t, backend.Delete(ctx, key))
			require.NoError(t, backend.Delete(ctx, key), "delete must be idempotent")

			exists, err = backend.Exists(ctx, key)
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := store.NewSQLiteStore(store.SQLiteConfig{Path: "file::memory:"})
	require.NoError(t, err)
	defer s.Close()

	for kind, expected := range map[string]Kind{
		"db":     KindDatabase,
		"s3":     KindS3,
		"azure":  KindAzure,
		"gcp":    KindGCP,
		"memory": KindMemory,
	} {
		backend, err := New(configFor(kind), s, nil)
		require.NoError(t, err)
		assert.Equal(t, expected, backend.Kind())
	}

	_, err = New(configFor("ftp"), s, nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}
