package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mwantia/goattach/pkg/db/store"
	"github.com/mwantia/goattach/pkg/log"
)

// DatabaseBackend keeps content in the content column of the attachment row
type DatabaseBackend struct {
	store store.MetadataStore
	log   log.LoggerService
}

func NewDatabaseBackend(s store.MetadataStore, logger log.LoggerService) *DatabaseBackend {
	return &DatabaseBackend{
		store: s,
		log:   log.OrDiscard(logger),
	}
}

func (b *DatabaseBackend) Kind() Kind {
	return KindDatabase
}

func (b *DatabaseBackend) Put(ctx context.Context, key Key, body io.Reader, size int64) error {
	content, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read content for '%s': %w", key.Row.ID, err)
	}

	written, err := b.store.WriteContent(ctx, key.Row, key.URL, content)
	if err != nil {
		b.log.Error("Failed to write content of '%s' (%s): %v (check database connectivity)", key.Row.ID, key.Row.Entity, err)
		return fmt.Errorf("failed to write content of '%s': %w", key.Row.ID, err)
	}
	if !written {
		return fmt.Errorf("%w: '%s'", ErrConflict, key.Row.ID)
	}

	return nil
}

func (b *DatabaseBackend) Get(ctx context.Context, key Key) (io.ReadCloser, error) {
	content, err := b.store.ReadContent(ctx, key.Row)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: '%s'", ErrNotFound, key.Row.ID)
		}
		return nil, fmt.Errorf("failed to read content of '%s': %w", key.Row.ID, err)
	}

	return io.NopCloser(bytes.NewReader(content)), nil
}

func (b *DatabaseBackend) Delete(ctx context.Context, key Key) error {
	if err := b.store.ClearContent(ctx, key.Row); err != nil {
		return fmt.Errorf("failed to clear content of '%s': %w", key.Row.ID, err)
	}
	return nil
}

func (b *DatabaseBackend) Exists(ctx context.Context, key Key) (bool, error) {
	exists, err := b.store.HasContent(ctx, key.Row)
	if err != nil {
		return false, fmt.Errorf("failed to check content of '%s': %w", key.Row.ID, err)
	}
	return exists, nil
}

var _ Backend = (*DatabaseBackend)(nil)
