package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryBackend keeps blobs in process memory. It is intended for local
// development and tests.
type MemoryBackend struct {
	mutex sync.Mutex
	blobs map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[string][]byte)}
}

func (b *MemoryBackend) Kind() Kind {
	return KindMemory
}

func (b *MemoryBackend) Put(ctx context.Context, key Key, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read content for '%s': %w", key.URL, err)
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if _, ok := b.blobs[key.URL]; ok {
		return fmt.Errorf("%w: '%s'", ErrConflict, key.URL)
	}
	b.blobs[key.URL] = data
	return nil
}

func (b *MemoryBackend) Get(ctx context.Context, key Key) (io.ReadCloser, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	data, ok := b.blobs[key.URL]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrNotFound, key.URL)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), data...))), nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key Key) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	delete(b.blobs, key.URL)
	return nil
}

func (b *MemoryBackend) Exists(ctx context.Context, key Key) (bool, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	_, ok := b.blobs[key.URL]
	return ok, nil
}

// Len returns the number of stored blobs.
func (b *MemoryBackend) Len() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return len(b.blobs)
}

var _ Backend = (*MemoryBackend)(nil)
