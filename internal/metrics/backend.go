package metrics

import (
	"context"
	"io"
	"time"

	"github.com/mwantia/goattach/pkg/storage"
)

// InstrumentedBackend records latency and failures of every backend call.
type InstrumentedBackend struct {
	delegate storage.Backend
	observer Observer
}

// Instrument wraps backend so its operations are reported to observer.
func Instrument(backend storage.Backend, observer Observer) storage.Backend {
	if observer == nil {
		return backend
	}
	return &InstrumentedBackend{delegate: backend, observer: observer}
}

func (b *InstrumentedBackend) Kind() storage.Kind {
	return b.delegate.Kind()
}

func (b *InstrumentedBackend) Put(ctx context.Context, key storage.Key, body io.Reader, size int64) error {
	counter := &countingReader{reader: body}
	start := time.Now()

	err := b.delegate.Put(ctx, key, counter, size)
	b.observer.RecordOperation(string(b.Kind()), "put", time.Since(start), err)
	if err == nil {
		b.observer.RecordUpload(string(b.Kind()), counter.read)
	}
	return err
}

func (b *InstrumentedBackend) Get(ctx context.Context, key storage.Key) (io.ReadCloser, error) {
	start := time.Now()
	body, err := b.delegate.Get(ctx, key)
	b.observer.RecordOperation(string(b.Kind()), "get", time.Since(start), err)
	return body, err
}

func (b *InstrumentedBackend) Delete(ctx context.Context, key storage.Key) error {
	start := time.Now()
	err := b.delegate.Delete(ctx, key)
	b.observer.RecordOperation(string(b.Kind()), "delete", time.Since(start), err)
	return err
}

func (b *InstrumentedBackend) Exists(ctx context.Context, key storage.Key) (bool, error) {
	start := time.Now()
	exists, err := b.delegate.Exists(ctx, key)
	b.observer.RecordOperation(string(b.Kind()), "exists", time.Since(start), err)
	return exists, err
}

type countingReader struct {
	reader io.Reader
	read   int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read += int64(n)
	return n, err
}

var _ storage.Backend = (*InstrumentedBackend)(nil)
