package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/mwantia/goattach/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, retries int) *Queue {
	t.Helper()

	queue := NewQueue(Config{
		Workers:         2,
		Buffer:          16,
		MaxRetries:      retries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}, nil, nil)
	queue.Start()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = queue.Close(ctx)
	})
	return queue
}

func flush(t *testing.T, queue *Queue) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, queue.Flush(ctx))
}

func TestQueueDeliversWithTenant(t *testing.T) {
	queue := newTestQueue(t, 0)

	received := make(chan string, 1)
	queue.Subscribe(TypeDeleteAttachment, func(ctx context.Context, event Event) error {
		payload := event.Payload.(DeleteAttachment)
		received <- tenant.FromContext(ctx) + ":" + payload.URL
		return nil
	})

	ctx := tenant.WithTenant(context.Background(), "t1")
	require.NoError(t, queue.Emit(ctx, TypeDeleteAttachment, DeleteAttachment{URL: "u1"}))
	flush(t, queue)

	assert.Equal(t, "t1:u1", <-received)
}

func TestQueueRetriesFailedHandler(t *testing.T) {
	queue := newTestQueue(t, 5)

	var attempts atomic.Int32
	queue.Subscribe(TypeScanAttachmentsFile, func(ctx context.Context, event Event) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, queue.Emit(context.Background(), TypeScanAttachmentsFile, ScanAttachmentsFile{}))
	flush(t, queue)

	assert.Equal(t, int32(3), attempts.Load())
}

func TestQueueStopsOnPermanentError(t *testing.T) {
	queue := newTestQueue(t, 5)

	var attempts atomic.Int32
	queue.Subscribe(TypeScanAttachmentsFile, func(ctx context.Context, event Event) error {
		attempts.Add(1)
		return backoff.Permanent(errors.New("misconfigured"))
	})

	require.NoError(t, queue.Emit(context.Background(), TypeScanAttachmentsFile, ScanAttachmentsFile{}))
	flush(t, queue)

	assert.Equal(t, int32(1), attempts.Load())
}

func TestQueueRecoversHandlerPanic(t *testing.T) {
	queue := newTestQueue(t, 3)

	var attempts atomic.Int32
	queue.Subscribe(TypeDeleteAttachment, func(ctx context.Context, event Event) error {
		attempts.Add(1)
		panic("boom")
	})

	require.NoError(t, queue.Emit(context.Background(), TypeDeleteAttachment, DeleteAttachment{}))
	flush(t, queue)

	assert.Equal(t, int32(1), attempts.Load())
}

func TestQueueRejectsAfterClose(t *testing.T) {
	queue := NewQueue(Config{Workers: 1, Buffer: 1}, nil, nil)
	queue.Start()

	var handled atomic.Int32
	queue.Subscribe(TypeDeleteAttachment, func(ctx context.Context, event Event) error {
		handled.Add(1)
		return nil
	})
	require.NoError(t, queue.Emit(context.Background(), TypeDeleteAttachment, DeleteAttachment{}))

	require.NoError(t, queue.Close(context.Background()))
	assert.Equal(t, int32(1), handled.Load())
	assert.ErrorIs(t, queue.Emit(context.Background(), TypeDeleteAttachment, DeleteAttachment{}), ErrQueueClosed)
}

func TestFlushWithoutPendingEvents(t *testing.T) {
	queue := newTestQueue(t, 0)
	flush(t, queue)
}

func TestCloseReleasesBlockedEmitters(t *testing.T) {
	queue := NewQueue(Config{Workers: 1, Buffer: 0, InitialInterval: time.Millisecond}, nil, nil)
	queue.Start()

	busy := make(chan struct{}, 1)
	release := make(chan struct{})
	queue.Subscribe(TypeScanAttachmentsFile, func(ctx context.Context, event Event) error {
		busy <- struct{}{}
		<-release
		return nil
	})

	require.NoError(t, queue.Emit(context.Background(), TypeScanAttachmentsFile, ScanAttachmentsFile{}))
	<-busy

	errs := make(chan error, 2)
	for range 2 {
		go func() {
			errs <- queue.Emit(context.Background(), TypeScanAttachmentsFile, ScanAttachmentsFile{})
		}()
	}
	require.Eventually(t, func() bool {
		queue.mutex.Lock()
		defer queue.mutex.Unlock()
		return queue.pending == 3
	}, time.Second, time.Millisecond)

	closed := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		closed <- queue.Close(ctx)
	}()

	// The worker is still busy, so the emitters can only be released by Close.
	for range 2 {
		assert.ErrorIs(t, <-errs, ErrQueueClosed)
	}
	close(release)

	assert.ErrorIs(t, <-closed, context.DeadlineExceeded)
	assert.NoError(t, queue.Flush(context.Background()))
}

func TestCloseWithoutStart(t *testing.T) {
	queue := NewQueue(Config{Workers: 1, Buffer: 1}, nil, nil)

	require.NoError(t, queue.Emit(context.Background(), TypeDeleteAttachment, DeleteAttachment{}))

	blocked := make(chan error, 1)
	go func() {
		blocked <- queue.Emit(context.Background(), TypeDeleteAttachment, DeleteAttachment{})
	}()
	require.Eventually(t, func() bool {
		queue.mutex.Lock()
		defer queue.mutex.Unlock()
		return queue.pending == 2
	}, time.Second, time.Millisecond)

	require.NoError(t, queue.Close(context.Background()))
	assert.ErrorIs(t, <-blocked, ErrQueueClosed)
	assert.NoError(t, queue.Flush(context.Background()))
}
