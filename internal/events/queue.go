package events

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/mwantia/goattach/internal/metrics"
	"github.com/mwantia/goattach/pkg/log"
	"github.com/mwantia/goattach/pkg/tenant"
)

var ErrQueueClosed = errors.New("event queue closed")

type Config struct {
	Workers    int
	Buffer     int
	MaxRetries int
	// InitialInterval is the first redelivery delay, growing exponentially up to MaxInterval.
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Queue is an in-process at-least-once event queue drained by a worker pool.
type Queue struct {
	cfg      Config
	log      log.LoggerService
	observer metrics.Observer

	events chan Event
	stop   chan struct{}

	handlersMutex sync.RWMutex
	handlers      map[Type][]Handler

	mutex   sync.Mutex
	pending int
	idle    []chan struct{}
	closed  bool
	started bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	sending sync.WaitGroup
}

func NewQueue(cfg Config, logger log.LoggerService, observer metrics.Observer) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:      cfg,
		log:      log.OrDiscard(logger),
		observer: metrics.OrNop(observer),
		events:   make(chan Event, cfg.Buffer),
		stop:     make(chan struct{}),
		handlers: make(map[Type][]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Subscribe registers handler for events of typ.
func (q *Queue) Subscribe(typ Type, handler Handler) {
	q.handlersMutex.Lock()
	defer q.handlersMutex.Unlock()

	q.handlers[typ] = append(q.handlers[typ], handler)
}

// Start launches the worker pool. Calling it twice has no effect.
func (q *Queue) Start() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.started || q.closed {
		return
	}
	q.started = true

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	q.log.Debug("Started %d event workers", q.cfg.Workers)
}

// Emit queues an event carrying the tenant of ctx. It blocks while the
// buffer is full until ctx is done or the queue is closed.
func (q *Queue) Emit(ctx context.Context, typ Type, payload any) error {
	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		return ErrQueueClosed
	}
	q.pending++
	q.sending.Add(1)
	q.mutex.Unlock()
	defer q.sending.Done()

	event := Event{
		Type:    typ,
		Tenant:  tenant.FromContext(ctx),
		Payload: payload,
	}

	select {
	case q.events <- event:
		return nil
	case <-q.stop:
		q.done()
		return ErrQueueClosed
	case <-ctx.Done():
		q.done()
		return fmt.Errorf("failed to emit '%s': %w", typ, ctx.Err())
	}
}

// Flush blocks until every emitted event has been handled or ctx is done.
func (q *Queue) Flush(ctx context.Context) error {
	q.mutex.Lock()
	if q.pending == 0 {
		q.mutex.Unlock()
		return nil
	}
	idle := make(chan struct{})
	q.idle = append(q.idle, idle)
	q.mutex.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, drains the queue and waits for the workers.
// Redelivery is abandoned once ctx is done and events still buffered at that
// point are dropped. The events channel is never closed since emitters may
// still be blocked sending on it.
func (q *Queue) Close(ctx context.Context) error {
	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		return nil
	}
	q.closed = true
	started := q.started
	q.mutex.Unlock()

	var err error
	if started {
		if err = q.Flush(ctx); err != nil {
			q.cancel()
		}
	}

	close(q.stop)
	q.sending.Wait()
	q.wg.Wait()
	q.cancel()

	if dropped := q.drain(); dropped > 0 {
		q.log.Warn("Dropped %d undelivered events on close", dropped)
	}
	return err
}

func (q *Queue) work() {
	defer q.wg.Done()

	for {
		select {
		case <-q.stop:
			return
		case event := <-q.events:
			q.dispatch(event)
			q.done()
		}
	}
}

// drain discards buffered events once no emitter or worker is left.
func (q *Queue) drain() int {
	dropped := 0
	for {
		select {
		case <-q.events:
			q.done()
			dropped++
		default:
			return dropped
		}
	}
}

func (q *Queue) done() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.pending--
	if q.pending == 0 {
		for _, idle := range q.idle {
			close(idle)
		}
		q.idle = nil
	}
}

func (q *Queue) dispatch(event Event) {
	q.handlersMutex.RLock()
	handlers := q.handlers[event.Type]
	q.handlersMutex.RUnlock()

	if len(handlers) == 0 {
		q.log.Warn("No handler registered for event '%s'", event.Type)
		return
	}

	ctx := tenant.WithTenant(q.ctx, event.Tenant)
	for _, handler := range handlers {
		err := q.deliver(ctx, handler, event)
		q.observer.RecordEvent(string(event.Type), err)
		if err != nil {
			q.log.Error("Giving up on event '%s' after %d attempts: %v", event.Type, event.Attempt, err)
		}
	}
}

func (q *Queue) deliver(ctx context.Context, handler Handler, event Event) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = q.cfg.InitialInterval
	policy.MaxInterval = q.cfg.MaxInterval
	policy.MaxElapsedTime = 0

	operation := func() error {
		event.Attempt++
		return q.invoke(ctx, handler, event)
	}
	notify := func(err error, delay time.Duration) {
		q.log.Warn("Event '%s' failed (attempt %d), retrying in %s: %v", event.Type, event.Attempt, delay, err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(q.cfg.MaxRetries)), ctx)
	return backoff.RetryNotify(operation, b, notify)
}

func (q *Queue) invoke(ctx context.Context, handler Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("Event handler panic [%s]: %v, stack: %s", event.Type, r, debug.Stack())
			err = backoff.Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return handler(ctx, event)
}

var _ Emitter = (*Queue)(nil)
