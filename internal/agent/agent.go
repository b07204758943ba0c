package agent

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mwantia/fabric/pkg/container"
	"github.com/mwantia/goattach/internal/attachments"
	config "github.com/mwantia/goattach/internal/config/server"
	"github.com/mwantia/goattach/internal/events"
	"github.com/mwantia/goattach/internal/metrics"
	"github.com/mwantia/goattach/internal/scan"
	"github.com/mwantia/goattach/internal/schema"
	"github.com/mwantia/goattach/internal/server"
	"github.com/mwantia/goattach/pkg/db/store"
	"github.com/mwantia/goattach/pkg/log"
	"github.com/mwantia/goattach/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Agent struct {
	mutex sync.RWMutex
	wait  sync.WaitGroup

	cfg *config.BaseServerConfig
	sc  *container.ServiceContainer
	log log.LoggerService

	registry *prometheus.Registry
	store    store.MetadataStore
	queue    *events.Queue
	service  *attachments.Service
	server   *server.Server
	addr     net.Addr
}

func NewAgent(cfg *config.BaseServerConfig) *Agent {
	return &Agent{
		cfg:      cfg,
		sc:       container.NewServiceContainer(),
		log:      log.NewLoggerService("goattach", cfg.Log),
		registry: prometheus.NewRegistry(),
	}
}

func (a *Agent) setupServices(ctx context.Context) error {
	a.log.Debug("Registering 'LoggerService'...")
	if err := container.Register[log.LoggerServiceImpl](a.sc,
		container.With[log.LoggerService](),
		container.WithInstance(a.log)); err != nil {
		return fmt.Errorf("failed to register logger service: %w", err)
	}

	model, err := schema.Load(a.cfg.Entities)
	if err != nil {
		return fmt.Errorf("invalid entity model: %w", err)
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer, err := metrics.NewPrometheusObserver("goattach", a.registry)
	if err != nil {
		return err
	}

	a.log.Debug("Opening %s metadata store...", a.cfg.Metadata.Type)
	a.store, err = OpenStore(ctx, a.cfg.Metadata)
	if err != nil {
		return err
	}
	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate metadata store: %w", err)
	}

	backend, err := storage.New(a.cfg.Storage, a.store, a.named(ctx, "storage"))
	if err != nil {
		return err
	}

	expiry, err := parseDuration(a.cfg.Scan.Expiry, 0)
	if err != nil {
		return fmt.Errorf("invalid scan expiry: %w", err)
	}

	a.queue = events.NewQueue(events.Config{
		Workers:    a.cfg.Events.Workers,
		Buffer:     a.cfg.Events.Buffer,
		MaxRetries: a.cfg.Events.MaxRetries,
	}, a.named(ctx, "events"), observer)

	instrumented := metrics.Instrument(backend, observer)
	a.service = attachments.NewService(a.store, instrumented, a.queue, attachments.Config{
		ScanEnabled: a.cfg.Scan.Enabled,
		ScanExpiry:  expiry,
		Tenancy:     a.cfg.Storage.Tenancy,
	}, a.named(ctx, "attachments"))

	var scanner scan.Scanner
	if a.cfg.Scan.Enabled {
		httpScanner, err := scan.NewHTTPScanner(a.cfg.Scan, a.named(ctx, "scanner"))
		if err != nil {
			return err
		}
		scanner = httpScanner
	}
	coordinator := scan.NewCoordinator(a.service, scanner, a.named(ctx, "scan"), observer)

	a.queue.Subscribe(events.TypeScanAttachmentsFile, coordinator.Handle)
	a.queue.Subscribe(events.TypeDeleteAttachment, a.service.DeleteBlob)

	a.server = server.NewServer(a.cfg.HTTP, model, a.service, a.store, a.registry, a.named(ctx, "http"))

	errs := container.Errors{}

	a.log.Debug("Registering 'MetadataStore'...")
	switch s := a.store.(type) {
	case *store.SQLiteStore:
		errs.Add(container.Register[store.SQLiteStore](a.sc,
			container.With[store.MetadataStore](),
			container.WithInstance(s)))
	case *store.PostgresStore:
		errs.Add(container.Register[store.PostgresStore](a.sc,
			container.With[store.MetadataStore](),
			container.WithInstance(s)))
	}

	a.log.Debug("Registering 'Backend'...")
	errs.Add(container.Register[metrics.InstrumentedBackend](a.sc,
		container.With[storage.Backend](),
		container.WithInstance(instrumented)))

	a.log.Debug("Registering 'Emitter'...")
	errs.Add(container.Register[events.Queue](a.sc,
		container.With[events.Emitter](),
		container.WithInstance(a.queue)))

	a.log.Debug("Registering 'Service'...")
	errs.Add(container.Register[attachments.Service](a.sc,
		container.WithInstance(a.service)))

	a.log.Debug("Registering 'Coordinator'...")
	errs.Add(container.Register[scan.Coordinator](a.sc,
		container.WithInstance(coordinator)))

	return errs.Errors()
}

// Serve runs the agent until ctx is cancelled or the process is interrupted.
func (a *Agent) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a.mutex.Lock()
	if err := a.setupServices(ctx); err != nil {
		a.mutex.Unlock()
		a.closeStore()
		return err
	}

	listener, err := a.server.Listen()
	if err != nil {
		a.mutex.Unlock()
		a.closeStore()
		return err
	}

	a.queue.Start()
	failed := a.serveHTTP(listener)
	a.addr = listener.Addr()
	a.mutex.Unlock()

	a.log.Info("Serving '%s' with %s storage backend", listener.Addr(), a.cfg.Storage.Kind)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-failed:
	}

	if err := a.shutdown(); err != nil {
		return multierror.Append(serveErr, err)
	}
	return serveErr
}

// Addr returns the address the agent listens on, nil until Serve is ready.
func (a *Agent) Addr() net.Addr {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.addr
}

// serveHTTP serves in the background. A failure is reported on the returned channel.
func (a *Agent) serveHTTP(listener net.Listener) <-chan error {
	failed := make(chan error, 1)

	a.wait.Add(1)
	go func() {
		defer a.wait.Done()
		if err := a.server.Serve(listener); err != nil {
			failed <- err
		}
	}()

	return failed
}

func (a *Agent) shutdown() error {
	timeout, err := parseDuration(a.cfg.ShutdownTimeout, 60*time.Second)
	if err != nil {
		// Set default of 60 seconds if error
		timeout = 60 * time.Second
	}

	shutdown, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.log.Info("Shutting down...")

	var result *multierror.Error
	if err := a.server.Shutdown(shutdown); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to shut down http server: %w", err))
	}
	if err := a.queue.Close(shutdown); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to drain event queue: %w", err))
	}
	if err := a.sc.Cleanup(shutdown); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to complete service container cleanup: %w", err))
	}

	a.wait.Wait()
	a.closeStore()
	return result.ErrorOrNil()
}

func (a *Agent) closeStore() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("Failed to close metadata store: %v", err)
	}
}

// named resolves a child logger through the service container.
func (a *Agent) named(ctx context.Context, name string) log.LoggerService {
	logger, err := log.FromContainer(ctx, a.sc, name)
	if err != nil {
		a.log.Warn("Failed to resolve logger '%s': %v", name, err)
		return a.log.Named(name)
	}
	return logger
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}
