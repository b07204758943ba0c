// Package server exposes attachments over HTTP using OData style addressing
// below /odata, e.g. `PUT /odata/Incidents(1)/attachments(<id>)/content`.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mwantia/goattach/internal/attachments"
	config "github.com/mwantia/goattach/internal/config/server"
	"github.com/mwantia/goattach/internal/schema"
	"github.com/mwantia/goattach/pkg/db/store"
	"github.com/mwantia/goattach/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const TenantHeader = "X-Tenant-ID"

type Server struct {
	cfg     config.HTTPServerConfig
	model   *schema.Model
	service *attachments.Service
	store   store.MetadataStore
	log     log.LoggerService

	engine *gin.Engine
	http   *http.Server
}

// NewServer builds the router. Metrics are served from gatherer when the
// configuration enables them.
func NewServer(cfg config.HTTPServerConfig, model *schema.Model, service *attachments.Service,
	s store.MetadataStore, gatherer prometheus.Gatherer, logger log.LoggerService) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		cfg:     cfg,
		model:   model,
		service: service,
		store:   s,
		log:     log.OrDiscard(logger),
		engine:  gin.New(),
	}

	server.engine.Use(server.requestLogger(), gin.Recovery(), tenantMiddleware())

	server.engine.GET("/health", server.health)
	if cfg.Metrics && gatherer != nil {
		server.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	server.engine.Any("/odata/*path", server.odata)
	server.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NotFound", "message": "no such route"}})
	})

	return server
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve listens on the configured address until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	s.http = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 30 * time.Second,
	}

	s.log.Info("Listening on '%s'", listener.Addr())
	if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Listen opens the configured address.
func (s *Server) Listen() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on '%s': %w", s.cfg.Address, err)
	}
	return listener, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	if err := s.store.Health(c.Request.Context()); err != nil {
		s.log.Warn("Health check failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": s.service.Backend().Kind()})
}
