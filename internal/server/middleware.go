package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mwantia/goattach/pkg/tenant"
)

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		switch {
		case status >= 500:
			s.log.Error("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
		case status >= 400:
			s.log.Info("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
		default:
			s.log.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
		}
	}
}

// tenantMiddleware binds the tenant header onto the request context.
func tenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader(TenantHeader); id != "" {
			c.Request = c.Request.WithContext(tenant.WithTenant(c.Request.Context(), id))
		}
		c.Next()
	}
}
