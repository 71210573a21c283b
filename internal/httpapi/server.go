// Package httpapi wires the gin engine exposing the multi-tenant
// gateway surface: per-service upstream proxying, config introspection,
// and a liveness probe.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/compozy/mcpgate/internal/router"
	"github.com/compozy/mcpgate/pkg/logger"
)

// Options configures the HTTP surface.
type Options struct {
	SSEEnabled bool
}

// NewEngine builds the gin engine over cache. cache's NewRouterFunc is
// expected to produce ServiceRouters already wired for opts.SSEEnabled.
func NewEngine(cache *router.Cache, opts Options, log logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(log), gin.Recovery(), cors())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/mcp/config", configHandler(cache, opts))
	r.GET("/mcp/config.json", configHandler(cache, opts))

	svc := r.Group("/:service")
	svc.POST("", serviceRoute(cache, func(sr *router.ServiceRouter, c *gin.Context) {
		sr.HandleStreamable(c.Writer, c.Request)
	}))
	if opts.SSEEnabled {
		svc.GET("/sse", serviceRoute(cache, func(sr *router.ServiceRouter, c *gin.Context) {
			sr.HandleSSE(c.Writer, c.Request)
		}))
		svc.POST("/message", serviceRoute(cache, func(sr *router.ServiceRouter, c *gin.Context) {
			sr.HandleMessage(c.Writer, c.Request)
		}))
	}

	return r
}

func serviceRoute(cache *router.Cache, fn func(*router.ServiceRouter, *gin.Context)) gin.HandlerFunc {
	return func(c *gin.Context) {
		service := c.Param("service")
		sr, err := cache.Get(service)
		if err != nil {
			writeNotFound(c, service)
			return
		}
		fn(sr, c)
	}
}

func writeNotFound(c *gin.Context, service string) {
	c.String(http.StatusNotFound, "Service %s not found", service)
}
