package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/compozy/mcpgate/internal/gateconfig"
	"github.com/compozy/mcpgate/internal/router"
)

// configHandler serves the current config snapshot with every entry
// rewritten to the reachable-through-the-gateway URL rather than the
// real upstream address, so a client can point directly at this
// gateway without knowing how any given service is actually run. The
// sse/https/host query parameters choose the shape of the rewritten
// URLs; opts plays no part in this.
func configHandler(cache *router.Cache, _ Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot := cache.Snapshot()
		view := &gateconfig.Config{Servers: make(map[string]*gateconfig.ServerEntry, len(snapshot.Servers))}
		_, sse := c.GetQuery("sse")
		base := externalBaseURL(c)
		for name, entry := range snapshot.Servers {
			if sse {
				view.Servers[name] = entry.WithURL(gateconfig.KindSse, base+"/"+name+"/sse")
			} else {
				view.Servers[name] = entry.WithURL(gateconfig.KindStreamable, base+"/"+name)
			}
		}
		c.JSON(http.StatusOK, view)
	}
}

// externalBaseURL resolves scheme://host from the https/host query
// parameters: https presence selects the scheme, host overrides the
// inbound Host header, which itself falls back to empty.
func externalBaseURL(c *gin.Context) string {
	scheme := "http"
	if _, ok := c.GetQuery("https"); ok {
		scheme = "https"
	}
	host := c.Query("host")
	if host == "" {
		host = c.Request.Host
	}
	return scheme + "://" + host
}
