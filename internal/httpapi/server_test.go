package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/mcpgate/internal/gateconfig"
	"github.com/compozy/mcpgate/internal/router"
	"github.com/compozy/mcpgate/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testCache() *router.Cache {
	cfg := &gateconfig.Config{Servers: map[string]*gateconfig.ServerEntry{
		"a": {Kind: gateconfig.KindStdio, Command: "echo"},
	}}
	return router.NewCache(cfg, func(service string, entry *gateconfig.ServerEntry) *router.ServiceRouter {
		return router.NewServiceRouter(service, entry, false, nil, logger.NewLogger(logger.TestConfig()))
	})
}

func TestHealthz(t *testing.T) {
	t.Run("Should report ok", func(t *testing.T) {
		engine := NewEngine(testCache(), Options{}, logger.NewLogger(logger.TestConfig()))
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestConfigHandler_RewritesURLs(t *testing.T) {
	t.Run("Should expose each service as a streamableHttp URL pointing back at the gateway", func(t *testing.T) {
		engine := NewEngine(testCache(), Options{}, logger.NewLogger(logger.TestConfig()))
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/mcp/config", nil)
		req.Host = "gateway.example"

		engine.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			McpServers map[string]struct {
				Type string `json:"type"`
				URL  string `json:"url"`
			} `json:"mcpServers"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Contains(t, body.McpServers, "a")
		assert.Equal(t, "streamableHttp", body.McpServers["a"].Type)
		assert.Equal(t, "http://gateway.example/a", body.McpServers["a"].URL)
	})
}

func TestServiceRoute_UnknownServiceIs404(t *testing.T) {
	t.Run("Should 404 with a plain-text body on a service absent from the config", func(t *testing.T) {
		engine := NewEngine(testCache(), Options{}, logger.NewLogger(logger.TestConfig()))
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/missing", nil)

		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "Service missing not found", w.Body.String())
	})
}

func TestConfigHandler_QueryParamsChooseShape(t *testing.T) {
	t.Run("Should honor sse/https/host query params independent of server-wide options", func(t *testing.T) {
		engine := NewEngine(testCache(), Options{SSEEnabled: false}, logger.NewLogger(logger.TestConfig()))
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/mcp/config?sse&https&host=h.example", nil)

		engine.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			McpServers map[string]struct {
				Type string `json:"type"`
				URL  string `json:"url"`
			} `json:"mcpServers"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Contains(t, body.McpServers, "a")
		assert.Equal(t, "sse", body.McpServers["a"].Type)
		assert.Equal(t, "https://h.example/a/sse", body.McpServers["a"].URL)
	})
}
