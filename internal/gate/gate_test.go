package gate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/mcpgate/internal/gateconfig"
	"github.com/compozy/mcpgate/internal/gateerr"
	"github.com/compozy/mcpgate/internal/upstream"
	"github.com/compozy/mcpgate/pkg/logger"
)

type stubClient struct {
	peerInfo   mcp.Implementation
	toolPages  [][]mcp.Tool
	closeCalls int
}

func (s *stubClient) PeerInfo() mcp.Implementation { return s.peerInfo }
func (s *stubClient) Complete(context.Context, mcp.CompleteRequest) (*mcp.CompleteResult, error) {
	return &mcp.CompleteResult{}, nil
}
func (s *stubClient) SetLevel(context.Context, mcp.SetLevelRequest) error { return nil }
func (s *stubClient) GetPrompt(context.Context, mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{}, nil
}
func (s *stubClient) ListPrompts(context.Context) (*mcp.ListPromptsResult, error) {
	return &mcp.ListPromptsResult{}, nil
}
func (s *stubClient) ListResources(context.Context) (*mcp.ListResourcesResult, error) {
	return &mcp.ListResourcesResult{}, nil
}
func (s *stubClient) ListResourceTemplates(context.Context) (*mcp.ListResourceTemplatesResult, error) {
	return &mcp.ListResourceTemplatesResult{}, nil
}
func (s *stubClient) ReadResource(context.Context, mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{}, nil
}
func (s *stubClient) Subscribe(context.Context, mcp.SubscribeRequest) error   { return nil }
func (s *stubClient) Unsubscribe(context.Context, mcp.UnsubscribeRequest) error { return nil }
func (s *stubClient) CallTool(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{}, nil
}
func (s *stubClient) ListTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	agg := &mcp.ListToolsResult{}
	for _, page := range s.toolPages {
		agg.Tools = append(agg.Tools, page...)
	}
	return agg, nil
}
func (s *stubClient) Close() error { s.closeCalls++; return nil }

func stubFactory(client upstream.Client, err error, calls *int) Factory {
	return func(context.Context, *gateconfig.ServerEntry, *mcp.Implementation) (upstream.Client, *mcp.InitializeResult, error) {
		*calls++
		if err != nil {
			return nil, nil, err
		}
		return client, &mcp.InitializeResult{ServerInfo: client.PeerInfo()}, nil
	}
}

func testEntry() *gateconfig.ServerEntry {
	return &gateconfig.ServerEntry{Kind: gateconfig.KindStdio, Command: "echo"}
}

func TestGate_PingBypassesBinding(t *testing.T) {
	t.Run("Should answer ping even when unbound", func(t *testing.T) {
		g := New(testEntry(), nil, logger.NewLogger(logger.TestConfig()))

		result, err := g.HandleRequest(context.Background(), mcp.MethodPing, nil)

		require.NoError(t, err)
		assert.NotNil(t, result)
		assert.Equal(t, StateUnbound, g.State())
	})
}

func TestGate_ProtocolMisuseBeforeInitialize(t *testing.T) {
	t.Run("Should reject non-initialize non-ping requests while unbound", func(t *testing.T) {
		g := New(testEntry(), nil, logger.NewLogger(logger.TestConfig()))

		_, err := g.HandleRequest(context.Background(), mcp.MethodToolsList, nil)

		require.Error(t, err)
		kind, ok := gateerr.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, gateerr.ProtocolMisuse, kind)
	})
}

func TestGate_InitializeForwarding(t *testing.T) {
	t.Run("Should invoke the factory with the peer's ClientInfo and return the upstream result verbatim", func(t *testing.T) {
		calls := 0
		upstreamInfo := mcp.Implementation{Name: "u", Version: "2"}
		factory := stubFactory(&stubClient{peerInfo: upstreamInfo}, nil, &calls)
		g := New(testEntry(), factory, logger.NewLogger(logger.TestConfig()))

		params, err := json.Marshal(map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"clientInfo":      map[string]string{"name": "c", "version": "1"},
			"capabilities":    map[string]any{},
		})
		require.NoError(t, err)

		result, err := g.HandleRequest(context.Background(), mcp.MethodInitialize, params)

		require.NoError(t, err)
		initResult, ok := result.(*mcp.InitializeResult)
		require.True(t, ok)
		assert.Equal(t, upstreamInfo, initResult.ServerInfo)
		assert.Equal(t, StateBound, g.State())
		assert.Equal(t, 1, calls)
	})
}

func TestGate_SingleBind(t *testing.T) {
	t.Run("Should invoke the factory at most once across repeated initialize calls while bound", func(t *testing.T) {
		calls := 0
		factory := stubFactory(&stubClient{}, nil, &calls)
		g := New(testEntry(), factory, logger.NewLogger(logger.TestConfig()))

		_, err := g.HandleRequest(context.Background(), mcp.MethodInitialize, nil)
		require.NoError(t, err)

		// A list operation after bind must not trigger another factory call.
		_, err = g.HandleRequest(context.Background(), mcp.MethodToolsList, nil)
		require.NoError(t, err)

		// A repeated initialize while bound must not trigger one either.
		_, _ = g.HandleRequest(context.Background(), mcp.MethodInitialize, nil)

		assert.Equal(t, 1, calls)
	})
}

func TestGate_ListToolsAggregation(t *testing.T) {
	t.Run("Should concatenate all tool pages and omit next_cursor", func(t *testing.T) {
		calls := 0
		client := &stubClient{toolPages: [][]mcp.Tool{
			{{Name: "a"}, {Name: "b"}},
			{{Name: "c"}},
		}}
		factory := stubFactory(client, nil, &calls)
		g := New(testEntry(), factory, logger.NewLogger(logger.TestConfig()))
		_, err := g.HandleRequest(context.Background(), mcp.MethodInitialize, nil)
		require.NoError(t, err)

		result, err := g.HandleRequest(context.Background(), mcp.MethodToolsList, nil)

		require.NoError(t, err)
		listResult, ok := result.(*mcp.ListToolsResult)
		require.True(t, ok)
		assert.Len(t, listResult.Tools, 3)
		assert.Empty(t, listResult.NextCursor)
	})
}

func TestGate_InitializeFailureReturnsToUnbound(t *testing.T) {
	t.Run("Should return to Unbound on factory failure so a retry is possible", func(t *testing.T) {
		calls := 0
		factory := stubFactory(nil, assertErr, &calls)
		g := New(testEntry(), factory, logger.NewLogger(logger.TestConfig()))

		_, err := g.HandleRequest(context.Background(), mcp.MethodInitialize, nil)

		require.Error(t, err)
		assert.Equal(t, StateUnbound, g.State())
	})
}

var assertErr = gateerr.New(gateerr.HandshakeError, "initialize", errFake{})

type errFake struct{}

func (errFake) Error() string { return "boom" }

func TestGate_Close(t *testing.T) {
	t.Run("Should close the bound upstream client", func(t *testing.T) {
		calls := 0
		client := &stubClient{}
		factory := stubFactory(client, nil, &calls)
		g := New(testEntry(), factory, logger.NewLogger(logger.TestConfig()))
		_, err := g.HandleRequest(context.Background(), mcp.MethodInitialize, nil)
		require.NoError(t, err)

		require.NoError(t, g.Close())

		assert.Equal(t, 1, client.closeCalls)
		assert.Equal(t, StateClosed, g.State())
	})
}
