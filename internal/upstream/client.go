// Package upstream is the Upstream Client Factory: given a
// ServerEntry, it establishes a transport, performs the MCP handshake,
// and yields a live client handle exposing the standard MCP client
// operations.
package upstream

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/compozy/mcpgate/internal/gateconfig"
	"github.com/compozy/mcpgate/internal/gateerr"
)

// defaultClientInfo mirrors original_source/src/config.rs's fallback
// identity, used when the inbound session supplies no ClientInfo.
var defaultClientInfo = mcp.Implementation{
	Name:    "test sse client",
	Version: "0.0.1",
}

// Client is the set of MCP operations the Gate forwards to, uniform
// across the three transports.
type Client interface {
	PeerInfo() mcp.Implementation
	Complete(ctx context.Context, req mcp.CompleteRequest) (*mcp.CompleteResult, error)
	SetLevel(ctx context.Context, req mcp.SetLevelRequest) error
	GetPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error)
	ListPrompts(ctx context.Context) (*mcp.ListPromptsResult, error)
	ListResources(ctx context.Context) (*mcp.ListResourcesResult, error)
	ListResourceTemplates(ctx context.Context) (*mcp.ListResourceTemplatesResult, error)
	ReadResource(ctx context.Context, req mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error)
	Subscribe(ctx context.Context, req mcp.SubscribeRequest) error
	Unsubscribe(ctx context.Context, req mcp.UnsubscribeRequest) error
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	ListTools(ctx context.Context) (*mcp.ListToolsResult, error)
	Close() error
}

// New establishes a transport per entry.Kind, performs the initialize
// handshake with clientInfo (or the default identity when nil), and
// returns a bound Client plus the upstream's InitializeResult.
func New(
	ctx context.Context,
	entry *gateconfig.ServerEntry,
	clientInfo *mcp.Implementation,
) (Client, *mcp.InitializeResult, error) {
	info := defaultClientInfo
	if clientInfo != nil {
		info = *clientInfo
	}

	switch entry.Kind {
	case gateconfig.KindSse:
		return newSSEClient(ctx, entry, info)
	case gateconfig.KindStreamable:
		return newStreamableClient(ctx, entry, info)
	default:
		return newStdioClient(ctx, entry, info)
	}
}

func initRequest(info mcp.Implementation) mcp.InitializeRequest {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = info
	req.Params.Capabilities = mcp.ClientCapabilities{}
	return req
}

func wrapHandshake(op string, err error) error {
	if err == nil {
		return nil
	}
	return gateerr.New(gateerr.HandshakeError, op, err)
}

func wrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	return gateerr.New(gateerr.TransportError, op, err)
}

func wrapUpstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return gateerr.New(gateerr.UpstreamError, op, err)
}

