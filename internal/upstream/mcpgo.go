package upstream

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/compozy/mcpgate/internal/gateconfig"
)

// mcpgoClient adapts mark3labs/mcp-go's *client.Client (used for the
// Sse and Streamable variants) to the Client interface, aggregating
// paginated list operations.
type mcpgoClient struct {
	c        *client.Client
	peerInfo mcp.Implementation
}

func newSSEClient(
	ctx context.Context,
	entry *gateconfig.ServerEntry,
	info mcp.Implementation,
) (Client, *mcp.InitializeResult, error) {
	c, err := client.NewSSEMCPClient(entry.URL)
	if err != nil {
		return nil, nil, wrapTransport("sse.dial", err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, nil, wrapTransport("sse.start", err)
	}
	return handshake(ctx, c, info)
}

func newStreamableClient(
	ctx context.Context,
	entry *gateconfig.ServerEntry,
	info mcp.Implementation,
) (Client, *mcp.InitializeResult, error) {
	c, err := client.NewStreamableHttpClient(entry.URL)
	if err != nil {
		return nil, nil, wrapTransport("streamable.dial", err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, nil, wrapTransport("streamable.start", err)
	}
	return handshake(ctx, c, info)
}

func handshake(ctx context.Context, c *client.Client, info mcp.Implementation) (Client, *mcp.InitializeResult, error) {
	req := initRequest(info)
	result, err := c.Initialize(ctx, req)
	if err != nil {
		_ = c.Close()
		return nil, nil, wrapHandshake("initialize", err)
	}
	return &mcpgoClient{c: c, peerInfo: result.ServerInfo}, result, nil
}

func (m *mcpgoClient) PeerInfo() mcp.Implementation { return m.peerInfo }

func (m *mcpgoClient) Complete(ctx context.Context, req mcp.CompleteRequest) (*mcp.CompleteResult, error) {
	res, err := m.c.Complete(ctx, req)
	return res, wrapUpstream("complete", err)
}

func (m *mcpgoClient) SetLevel(ctx context.Context, req mcp.SetLevelRequest) error {
	return wrapUpstream("set_level", m.c.SetLevel(ctx, req))
}

func (m *mcpgoClient) GetPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	res, err := m.c.GetPrompt(ctx, req)
	return res, wrapUpstream("get_prompt", err)
}

func (m *mcpgoClient) ListPrompts(ctx context.Context) (*mcp.ListPromptsResult, error) {
	agg := &mcp.ListPromptsResult{}
	cursor := ""
	for {
		req := mcp.ListPromptsRequest{}
		if cursor != "" {
			req.Params.Cursor = mcp.Cursor(cursor)
		}
		page, err := m.c.ListPrompts(ctx, req)
		if err != nil {
			return nil, wrapUpstream("list_prompts", err)
		}
		agg.Prompts = append(agg.Prompts, page.Prompts...)
		if page.NextCursor == "" {
			break
		}
		cursor = string(page.NextCursor)
	}
	return agg, nil
}

func (m *mcpgoClient) ListResources(ctx context.Context) (*mcp.ListResourcesResult, error) {
	agg := &mcp.ListResourcesResult{}
	cursor := ""
	for {
		req := mcp.ListResourcesRequest{}
		if cursor != "" {
			req.Params.Cursor = mcp.Cursor(cursor)
		}
		page, err := m.c.ListResources(ctx, req)
		if err != nil {
			return nil, wrapUpstream("list_resources", err)
		}
		agg.Resources = append(agg.Resources, page.Resources...)
		if page.NextCursor == "" {
			break
		}
		cursor = string(page.NextCursor)
	}
	return agg, nil
}

func (m *mcpgoClient) ListResourceTemplates(ctx context.Context) (*mcp.ListResourceTemplatesResult, error) {
	agg := &mcp.ListResourceTemplatesResult{}
	cursor := ""
	for {
		req := mcp.ListResourceTemplatesRequest{}
		if cursor != "" {
			req.Params.Cursor = mcp.Cursor(cursor)
		}
		page, err := m.c.ListResourceTemplates(ctx, req)
		if err != nil {
			return nil, wrapUpstream("list_resource_templates", err)
		}
		agg.ResourceTemplates = append(agg.ResourceTemplates, page.ResourceTemplates...)
		if page.NextCursor == "" {
			break
		}
		cursor = string(page.NextCursor)
	}
	return agg, nil
}

func (m *mcpgoClient) ReadResource(ctx context.Context, req mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	res, err := m.c.ReadResource(ctx, req)
	return res, wrapUpstream("read_resource", err)
}

func (m *mcpgoClient) Subscribe(ctx context.Context, req mcp.SubscribeRequest) error {
	return wrapUpstream("subscribe", m.c.Subscribe(ctx, req))
}

func (m *mcpgoClient) Unsubscribe(ctx context.Context, req mcp.UnsubscribeRequest) error {
	return wrapUpstream("unsubscribe", m.c.Unsubscribe(ctx, req))
}

func (m *mcpgoClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := m.c.CallTool(ctx, req)
	return res, wrapUpstream("call_tool", err)
}

func (m *mcpgoClient) ListTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	agg := &mcp.ListToolsResult{}
	cursor := ""
	for {
		req := mcp.ListToolsRequest{}
		if cursor != "" {
			req.Params.Cursor = mcp.Cursor(cursor)
		}
		page, err := m.c.ListTools(ctx, req)
		if err != nil {
			return nil, wrapUpstream("list_tools", err)
		}
		agg.Tools = append(agg.Tools, page.Tools...)
		if page.NextCursor == "" {
			break
		}
		cursor = string(page.NextCursor)
	}
	return agg, nil
}

func (m *mcpgoClient) Close() error {
	if err := m.c.Close(); err != nil {
		return fmt.Errorf("close upstream client: %w", err)
	}
	return nil
}
