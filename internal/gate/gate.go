// Package gate implements the translating proxy: one Gate
// per (service × inbound session), presenting the server side of MCP
// to the inbound client while lazily binding an upstream client on the
// session's first initialize.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/compozy/mcpgate/internal/gateconfig"
	"github.com/compozy/mcpgate/internal/gateerr"
	"github.com/compozy/mcpgate/internal/upstream"
	"github.com/compozy/mcpgate/pkg/logger"
)

// State is the Gate's upstream-binding state machine.
type State int32

const (
	StateUnbound State = iota
	StateBinding
	StateBound
	StateClosed
)

// Factory establishes an upstream client; production code wires this
// to upstream.New, tests substitute a stub.
type Factory func(ctx context.Context, entry *gateconfig.ServerEntry, clientInfo *mcp.Implementation) (upstream.Client, *mcp.InitializeResult, error)

// Gate is constructed with a shared ServerEntry reference and an
// initially empty UpstreamClient slot.
type Gate struct {
	entry   *gateconfig.ServerEntry
	factory Factory
	log     logger.Logger

	mu     sync.RWMutex
	state  State
	client upstream.Client
}

// New builds a Gate bound to entry, using factory to create the
// upstream client on first initialize.
func New(entry *gateconfig.ServerEntry, factory Factory, log logger.Logger) *Gate {
	if factory == nil {
		factory = upstream.New
	}
	return &Gate{entry: entry, factory: factory, log: log, state: StateUnbound}
}

// State reports the Gate's current binding state.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Close transitions the Gate to Closed and releases its upstream
// client, if any.
func (g *Gate) Close() error {
	g.mu.Lock()
	client := g.client
	g.client = nil
	g.state = StateClosed
	g.mu.Unlock()
	if client != nil {
		return client.Close()
	}
	return nil
}

// HandleRequest dispatches a single inbound JSON-RPC request by MCP
// method name and returns the result to serialize downstream. A
// non-nil error is always an MCP INTERNAL_ERROR reply; the session
// itself is not closed.
func (g *Gate) HandleRequest(ctx context.Context, method string, rawParams json.RawMessage) (any, error) {
	switch method {
	case mcp.MethodInitialize:
		return g.handleInitialize(ctx, rawParams)
	case mcp.MethodPing:
		return struct{}{}, nil
	case mcp.MethodCompletionComplete:
		return g.forwardComplete(ctx, rawParams)
	case mcp.MethodLoggingSetLevel:
		return g.forwardSetLevel(ctx, rawParams)
	case mcp.MethodPromptsGet:
		return g.forwardGetPrompt(ctx, rawParams)
	case mcp.MethodResourcesRead:
		return g.forwardReadResource(ctx, rawParams)
	case mcp.MethodResourcesSubscribe:
		return g.forwardSubscribe(ctx, rawParams)
	case mcp.MethodResourcesUnsubscribe:
		return g.forwardUnsubscribe(ctx, rawParams)
	case mcp.MethodToolsCall:
		return g.forwardCallTool(ctx, rawParams)
	case mcp.MethodPromptsList:
		return g.boundClient(method, func(c upstream.Client) (any, error) { return c.ListPrompts(ctx) })
	case mcp.MethodResourcesList:
		return g.boundClient(method, func(c upstream.Client) (any, error) { return c.ListResources(ctx) })
	case mcp.MethodResourcesTemplatesList:
		return g.boundClient(method, func(c upstream.Client) (any, error) { return c.ListResourceTemplates(ctx) })
	case mcp.MethodToolsList:
		return g.boundClient(method, func(c upstream.Client) (any, error) { return c.ListTools(ctx) })
	default:
		return nil, gateerr.New(gateerr.ProtocolMisuse, method, fmt.Errorf("unsupported method %q", method))
	}
}

// HandleNotification accepts and drops every inbound notification
// (cancelled, progress, initialized, roots_list_changed); forwarding
// upstream is not performed in this design.
func (g *Gate) HandleNotification(_ context.Context, _ string, _ json.RawMessage) {}

func (g *Gate) handleInitialize(ctx context.Context, rawParams json.RawMessage) (any, error) {
	var req mcp.InitializeRequest
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &req.Params); err != nil {
			return nil, gateerr.New(gateerr.HandshakeError, "initialize", err)
		}
	}

	g.mu.Lock()
	switch g.state {
	case StateClosed:
		g.mu.Unlock()
		return nil, gateerr.New(gateerr.ProtocolMisuse, "initialize", fmt.Errorf("session closed"))
	case StateBinding, StateBound:
		g.mu.Unlock()
		return nil, gateerr.New(gateerr.ProtocolMisuse, "initialize", fmt.Errorf("upstream already bound"))
	}
	g.state = StateBinding
	g.mu.Unlock()

	var clientInfoPtr *mcp.Implementation
	if req.Params.ClientInfo.Name != "" || req.Params.ClientInfo.Version != "" {
		ci := req.Params.ClientInfo
		clientInfoPtr = &ci
	}

	client, result, err := g.factory(ctx, g.entry, clientInfoPtr)
	if err != nil {
		g.mu.Lock()
		g.state = StateUnbound
		g.mu.Unlock()
		return nil, err
	}

	g.mu.Lock()
	g.client = client
	g.state = StateBound
	g.mu.Unlock()

	if result == nil {
		result = &mcp.InitializeResult{ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION}
	}
	return result, nil
}

// boundClient runs fn against the bound upstream client, translating
// an absent binding into ProtocolMisuse.
func (g *Gate) boundClient(op string, fn func(upstream.Client) (any, error)) (any, error) {
	g.mu.RLock()
	client := g.client
	g.mu.RUnlock()
	if client == nil {
		return nil, gateerr.New(gateerr.ProtocolMisuse, op, fmt.Errorf("no upstream bound"))
	}
	return fn(client)
}

func (g *Gate) forwardComplete(ctx context.Context, rawParams json.RawMessage) (any, error) {
	var req mcp.CompleteRequest
	if err := unmarshalParams(rawParams, &req.Params); err != nil {
		return nil, err
	}
	return g.boundClient(mcp.MethodCompletionComplete, func(c upstream.Client) (any, error) {
		return c.Complete(ctx, req)
	})
}

func (g *Gate) forwardSetLevel(ctx context.Context, rawParams json.RawMessage) (any, error) {
	var req mcp.SetLevelRequest
	if err := unmarshalParams(rawParams, &req.Params); err != nil {
		return nil, err
	}
	return g.boundClient(mcp.MethodLoggingSetLevel, func(c upstream.Client) (any, error) {
		return struct{}{}, c.SetLevel(ctx, req)
	})
}

func (g *Gate) forwardGetPrompt(ctx context.Context, rawParams json.RawMessage) (any, error) {
	var req mcp.GetPromptRequest
	if err := unmarshalParams(rawParams, &req.Params); err != nil {
		return nil, err
	}
	return g.boundClient(mcp.MethodPromptsGet, func(c upstream.Client) (any, error) {
		return c.GetPrompt(ctx, req)
	})
}

func (g *Gate) forwardReadResource(ctx context.Context, rawParams json.RawMessage) (any, error) {
	var req mcp.ReadResourceRequest
	if err := unmarshalParams(rawParams, &req.Params); err != nil {
		return nil, err
	}
	return g.boundClient(mcp.MethodResourcesRead, func(c upstream.Client) (any, error) {
		return c.ReadResource(ctx, req)
	})
}

func (g *Gate) forwardSubscribe(ctx context.Context, rawParams json.RawMessage) (any, error) {
	var req mcp.SubscribeRequest
	if err := unmarshalParams(rawParams, &req.Params); err != nil {
		return nil, err
	}
	return g.boundClient(mcp.MethodResourcesSubscribe, func(c upstream.Client) (any, error) {
		return struct{}{}, c.Subscribe(ctx, req)
	})
}

func (g *Gate) forwardUnsubscribe(ctx context.Context, rawParams json.RawMessage) (any, error) {
	var req mcp.UnsubscribeRequest
	if err := unmarshalParams(rawParams, &req.Params); err != nil {
		return nil, err
	}
	return g.boundClient(mcp.MethodResourcesUnsubscribe, func(c upstream.Client) (any, error) {
		return struct{}{}, c.Unsubscribe(ctx, req)
	})
}

func (g *Gate) forwardCallTool(ctx context.Context, rawParams json.RawMessage) (any, error) {
	var req mcp.CallToolRequest
	if err := unmarshalParams(rawParams, &req.Params); err != nil {
		return nil, err
	}
	return g.boundClient(mcp.MethodToolsCall, func(c upstream.Client) (any, error) {
		return c.CallTool(ctx, req)
	})
}

func unmarshalParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return gateerr.New(gateerr.ProtocolMisuse, "params", err)
	}
	return nil
}
