package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/compozy/mcpgate/internal/gateconfig"
)

// stdioClient spawns the child process directly (rather than going
// through mark3labs/mcp-go's stdio transport) so the Upstream Client
// Factory retains full control of cwd and additive env, neither
// exposed by that transport's constructor.
type stdioClient struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	peerInfo mcp.Implementation

	nextID int64

	mu      sync.Mutex
	pending map[int64]chan rpcResponse
	closed  bool
}

type rpcResponse struct {
	result json.RawMessage
	errMsg string
}

func newStdioClient(
	ctx context.Context,
	entry *gateconfig.ServerEntry,
	info mcp.Implementation,
) (Client, *mcp.InitializeResult, error) {
	cmd := exec.CommandContext(ctx, entry.Command, entry.Args...)
	cmd.Env = os.Environ()
	for k, v := range entry.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if entry.Cwd != nil {
		cmd.Dir = *entry.Cwd
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, wrapTransport("stdio.stdin_pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, wrapTransport("stdio.stdout_pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, wrapTransport("stdio.spawn", err)
	}

	sc := &stdioClient{
		cmd:     cmd,
		stdin:   stdin,
		pending: make(map[int64]chan rpcResponse),
	}
	go sc.readLoop(stdout)

	req := initRequest(info)
	var result mcp.InitializeResult
	if err := sc.call(ctx, "initialize", req.Params, &result); err != nil {
		_ = sc.Close()
		return nil, nil, wrapHandshake("initialize", err)
	}
	if err := sc.notify("notifications/initialized", nil); err != nil {
		_ = sc.Close()
		return nil, nil, wrapHandshake("initialized_notification", err)
	}
	sc.peerInfo = result.ServerInfo
	return sc, &result, nil
}

func (s *stdioClient) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg struct {
			ID     *int64          `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(line, &msg); err != nil || msg.ID == nil {
			continue // notification from the upstream; dropped
		}
		s.mu.Lock()
		ch, ok := s.pending[*msg.ID]
		if ok {
			delete(s.pending, *msg.ID)
		}
		s.mu.Unlock()
		if !ok {
			continue
		}
		resp := rpcResponse{result: msg.Result}
		if msg.Error != nil {
			resp.errMsg = msg.Error.Message
		}
		ch <- resp
	}
	s.mu.Lock()
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
	s.closed = true
	s.mu.Unlock()
}

func (s *stdioClient) call(ctx context.Context, method string, params any, out any) error {
	id := atomic.AddInt64(&s.nextID, 1)
	ch := make(chan rpcResponse, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("stdio upstream closed")
	}
	s.pending[id] = ch
	s.mu.Unlock()

	envelope := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}
	if err := s.write(envelope); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("stdio upstream closed before reply")
		}
		if resp.errMsg != "" {
			return fmt.Errorf("%s", resp.errMsg)
		}
		if out == nil || resp.result == nil {
			return nil
		}
		return json.Unmarshal(resp.result, out)
	}
}

func (s *stdioClient) notify(method string, params any) error {
	envelope := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
	}
	if params != nil {
		envelope["params"] = params
	}
	return s.write(envelope)
}

func (s *stdioClient) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stdio upstream closed")
	}
	data = append(data, '\n')
	_, err = s.stdin.Write(data)
	return err
}

func (s *stdioClient) PeerInfo() mcp.Implementation { return s.peerInfo }

func (s *stdioClient) Complete(ctx context.Context, req mcp.CompleteRequest) (*mcp.CompleteResult, error) {
	var out mcp.CompleteResult
	if err := s.call(ctx, "completion/complete", req.Params, &out); err != nil {
		return nil, wrapUpstream("complete", err)
	}
	return &out, nil
}

func (s *stdioClient) SetLevel(ctx context.Context, req mcp.SetLevelRequest) error {
	return wrapUpstream("set_level", s.call(ctx, "logging/setLevel", req.Params, nil))
}

func (s *stdioClient) GetPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	var out mcp.GetPromptResult
	if err := s.call(ctx, "prompts/get", req.Params, &out); err != nil {
		return nil, wrapUpstream("get_prompt", err)
	}
	return &out, nil
}

func (s *stdioClient) ListPrompts(ctx context.Context) (*mcp.ListPromptsResult, error) {
	agg := &mcp.ListPromptsResult{}
	cursor := ""
	for {
		var page mcp.ListPromptsResult
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		if err := s.call(ctx, "prompts/list", params, &page); err != nil {
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

func (s *stdioClient) ListResources(ctx context.Context) (*mcp.ListResourcesResult, error) {
	agg := &mcp.ListResourcesResult{}
	cursor := ""
	for {
		var page mcp.ListResourcesResult
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		if err := s.call(ctx, "resources/list", params, &page); err != nil {
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

func (s *stdioClient) ListResourceTemplates(ctx context.Context) (*mcp.ListResourceTemplatesResult, error) {
	agg := &mcp.ListResourceTemplatesResult{}
	cursor := ""
	for {
		var page mcp.ListResourceTemplatesResult
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		if err := s.call(ctx, "resources/templates/list", params, &page); err != nil {
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

func (s *stdioClient) ReadResource(ctx context.Context, req mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	var out mcp.ReadResourceResult
	if err := s.call(ctx, "resources/read", req.Params, &out); err != nil {
		return nil, wrapUpstream("read_resource", err)
	}
	return &out, nil
}

func (s *stdioClient) Subscribe(ctx context.Context, req mcp.SubscribeRequest) error {
	return wrapUpstream("subscribe", s.call(ctx, "resources/subscribe", req.Params, nil))
}

func (s *stdioClient) Unsubscribe(ctx context.Context, req mcp.UnsubscribeRequest) error {
	return wrapUpstream("unsubscribe", s.call(ctx, "resources/unsubscribe", req.Params, nil))
}

func (s *stdioClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var out mcp.CallToolResult
	if err := s.call(ctx, "tools/call", req.Params, &out); err != nil {
		return nil, wrapUpstream("call_tool", err)
	}
	return &out, nil
}

func (s *stdioClient) ListTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	agg := &mcp.ListToolsResult{}
	cursor := ""
	for {
		var page mcp.ListToolsResult
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		if err := s.call(ctx, "tools/list", params, &page); err != nil {
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

func (s *stdioClient) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}
