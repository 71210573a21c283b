package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/compozy/mcpgate/internal/gate"
	"github.com/compozy/mcpgate/internal/gateconfig"
	"github.com/compozy/mcpgate/pkg/logger"
)

// rpcRequest is the minimal JSON-RPC 2.0 envelope read off the wire.
// The MCP envelope itself is out of this core's concern per the
// surrounding specification; this is the smallest possible shape
// needed to recover method/id/params before handing off to the Gate,
// which speaks entirely in mark3labs/mcp-go's `mcp` vocabulary from
// here on.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func errorResponse(id json.RawMessage, err error) rpcResponse {
	return rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: int(mcp.INTERNAL_ERROR), Message: err.Error()},
	}
}

// ServiceRouter is a pre-composed sub-router for one named upstream
// service: a streamable-HTTP endpoint at its root, and,
// when SSE is enabled at process start, an SSE endpoint plus companion
// message endpoint. Each new inbound connection gets a fresh Gate.
type ServiceRouter struct {
	Service    string
	Entry      *gateconfig.ServerEntry
	SSEEnabled bool

	log     logger.Logger
	newGate func() *gate.Gate

	streamable *sessionTable
	sse        *sseTable
}

// NewServiceRouter builds a ServiceRouter for service/entry. newGate
// must return a fresh, unbound Gate each call.
func NewServiceRouter(
	service string,
	entry *gateconfig.ServerEntry,
	sseEnabled bool,
	newGate func() *gate.Gate,
	log logger.Logger,
) *ServiceRouter {
	return &ServiceRouter{
		Service:    service,
		Entry:      entry,
		SSEEnabled: sseEnabled,
		log:        log,
		newGate:    newGate,
		streamable: newSessionTable(),
		sse:        newSSETable(),
	}
}

// HandleStreamable serves the streamable-HTTP endpoint at the
// sub-router root.
func (sr *ServiceRouter) HandleStreamable(w http.ResponseWriter, r *http.Request) {
	req, ok := sr.decode(w, r)
	if !ok {
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	var g *gate.Gate
	isNewSession := false
	if sessionID == "" {
		g = sr.newGate()
		sessionID = uuid.NewString()
		isNewSession = true
	} else {
		var found bool
		g, found = sr.streamable.get(sessionID)
		if !found {
			writeJSON(w, http.StatusBadRequest, errorResponse(req.ID, fmt.Errorf("unknown session %s", sessionID)))
			return
		}
	}

	if len(req.ID) == 0 {
		g.HandleNotification(r.Context(), req.Method, req.Params)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	result, err := g.HandleRequest(r.Context(), req.Method, req.Params)
	if isNewSession {
		if err != nil {
			_ = g.Close()
		} else {
			sr.streamable.put(sessionID, g)
			w.Header().Set("Mcp-Session-Id", sessionID)
		}
	}
	if err != nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, err))
		return
	}
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

// HandleSSE serves the SSE endpoint: each connection
// instantiates a fresh Gate and keeps the response stream open for the
// lifetime of the connection, pushing responses produced by the
// companion message endpoint.
func (sr *ServiceRouter) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID := uuid.NewString()
	g := sr.newGate()
	session := sr.sse.register(sessionID, g)
	defer func() {
		sr.sse.remove(sessionID)
		_ = g.Close()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: endpoint\ndata: /%s/message?sessionId=%s\n\n", sr.Service, sessionID)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-session.out:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// HandleMessage serves the companion POST endpoint for SSE sessions:
// the response to each request is delivered asynchronously over the
// session's SSE stream, not in the POST response body.
func (sr *ServiceRouter) HandleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	session, ok := sr.sse.lookup(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusBadRequest)
		return
	}

	req, ok := sr.decode(w, r)
	if !ok {
		return
	}

	if len(req.ID) == 0 {
		session.gate.HandleNotification(r.Context(), req.Method, req.Params)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	result, err := session.gate.HandleRequest(r.Context(), req.Method, req.Params)
	var resp rpcResponse
	if err != nil {
		resp = errorResponse(req.ID, err)
	} else {
		resp = rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
	}
	payload, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		http.Error(w, marshalErr.Error(), http.StatusInternalServerError)
		return
	}
	session.send(payload)
	w.WriteHeader(http.StatusAccepted)
}

func (sr *ServiceRouter) decode(w http.ResponseWriter, r *http.Request) (rpcRequest, bool) {
	var req rpcRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(nil, fmt.Errorf("invalid request body: %w", err)))
		return rpcRequest{}, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sessionTable is a concurrency-safe map of streamable-HTTP session id
// to bound Gate.
type sessionTable struct {
	mu sync.RWMutex
	m  map[string]*gate.Gate
}

func newSessionTable() *sessionTable {
	return &sessionTable{m: make(map[string]*gate.Gate)}
}

func (t *sessionTable) get(id string) (*gate.Gate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	g, ok := t.m[id]
	return g, ok
}

func (t *sessionTable) put(id string, g *gate.Gate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[id] = g
}

type sseSession struct {
	gate *gate.Gate
	out  chan []byte
}

func (s *sseSession) send(payload []byte) {
	select {
	case s.out <- payload:
	default:
	}
}

// sseTable is a concurrency-safe map of SSE session id to sseSession.
type sseTable struct {
	mu sync.RWMutex
	m  map[string]*sseSession
}

func newSSETable() *sseTable {
	return &sseTable{m: make(map[string]*sseSession)}
}

func (t *sseTable) register(id string, g *gate.Gate) *sseSession {
	s := &sseSession{gate: g, out: make(chan []byte, 16)}
	t.mu.Lock()
	t.m[id] = s
	t.mu.Unlock()
	return s
}

func (t *sseTable) lookup(id string) (*sseSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.m[id]
	return s, ok
}

func (t *sseTable) remove(id string) {
	t.mu.Lock()
	delete(t.m, id)
	t.mu.Unlock()
}
