// Package gateerr defines the error-kind taxonomy the gateway core uses
// to translate internal failures into MCP error replies or HTTP status
// codes, mirroring original_source/src/error.rs's Error enum.
package gateerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the purposes of propagation.
type Kind string

const (
	// IoError is a file or socket I/O failure; fatal at startup, logged
	// at runtime.
	IoError Kind = "io_error"
	// TransportError is an SSE or streamable-HTTP transport failure
	// during connect or stream.
	TransportError Kind = "transport_error"
	// HandshakeError is an MCP initialize failure, subsuming transport
	// failures observed during the handshake.
	HandshakeError Kind = "handshake_error"
	// UpstreamError is an MCP error reply from the upstream to a
	// proxied request.
	UpstreamError Kind = "upstream_error"
	// NotFound is a request for an unknown service.
	NotFound Kind = "not_found"
	// ProtocolMisuse is an inbound request that requires a bound
	// upstream but none exists.
	ProtocolMisuse Kind = "protocol_misuse"
)

// Error wraps an underlying cause with the Kind that determines how it
// propagates, plus the operation it occurred in for diagnostics.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind carried by err if it (or something it wraps)
// is a *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
