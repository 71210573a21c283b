// Package gateconfig is the typed description of the set of upstream
// MCP servers and how to reach each.
package gateconfig

import (
	"encoding/json"
	"fmt"
	"os"
)

// Kind discriminates a ServerEntry's transport variant.
type Kind string

const (
	KindSse        Kind = "sse"
	KindStdio      Kind = "stdio"
	KindStreamable Kind = "streamableHttp"
)

// ServerEntry is a tagged sum with variants Sse, Stdio, Streamable,
// discriminated on disk by the field "type".
type ServerEntry struct {
	Kind        Kind
	Name        *string
	Description *string

	// Sse / Streamable
	URL string

	// Stdio
	Command string
	Args    []string
	Cwd     *string
	Env     map[string]string
}

// Equal reports whether two ServerEntry values match field-for-field,
// used by the Reload Supervisor to decide which live sessions survive
// a reload.
func (e *ServerEntry) Equal(o *ServerEntry) bool {
	if e == nil || o == nil {
		return e == o
	}
	if e.Kind != o.Kind || !strPtrEqual(e.Name, o.Name) || !strPtrEqual(e.Description, o.Description) {
		return false
	}
	switch e.Kind {
	case KindSse, KindStreamable:
		return e.URL == o.URL
	default: // KindStdio
		if e.Command != o.Command || !strPtrEqual(e.Cwd, o.Cwd) {
			return false
		}
		if len(e.Args) != len(o.Args) {
			return false
		}
		for i := range e.Args {
			if e.Args[i] != o.Args[i] {
				return false
			}
		}
		if len(e.Env) != len(o.Env) {
			return false
		}
		for k, v := range e.Env {
			if o.Env[k] != v {
				return false
			}
		}
		return true
	}
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Config is a mapping from service name to ServerEntry.
type Config struct {
	Servers map[string]*ServerEntry
}

// urlPayload is the shape shared by the Sse and Streamable
// variants.
type urlPayload struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	URL         string  `json:"url"`
}

type stdioPayload struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	Cwd         *string           `json:"cwd,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// rawConfig mirrors the on-disk object, accepting either "mcpServers"
// or its alias "servers".
type rawConfig struct {
	McpServers map[string]json.RawMessage `json:"mcpServers"`
	Servers    map[string]json.RawMessage `json:"servers"`
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a Config from raw JSON bytes.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	servers := raw.McpServers
	if servers == nil {
		servers = raw.Servers
	}
	cfg := &Config{Servers: make(map[string]*ServerEntry, len(servers))}
	for name, raw := range servers {
		entry, err := ParseServerEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("parse server %q: %w", name, err)
		}
		cfg.Servers[name] = entry
	}
	return cfg, nil
}

// ParseServerEntry implements the two-pass tagged-union decode: parse
// into a generic object, extract and remove "type", then dispatch to
// the matching variant's payload fields.
func ParseServerEntry(raw json.RawMessage) (*ServerEntry, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, invalidTypeError(raw)
	}

	var typ string
	if rawType, ok := generic["type"]; ok {
		if err := json.Unmarshal(rawType, &typ); err != nil {
			return nil, fmt.Errorf("field \"type\" must be a string: %w", err)
		}
		delete(generic, "type")
	}

	remaining, err := json.Marshal(generic)
	if err != nil {
		return nil, err
	}

	switch typ {
	case "sse":
		var p urlPayload
		if err := json.Unmarshal(remaining, &p); err != nil {
			return nil, err
		}
		return &ServerEntry{Kind: KindSse, Name: p.Name, Description: p.Description, URL: p.URL}, nil
	case "streamable", "streamableHttp":
		var p urlPayload
		if err := json.Unmarshal(remaining, &p); err != nil {
			return nil, err
		}
		return &ServerEntry{Kind: KindStreamable, Name: p.Name, Description: p.Description, URL: p.URL}, nil
	case "stdio", "":
		var p stdioPayload
		if err := json.Unmarshal(remaining, &p); err != nil {
			return nil, err
		}
		return &ServerEntry{
			Kind: KindStdio, Name: p.Name, Description: p.Description,
			Command: p.Command, Args: p.Args, Cwd: p.Cwd, Env: p.Env,
		}, nil
	default:
		return nil, fmt.Errorf(
			"unknown server type %q, expected one of: sse, stdio, streamable, streamableHttp", typ,
		)
	}
}

// invalidTypeError reports the observed JSON value category versus the
// expected "map".
func invalidTypeError(raw json.RawMessage) error {
	var v any
	category := "unit"
	if err := json.Unmarshal(raw, &v); err == nil {
		switch v.(type) {
		case bool:
			category = "bool"
		case float64:
			category = "number"
		case string:
			category = "string"
		case []any:
			category = "array"
		case nil:
			category = "null"
		}
	}
	return fmt.Errorf("invalid server entry: expected map, got %s", category)
}

// MarshalJSON serializes a ServerEntry in the externally tagged form:
// the chosen variant's wire tag plus its payload fields, omitting
// absent optionals.
func (e *ServerEntry) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindSse:
		return json.Marshal(struct {
			Type string `json:"type"`
			urlPayload
		}{Type: "sse", urlPayload: urlPayload{e.Name, e.Description, e.URL}})
	case KindStreamable:
		return json.Marshal(struct {
			Type string `json:"type"`
			urlPayload
		}{Type: "streamableHttp", urlPayload: urlPayload{e.Name, e.Description, e.URL}})
	default:
		return json.Marshal(struct {
			Type string `json:"type"`
			stdioPayload
		}{
			Type: "stdio",
			stdioPayload: stdioPayload{
				Name: e.Name, Description: e.Description,
				Command: e.Command, Args: e.Args, Cwd: e.Cwd, Env: e.Env,
			},
		})
	}
}

// UnmarshalJSON makes ServerEntry a drop-in json.Unmarshaler so it can
// be embedded directly in larger structures/tests (delegates to
// ParseServerEntry).
func (e *ServerEntry) UnmarshalJSON(data []byte) error {
	parsed, err := ParseServerEntry(data)
	if err != nil {
		return err
	}
	*e = *parsed
	return nil
}

// WithURL returns a shallow copy of e rewritten to the given kind and
// URL, preserving Name/Description — used by the config introspection
// endpoint to synthesize sse/streamableHttp views that
// point back at the gateway.
func (e *ServerEntry) WithURL(kind Kind, url string) *ServerEntry {
	return &ServerEntry{Kind: kind, Name: e.Name, Description: e.Description, URL: url}
}

// MarshalJSON serializes the full Config using the canonical
// "mcpServers" key.
func (c *Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		McpServers map[string]*ServerEntry `json:"mcpServers"`
	}{McpServers: c.Servers})
}
