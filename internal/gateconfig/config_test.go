package gateconfig

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerEntry_StdioDefaultTag(t *testing.T) {
	t.Run("Should parse an object with no type field as Stdio", func(t *testing.T) {
		entry, err := ParseServerEntry(json.RawMessage(`{"command":"echo","args":["hello"]}`))

		require.NoError(t, err)
		assert.Equal(t, KindStdio, entry.Kind)
		assert.Equal(t, "echo", entry.Command)
		assert.Equal(t, []string{"hello"}, entry.Args)
		assert.Nil(t, entry.Cwd)
		assert.Nil(t, entry.Env)
		assert.Nil(t, entry.Name)
		assert.Nil(t, entry.Description)
	})
}

func TestParseServerEntry_StreamableAliases(t *testing.T) {
	t.Run("Should treat streamable and streamableHttp identically", func(t *testing.T) {
		a, err := ParseServerEntry(json.RawMessage(`{"type":"streamable","url":"http://x"}`))
		require.NoError(t, err)
		b, err := ParseServerEntry(json.RawMessage(`{"type":"streamableHttp","url":"http://x"}`))
		require.NoError(t, err)

		assert.True(t, a.Equal(b))
		assert.Equal(t, KindStreamable, a.Kind)
	})
}

func TestParseServerEntry_UnknownTag(t *testing.T) {
	t.Run("Should report the valid variant set on an unknown type", func(t *testing.T) {
		_, err := ParseServerEntry(json.RawMessage(`{"type":"foo"}`))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "sse")
		assert.Contains(t, err.Error(), "stdio")
		assert.Contains(t, err.Error(), "streamable")
	})
}

func TestParseServerEntry_RoundTrip(t *testing.T) {
	t.Run("Should round-trip parse-then-serialize for each variant", func(t *testing.T) {
		cases := []string{
			`{"type":"sse","url":"http://example/sse"}`,
			`{"type":"stdio","command":"echo","args":["hi"]}`,
			`{"type":"streamableHttp","url":"http://example"}`,
		}
		for _, canonical := range cases {
			entry, err := ParseServerEntry(json.RawMessage(canonical))
			require.NoError(t, err)

			out, err := json.Marshal(entry)
			require.NoError(t, err)

			var wantMap, gotMap map[string]any
			require.NoError(t, json.Unmarshal([]byte(canonical), &wantMap))
			require.NoError(t, json.Unmarshal(out, &gotMap))
			assert.Equal(t, wantMap, gotMap)
		}
	})
}

func TestParseServerEntry_NotAnObject(t *testing.T) {
	t.Run("Should report the observed value category versus map", func(t *testing.T) {
		_, err := ParseServerEntry(json.RawMessage(`"not-an-object"`))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "string")
		assert.Contains(t, err.Error(), "map")
	})
}

func TestParse_ServersAlias(t *testing.T) {
	t.Run("Should accept servers as an alias for mcpServers", func(t *testing.T) {
		cfg, err := Parse([]byte(`{"servers":{"svc":{"command":"foo"}}}`))

		require.NoError(t, err)
		require.Contains(t, cfg.Servers, "svc")
		assert.Equal(t, KindStdio, cfg.Servers["svc"].Kind)
	})
}

func TestServerEntry_Equal(t *testing.T) {
	t.Run("Should treat entries with identical fields as equal", func(t *testing.T) {
		a := &ServerEntry{Kind: KindStdio, Command: "foo", Args: []string{"a"}}
		b := &ServerEntry{Kind: KindStdio, Command: "foo", Args: []string{"a"}}
		assert.True(t, a.Equal(b))
	})

	t.Run("Should treat entries with different args as unequal", func(t *testing.T) {
		a := &ServerEntry{Kind: KindStdio, Command: "foo", Args: []string{"a"}}
		b := &ServerEntry{Kind: KindStdio, Command: "foo", Args: []string{"b"}}
		assert.False(t, a.Equal(b))
	})
}
