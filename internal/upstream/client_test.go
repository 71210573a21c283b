package upstream

import (
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/mcpgate/internal/gateerr"
)

func TestInitRequest_CarriesClientInfo(t *testing.T) {
	t.Run("Should carry the protocol version and client info verbatim", func(t *testing.T) {
		info := mcp.Implementation{Name: "c", Version: "1"}

		req := initRequest(info)

		assert.Equal(t, mcp.LATEST_PROTOCOL_VERSION, req.Params.ProtocolVersion)
		assert.Equal(t, info, req.Params.ClientInfo)
	})
}

func TestWrapHelpers_Kinds(t *testing.T) {
	t.Run("Should tag errors with the expected gateerr.Kind", func(t *testing.T) {
		cases := []struct {
			name string
			err  error
			kind gateerr.Kind
		}{
			{"handshake", wrapHandshake("op", errors.New("boom")), gateerr.HandshakeError},
			{"transport", wrapTransport("op", errors.New("boom")), gateerr.TransportError},
			{"upstream", wrapUpstream("op", errors.New("boom")), gateerr.UpstreamError},
		}
		for _, tc := range cases {
			kind, ok := gateerr.KindOf(tc.err)
			require.True(t, ok, tc.name)
			assert.Equal(t, tc.kind, kind, tc.name)
		}
	})

	t.Run("Should pass nil through untouched", func(t *testing.T) {
		assert.NoError(t, wrapHandshake("op", nil))
		assert.NoError(t, wrapTransport("op", nil))
		assert.NoError(t, wrapUpstream("op", nil))
	})
}
