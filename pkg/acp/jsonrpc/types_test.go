package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeClassification(t *testing.T) {
	t.Run("response by id+result", func(t *testing.T) {
		var env Envelope
		require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":3,"result":{}}`), &env))
		assert.True(t, env.IsResponse())
		assert.False(t, env.IsInboundRequest())
		assert.False(t, env.IsNotification())
	})

	t.Run("response by id+error", func(t *testing.T) {
		var env Envelope
		require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":3,"error":{"code":-32603,"message":"boom"}}`), &env))
		assert.True(t, env.IsResponse())
	})

	t.Run("inbound request by id+method", func(t *testing.T) {
		var env Envelope
		require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":"x","method":"session/request_permission","params":{}}`), &env))
		assert.True(t, env.IsInboundRequest())
		assert.False(t, env.IsResponse())
	})

	t.Run("notification by method only", func(t *testing.T) {
		var env Envelope
		require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"session/update","params":{}}`), &env))
		assert.True(t, env.IsNotification())
		assert.False(t, env.IsInboundRequest())
	})
}

func TestNewRequestPreservesID(t *testing.T) {
	req, err := NewRequest(42, "session/prompt", map[string]string{"sessionId": "s1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), req.ID)
	assert.Equal(t, "session/prompt", req.Method)

	notif, err := NewNotification("session/cancel", nil)
	require.NoError(t, err)
	assert.Nil(t, notif.ID)
}

func TestNewResponseRoundTripsArbitraryID(t *testing.T) {
	resp, err := NewResponse("agent-id-7", map[string]bool{"ok": true})
	require.NoError(t, err)

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded Response
	require.NoError(t, json.Unmarshal(data, &decoded))

	var id string
	require.NoError(t, json.Unmarshal(mustMarshal(t, decoded.ID), &id))
	assert.Equal(t, "agent-id-7", id)
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
