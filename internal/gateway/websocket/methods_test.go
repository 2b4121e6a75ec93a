package websocket

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acp-gateway/internal/common/logger"
	"github.com/kandev/acp-gateway/internal/gateway"
)

func newTestHubAndClient(t *testing.T) (*Hub, *Client) {
	t.Helper()
	gw := gateway.New(gateway.AgentCommand{Command: "true"}, t.TempDir(), 200, nil)
	hub := NewHub(gw, logger.Default())
	client := NewClient("client-1", nil, hub, logger.Default())
	return hub, client
}

func marshalT(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestDispatchUnknownMethodErrors(t *testing.T) {
	_, client := newTestHubAndClient(t)
	_, err := dispatch(context.Background(), client, "does_not_exist", nil)
	assert.Error(t, err)
}

func TestGetClientIDReturnsClientID(t *testing.T) {
	_, client := newTestHubAndClient(t)
	result, err := dispatch(context.Background(), client, "get_client_id", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"clientId": "client-1"}, result)
}

func TestCreateSessionFailsFastWhenAgentCannotInitialize(t *testing.T) {
	// The "true" command exits immediately, so the ACP handshake over its
	// stdio pipes fails; create_session must surface that as an error
	// rather than hang or panic.
	_, client := newTestHubAndClient(t)
	_, err := dispatch(context.Background(), client, "create_session", marshalT(t, map[string]string{"cwd": "/work"}))
	assert.Error(t, err)
}

func TestSubscribeSessionReturnsErrorForUnknownSession(t *testing.T) {
	_, client := newTestHubAndClient(t)
	_, err := dispatch(context.Background(), client, "subscribe_session", marshalT(t, map[string]string{"sessionId": "missing"}))
	assert.Error(t, err)
}

func TestGetSessionStateReturnsSnapshotWithoutAutoResume(t *testing.T) {
	hub, client := newTestHubAndClient(t)
	hub.gw.Manager().CreateSession("s1", "/work", nil, nil)

	result, err := dispatch(context.Background(), client, "get_session_state",
		marshalT(t, map[string]interface{}{"sessionId": "s1"}))
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestListSessionsDefaultsLimitTo20(t *testing.T) {
	_, client := newTestHubAndClient(t)
	result, err := dispatch(context.Background(), client, "list_sessions", nil)
	require.NoError(t, err)
	asMap, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, asMap, "sessions")
	assert.Contains(t, asMap, "hasMore")
	assert.Contains(t, asMap, "total")
}

func TestCreateTerminalDefaultsSize(t *testing.T) {
	_, client := newTestHubAndClient(t)
	result, err := dispatch(context.Background(), client, "create_terminal", marshalT(t, map[string]string{"cwd": t.TempDir()}))
	// On a sandboxed test host spawning a real shell may fail; either way
	// the handler must not panic and must return a well-typed result or a
	// plain error, never both.
	if err != nil {
		assert.Nil(t, result)
		return
	}
	asMap, ok := result.(map[string]string)
	require.True(t, ok)
	assert.NotEmpty(t, asMap["terminalId"])
}

func TestSetAndGetDangerousModeRoundTrip(t *testing.T) {
	hub, client := newTestHubAndClient(t)
	hub.gw.Manager().CreateSession("s1", "/work", nil, nil)

	_, err := dispatch(context.Background(), client, "set_dangerous_mode",
		marshalT(t, map[string]interface{}{"sessionId": "s1", "enabled": true}))
	require.NoError(t, err)

	result, err := dispatch(context.Background(), client, "get_dangerous_mode",
		marshalT(t, map[string]string{"sessionId": "s1"}))
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"dangerousMode": true}, result)
}
