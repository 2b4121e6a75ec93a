package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acp-gateway/internal/acp/types"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	return New(AgentCommand{Command: "true"}, t.TempDir(), 200, nil)
}

func TestHandleNotificationAppliesSessionUpdate(t *testing.T) {
	g := newTestGateway(t)
	g.manager.CreateSession("s1", "/work", nil, nil)

	params, err := json.Marshal(map[string]interface{}{
		"sessionId": "s1",
		"update": map[string]interface{}{
			"sessionUpdate": "agent_message_chunk",
			"content":       map[string]interface{}{"type": "text", "text": "hi"},
		},
	})
	require.NoError(t, err)

	g.handleNotification("session/update", params)

	state, ok := g.manager.GetState("s1")
	require.True(t, ok)
	require.Len(t, state.ChatItems, 1)
	assert.Equal(t, "hi", state.ChatItems[0].Message.Content)
}

func TestHandleNotificationIgnoresUnknownMethod(t *testing.T) {
	g := newTestGateway(t)
	g.manager.CreateSession("s1", "/work", nil, nil)

	g.handleNotification("something/else", json.RawMessage(`{}`))

	state, ok := g.manager.GetState("s1")
	require.True(t, ok)
	assert.Empty(t, state.ChatItems)
}

func TestCancelSessionSkipsWhenIdle(t *testing.T) {
	g := newTestGateway(t)
	g.manager.CreateSession("s1", "/work", nil, nil)

	// Idle sessions must not attempt a transport call (would fail: no agent
	// connected), so CancelSession must return nil without reaching it.
	err := g.CancelSession(nil, "s1")
	assert.NoError(t, err)
}

func TestStopSessionRemovesLocalState(t *testing.T) {
	g := newTestGateway(t)
	g.manager.CreateSession("s1", "/work", nil, nil)
	g.registry.Register("s1", "/work", nil, nil)

	require.NoError(t, g.StopSession(nil, "s1"))

	_, ok := g.manager.GetState("s1")
	assert.False(t, ok)
}

func TestSetDangerousModeRoundTrips(t *testing.T) {
	g := newTestGateway(t)
	g.manager.CreateSession("s1", "/work", nil, nil)

	assert.True(t, g.SetDangerousMode("s1", true))
	assert.True(t, g.GetDangerousMode("s1"))
}

func TestModesFromWireRoundTrips(t *testing.T) {
	raw := map[string]interface{}{
		"currentModeId":    "default",
		"availableModeIds": []string{"default", "plan"},
	}
	modes := modesFromWire(raw)
	require.NotNil(t, modes)
	assert.Equal(t, "default", modes.CurrentModeID)
	assert.Equal(t, []string{"default", "plan"}, modes.AvailableModeIDs)
}

func TestFirstTextReturnsFirstTextBlock(t *testing.T) {
	assert.Equal(t, "", firstText(nil))
	assert.Equal(t, "b", firstText([]types.ContentBlock{
		{Type: "image", Data: "x"},
		{Type: "text", Text: "b"},
		{Type: "text", Text: "c"},
	}))
}
