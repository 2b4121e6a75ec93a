package fold

import (
	"testing"

	"github.com/kandev/acp-gateway/internal/session/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agentChunk(text string) []byte {
	return []byte(`{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":"` + text + `"}}`)
}

func toolCall(id, status string) []byte {
	return []byte(`{"sessionUpdate":"tool_call","toolCallId":"` + id + `","title":"t","status":"` + status + `"}`)
}

func TestChunkMerge(t *testing.T) {
	state := model.NewSessionState("s1", "/tmp")

	u1, err := Apply(state, agentChunk("Hello"))
	require.NoError(t, err)
	assert.Equal(t, DeltaMessageAdded, u1.Kind)

	u2, err := Apply(state, agentChunk(" World"))
	require.NoError(t, err)
	assert.Equal(t, DeltaMessageChunk, u2.Kind)
	assert.Equal(t, " World", u2.Text)

	require.Len(t, state.ChatItems, 1)
	assert.Equal(t, "Hello World", state.ChatItems[0].Message.Content)
}

func TestInterleaving(t *testing.T) {
	state := model.NewSessionState("s1", "/tmp")

	_, err := Apply(state, agentChunk("A"))
	require.NoError(t, err)
	_, err = Apply(state, toolCall("t1", "pending"))
	require.NoError(t, err)
	_, err = Apply(state, agentChunk("B"))
	require.NoError(t, err)

	require.Len(t, state.ChatItems, 3)
	assert.Equal(t, model.ChatItemMessage, state.ChatItems[0].Kind)
	assert.Equal(t, "A", state.ChatItems[0].Message.Content)
	assert.Equal(t, model.ChatItemToolCall, state.ChatItems[1].Kind)
	assert.Equal(t, "t1", state.ChatItems[1].ToolCall.ToolCallID)
	assert.Equal(t, model.ChatItemMessage, state.ChatItems[2].Kind)
	assert.Equal(t, "B", state.ChatItems[2].Message.Content)
}

func TestToolCallUpdateReconciliation(t *testing.T) {
	state := model.NewSessionState("s1", "/tmp")

	_, err := Apply(state, toolCall("t1", "pending"))
	require.NoError(t, err)

	update := []byte(`{"sessionUpdate":"tool_call_update","toolCallId":"t1","status":"completed","rawOutput":42}`)
	delta, err := Apply(state, update)
	require.NoError(t, err)

	assert.Equal(t, DeltaToolCallUpdated, delta.Kind)
	assert.Equal(t, model.ToolCallCompleted, delta.ToolCall.Status)
	assert.Equal(t, float64(42), delta.ToolCall.RawOutput)

	position := state.ToolIndex["t1"]
	assert.Equal(t, model.ToolCallCompleted, state.ChatItems[position].ToolCall.Status)
}

func TestUpdateToUnknownToolCallIsNoop(t *testing.T) {
	state := model.NewSessionState("s1", "/tmp")

	update := []byte(`{"sessionUpdate":"tool_call_update","toolCallId":"ghost","status":"completed"}`)
	delta, err := Apply(state, update)
	require.NoError(t, err)

	assert.Equal(t, DeltaNoop, delta.Kind)
	assert.Empty(t, state.ChatItems)
}

func TestCurrentModeUpdateRequiresExistingModes(t *testing.T) {
	state := model.NewSessionState("s1", "/tmp")

	update := []byte(`{"sessionUpdate":"current_mode_update","currentModeId":"plan"}`)
	delta, err := Apply(state, update)
	require.NoError(t, err)
	assert.Equal(t, DeltaNoop, delta.Kind)

	state.Modes = &model.Modes{CurrentModeID: "code"}
	delta, err = Apply(state, update)
	require.NoError(t, err)
	assert.Equal(t, DeltaModesUpdated, delta.Kind)
	assert.Equal(t, "plan", state.Modes.CurrentModeID)
}

func TestAddUserMessageAppendsWithGivenID(t *testing.T) {
	state := model.NewSessionState("s1", "/tmp")
	delta := AddUserMessage(state, "hi", "msg-1")
	assert.Equal(t, DeltaMessageAdded, delta.Kind)
	require.Len(t, state.ChatItems, 1)
	assert.Equal(t, "msg-1", state.ChatItems[0].Message.ID)
	assert.Equal(t, model.RoleUser, state.ChatItems[0].Message.Role)
}

func TestLoadHistoryRebuildsToolIndex(t *testing.T) {
	state := model.NewSessionState("s1", "/tmp")
	items := []model.ChatItem{
		{Kind: model.ChatItemMessage, Message: &model.Message{ID: "m1", Role: model.RoleUser, Content: "hi"}},
		{Kind: model.ChatItemToolCall, ToolCall: &model.ToolCall{ToolCallID: "t1", Title: "ls"}},
	}
	LoadHistory(state, items)

	assert.Len(t, state.ChatItems, 2)
	assert.Equal(t, 1, state.ToolIndex["t1"])
}
