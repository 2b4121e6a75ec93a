package permission

import (
	"testing"

	"github.com/kandev/acp-gateway/internal/acp/types"
	"github.com/kandev/acp-gateway/internal/session/manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResponder struct {
	lastID      interface{}
	lastOutcome types.PermissionOutcome
	calls       int
}

func (f *fakeResponder) RespondPermission(id interface{}, outcome types.PermissionOutcome) error {
	f.lastID = id
	f.lastOutcome = outcome
	f.calls++
	return nil
}

func requestParams(sessionID string, options []types.PermissionOption) []byte {
	return []byte(`{"sessionId":"` + sessionID + `","toolCall":{"toolCallId":"t1","sessionUpdate":"tool_call"},"options":` + optionsJSON(options) + `}`)
}

func optionsJSON(options []types.PermissionOption) string {
	out := "["
	for i, o := range options {
		if i > 0 {
			out += ","
		}
		out += `{"optionId":"` + o.OptionID + `","name":"` + o.Name + `","kind":"` + o.Kind + `"}`
	}
	return out + "]"
}

func TestHandleRequestFansOutWhenNotDangerous(t *testing.T) {
	m := manager.New()
	m.CreateSession("s1", "/work", nil, nil)
	responder := &fakeResponder{}
	router := New(responder, m, nil)

	_, events, ok := m.Subscribe("client-1", "s1")
	require.True(t, ok)

	params := requestParams("s1", []types.PermissionOption{{OptionID: "o1", Name: "Allow", Kind: "allow_once"}})
	router.HandleRequest(params, "agent-req-1")

	assert.Equal(t, 0, responder.calls)

	select {
	case event := <-events:
		assert.Equal(t, "permission/request", event.Method)
	default:
		t.Fatal("expected permission/request to be published")
	}

	pending, ok := m.GetPendingPermission("s1")
	require.True(t, ok)
	assert.Equal(t, "agent-req-1", pending.RequestID)
}

func TestHandleRequestAutoApprovesInDangerousMode(t *testing.T) {
	m := manager.New()
	m.CreateSession("s1", "/work", nil, nil)
	m.SetDangerousMode("s1", true)
	responder := &fakeResponder{}
	router := New(responder, m, nil)

	params := requestParams("s1", []types.PermissionOption{
		{OptionID: "reject", Name: "Reject", Kind: "reject_once"},
		{OptionID: "allow", Name: "Allow", Kind: "allow_once"},
	})
	router.HandleRequest(params, "agent-req-2")

	require.Equal(t, 1, responder.calls)
	assert.Equal(t, "agent-req-2", responder.lastID)
	assert.Equal(t, "selected", responder.lastOutcome.Outcome)
	assert.Equal(t, "allow", responder.lastOutcome.OptionID)

	_, ok := m.GetPendingPermission("s1")
	assert.False(t, ok)
}

func TestRespondClearsPendingAndBroadcastsResolved(t *testing.T) {
	m := manager.New()
	m.CreateSession("s1", "/work", nil, nil)
	responder := &fakeResponder{}
	router := New(responder, m, nil)

	router.HandleRequest(requestParams("s1", []types.PermissionOption{{OptionID: "o1", Name: "Allow", Kind: "allow_once"}}), "agent-req-3")

	_, events, ok := m.Subscribe("client-1", "s1")
	require.True(t, ok)

	require.NoError(t, router.Respond("s1", "agent-req-3", types.PermissionOutcome{Outcome: "selected", OptionID: "o1"}))

	assert.Equal(t, "agent-req-3", responder.lastID)
	_, pending := m.GetPendingPermission("s1")
	assert.False(t, pending)

	select {
	case event := <-events:
		assert.Equal(t, "permission/resolved", event.Method)
	default:
		t.Fatal("expected permission/resolved to be published")
	}
}
