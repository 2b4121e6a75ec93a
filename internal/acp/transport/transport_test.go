package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kandev/acp-gateway/pkg/acp/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDispatchLineClassification exercises the inbound-line classification
// rules in isolation, without spawning a real child process.
func TestDispatchLineClassification(t *testing.T) {
	tr := New(nil)

	var gotNotification string
	var gotRequestID interface{}
	tr.SetNotificationHandler(func(method string, params json.RawMessage) {
		gotNotification = method
	})
	tr.SetRequestHandler(func(method string, params json.RawMessage, id interface{}) {
		gotRequestID = id
	})

	tr.dispatchLine([]byte(`{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"s1"}}`))
	assert.Equal(t, "session/update", gotNotification)

	tr.dispatchLine([]byte(`{"jsonrpc":"2.0","id":"req-7","method":"session/request_permission","params":{}}`))
	assert.Equal(t, "req-7", gotRequestID)

	slot := &pendingSlot{resultCh: make(chan json.RawMessage, 1), errCh: make(chan *jsonrpc.Error, 1)}
	tr.pending.Store(uint64(42), slot)
	tr.dispatchLine([]byte(`{"jsonrpc":"2.0","id":42,"result":{"ok":true}}`))

	select {
	case result := <-slot.resultCh:
		assert.JSONEq(t, `{"ok":true}`, string(result))
	case <-time.After(time.Second):
		t.Fatal("expected response to reach pending slot")
	}
}

func TestDispatchLineIgnoresUnsupportedInboundRequest(t *testing.T) {
	tr := New(nil)
	var called bool
	tr.SetRequestHandler(func(method string, params json.RawMessage, id interface{}) {
		called = true
	})

	tr.dispatchLine([]byte(`{"jsonrpc":"2.0","id":1,"method":"some/other_request","params":{}}`))
	assert.False(t, called)
}

func TestSendRequestFailsFastWhenNotConnected(t *testing.T) {
	tr := New(nil)
	_, err := tr.SendRequest(context.Background(), "initialize", nil)
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestSendNotificationFailsFastWhenNotConnected(t *testing.T) {
	tr := New(nil)
	err := tr.SendNotification(context.Background(), "session/cancel", nil)
	require.ErrorIs(t, err, ErrNotConnected)
}
