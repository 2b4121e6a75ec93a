package websocket

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acp-gateway/internal/common/logger"
	"github.com/kandev/acp-gateway/internal/gateway"
)

func TestListenSkipsOccupiedPreferredPort(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()
	preferred := occupied.Addr().(*net.TCPAddr).Port

	gw := gateway.New(gateway.AgentCommand{Command: "true"}, t.TempDir(), 200, nil)
	hub := NewHub(gw, logger.Default())
	handler := NewHandler(hub, logger.Default())

	ln, err := handler.Listen("127.0.0.1", preferred)
	require.NoError(t, err)
	defer ln.Close()

	assert.NotEqual(t, preferred, handler.BoundPort())
	assert.Equal(t, ln.Addr().(*net.TCPAddr).Port, handler.BoundPort())
}

func TestListenUsesPreferredPortWhenFree(t *testing.T) {
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	preferred := probe.Addr().(*net.TCPAddr).Port
	require.NoError(t, probe.Close())

	gw := gateway.New(gateway.AgentCommand{Command: "true"}, t.TempDir(), 200, nil)
	hub := NewHub(gw, logger.Default())
	handler := NewHandler(hub, logger.Default())

	ln, err := handler.Listen("127.0.0.1", preferred)
	require.NoError(t, err)
	defer ln.Close()

	assert.Equal(t, preferred, handler.BoundPort())
}
