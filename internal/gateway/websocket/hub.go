// Package websocket is the client-facing RpcGateway: it speaks literal
// JSON-RPC 2.0 over WebSocket connections and translates each method into a
// call on internal/gateway.Gateway, forwarding that gateway's session and
// terminal event streams back out as server-initiated notifications.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kandev/acp-gateway/internal/common/logger"
	"github.com/kandev/acp-gateway/internal/gateway"
	"github.com/kandev/acp-gateway/pkg/acp/jsonrpc"
	"go.uber.org/zap"
)

// Hub owns every connected client and the one goroutine that fans PTY
// output out to all of them (terminals are not scoped to a single client).
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client

	gw  *gateway.Gateway
	log *logger.Logger
}

// NewHub wires a Hub to the Gateway it dispatches every method call to.
func NewHub(gw *gateway.Gateway, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		gw:         gw,
		log:        log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run is the hub's event loop: client (un)registration and the merged
// terminal output stream. It returns once ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("rpc gateway hub started")
	defer h.log.Info("rpc gateway hub stopped")

	terminalOutput := h.gw.Terminals().Output()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.log.Debug("client registered", zap.String("client_id", client.id))

		case client := <-h.unregister:
			h.remove(client)

		case event := <-terminalOutput:
			h.broadcast("terminal/output", map[string]interface{}{
				"terminalId": event.TerminalID,
				"data":       event.Data,
			})
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		client.closeSend()
		delete(h.clients, id)
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.id]; ok {
		delete(h.clients, client.id)
		client.closeSend()
	}
	h.log.Debug("client unregistered", zap.String("client_id", client.id))
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) { h.register <- client }

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) { h.unregister <- client }

// broadcast fans a notification out to every connected client.
func (h *Hub) broadcast(method string, params interface{}) {
	note, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal broadcast notification")
		return
	}
	data, err := json.Marshal(note)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal broadcast notification")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		client.sendBytes(data)
	}
}

// broadcastSessionsUpdated re-lists every known session and fans the
// result out as a sessions/updated notification, used after any method
// that changes the set of known sessions (create, resume, fork, stop,
// delete).
func (h *Hub) broadcastSessionsUpdated() {
	result, err := h.gw.ListSessions("", 0, 0)
	if err != nil {
		h.log.WithError(err).Warn("failed to list sessions for sessions/updated broadcast")
		return
	}
	h.broadcast("sessions/updated", map[string]interface{}{"sessions": result.Sessions})
}

// ClientCount reports how many clients are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
