package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/acp-gateway/internal/common/logger"
	"github.com/kandev/acp-gateway/internal/session/manager"
	"github.com/kandev/acp-gateway/internal/tracing"
	"github.com/kandev/acp-gateway/pkg/acp/jsonrpc"
)

const (
	// writeWait bounds how long a single write to the peer may take.
	writeWait = 10 * time.Second
	// pongWait bounds how long we wait for a pong before considering the
	// connection dead.
	pongWait = 60 * time.Second
	// pingPeriod must stay under pongWait so a ping always lands before the
	// read deadline expires.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize caps a single inbound frame.
	maxMessageSize = 512 * 1024
)

// Client is one WebSocket connection. Each connection gets its own read and
// write pump goroutine plus, per subscribed session, a forwarder goroutine
// relaying that session's broadcast channel onto the connection.
type Client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub

	send chan []byte

	mu     sync.Mutex
	closed bool
	subs   map[string]chan struct{} // sessionId -> forwarder stop signal

	log *logger.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		id:   id,
		conn: conn,
		hub:  hub,
		send: make(chan []byte, 256),
		subs: make(map[string]chan struct{}),
		log:  log.WithFields(zap.String("client_id", id)),
	}
}

// ReadPump reads frames until the connection closes, dispatching each
// method call on its own goroutine so a blocking send_prompt never stalls a
// concurrent respond_permission from the same client (§5).
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.cleanupSubscriptions()
		if err := c.conn.Close(); err != nil {
			c.log.Debug("failed to close websocket connection", zap.Error(err))
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Debug("failed to set read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				c.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var req jsonrpc.Request
		if err := json.Unmarshal(message, &req); err != nil {
			c.sendError(nil, jsonrpc.CodeParseError, "invalid JSON-RPC message: "+err.Error())
			continue
		}

		go c.handle(ctx, &req)
	}
}

func (c *Client) handle(ctx context.Context, req *jsonrpc.Request) {
	ctx, span := tracing.TraceWSRoundtrip(ctx, req.Method, req.ID, c.id)
	defer span.End()

	result, err := dispatch(ctx, c, req.Method, req.Params)
	tracing.TraceWSResult(span, err)

	if req.ID == nil {
		return // notification: no response expected, even on error
	}
	if err != nil {
		c.sendError(req.ID, jsonrpc.CodeInternalError, err.Error())
		return
	}
	c.sendResult(req.ID, result)
}

func (c *Client) sendResult(id interface{}, result interface{}) {
	resp, err := jsonrpc.NewResponse(id, result)
	if err != nil {
		c.log.WithError(err).Error("failed to marshal response")
		return
	}
	c.sendMessage(resp)
}

func (c *Client) sendError(id interface{}, code int, message string) {
	c.sendMessage(jsonrpc.NewErrorResponse(id, code, message))
}

func (c *Client) sendNotification(method string, params interface{}) {
	note, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		c.log.WithError(err).Error("failed to marshal notification")
		return
	}
	c.sendMessage(note)
}

func (c *Client) sendMessage(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.WithError(err).Error("failed to marshal response")
		return
	}
	c.sendBytes(data)
}

func (c *Client) sendBytes(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("client send buffer full, dropping message")
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// watchSession spawns the forwarder goroutine that relays one session's
// broadcast channel onto this connection as session/update /
// session/state_update notifications, until unsubscribed or the channel
// closes (session removed).
func (c *Client) watchSession(sessionID string, events <-chan manager.Event) {
	c.mu.Lock()
	if _, already := c.subs[sessionID]; already {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.subs[sessionID] = stop
	c.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				c.sendNotification(ev.Method, ev.Params)
			case <-stop:
				return
			}
		}
	}()
}

func (c *Client) stopWatching(sessionID string) {
	c.mu.Lock()
	stop, ok := c.subs[sessionID]
	if ok {
		delete(c.subs, sessionID)
	}
	c.mu.Unlock()
	if ok {
		close(stop)
	}
}

func (c *Client) cleanupSubscriptions() {
	c.mu.Lock()
	stops := c.subs
	c.subs = make(map[string]chan struct{})
	c.mu.Unlock()
	for _, stop := range stops {
		close(stop)
	}
	c.hub.gw.Manager().UnsubscribeAll(c.id)
}

// WritePump drains the send channel onto the connection and keeps it alive
// with periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			c.log.Debug("failed to close websocket connection", zap.Error(err))
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Debug("failed to set write deadline", zap.Error(err))
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Debug("failed to set write deadline", zap.Error(err))
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
