package websocket

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/acp-gateway/internal/common/logger"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// This gateway has no multi-tenant auth layer (Non-goal); any
		// origin may connect to the local WebSocket endpoint.
		return true
	},
}

// Handler upgrades HTTP connections to WebSocket and registers clients.
type Handler struct {
	hub       *Hub
	startedAt time.Time
	boundPort int
	log       *logger.Logger
}

// NewHandler wires a Handler to the Hub it hands new clients off to.
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		hub:       hub,
		startedAt: time.Now(),
		log:       log.WithFields(zap.String("component", "ws_handler")),
	}
}

// Router builds the gin.Engine serving GET /ws and GET /health.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/ws", h.handleConnection)
	r.GET("/health", h.handleHealth)
	return r
}

func (h *Handler) handleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Error("failed to upgrade connection")
		return
	}

	clientID := uuid.NewString()
	h.log.Debug("websocket connection established",
		zap.String("client_id", clientID),
		zap.String("remote_addr", c.Request.RemoteAddr))

	client := NewClient(clientID, conn, h.hub, h.log)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump(c.Request.Context())
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"port":   h.boundPort,
		"uptime": time.Since(h.startedAt).String(),
	})
}

// Listen binds the gateway to host:preferredPort, retrying preferredPort+1
// through preferredPort+100 on EADDRINUSE before falling back to an
// OS-assigned port. The caller is responsible for calling Serve on the
// returned listener.
func (h *Handler) Listen(host string, preferredPort int) (net.Listener, error) {
	var lastErr error
	for port := preferredPort; port <= preferredPort+100; port++ {
		addr := fmt.Sprintf("%s:%d", host, port)
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			h.boundPort = port
			return ln, nil
		}
		lastErr = err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:0", host))
	if err != nil {
		return nil, fmt.Errorf("websocket: bind failed after port scan (last error: %v): %w", lastErr, err)
	}
	h.boundPort = ln.Addr().(*net.TCPAddr).Port
	h.log.Warn("preferred port range exhausted, bound to OS-assigned port",
		zap.Int("preferred_port", preferredPort), zap.Int("bound_port", h.boundPort))
	return ln, nil
}

// BoundPort reports the port Listen actually bound to.
func (h *Handler) BoundPort() int { return h.boundPort }
