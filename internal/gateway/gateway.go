// Package gateway wires Transport, AgentClient, the session manager,
// registry, permission router, and PTY multiplexer into the single set of
// operations the client-facing WebSocket front end calls. It owns no wire
// format of its own; internal/gateway/websocket translates JSON-RPC 2.0
// frames into these method calls and back.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/kandev/acp-gateway/internal/acp/client"
	"github.com/kandev/acp-gateway/internal/acp/transport"
	"github.com/kandev/acp-gateway/internal/acp/types"
	"github.com/kandev/acp-gateway/internal/common/logger"
	"github.com/kandev/acp-gateway/internal/permission"
	"github.com/kandev/acp-gateway/internal/pty"
	"github.com/kandev/acp-gateway/internal/session/history"
	"github.com/kandev/acp-gateway/internal/session/manager"
	"github.com/kandev/acp-gateway/internal/session/model"
	"github.com/kandev/acp-gateway/internal/session/registry"
	"go.uber.org/zap"
)

// AgentCommand describes how to lazily spawn the agent child process.
type AgentCommand struct {
	Command string
	Args    []string
	Env     []string
}

// Gateway is the orchestration root. One instance serves every connected
// client; per-client state (subscriptions, client id) lives in the
// websocket layer, not here.
type Gateway struct {
	mu        sync.Mutex // guards lazy agent startup only
	connected bool

	transport *transport.Transport
	client    *client.AgentClient
	manager   *manager.Manager
	registry  *registry.Registry
	perm      *permission.Router
	terminals *pty.Mux

	agentCmd   AgentCommand
	maxHistory int
	log        *logger.Logger

	initResult *types.InitializeResult
}

// New assembles a Gateway. The agent child process is not spawned until the
// first operation that needs it (lazy start, per the teacher's
// EnsurePassthroughExecution pattern generalized to any ACP call).
func New(agentCmd AgentCommand, projectsRoot string, maxHistory int, log *logger.Logger) *Gateway {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithFields(zap.String("component", "gateway"))

	tr := transport.New(log)
	g := &Gateway{
		transport:  tr,
		client:     client.New(tr),
		manager:    manager.New(),
		registry:   registry.New(projectsRoot),
		terminals:  pty.New(log),
		agentCmd:   agentCmd,
		maxHistory: maxHistory,
		log:        log,
	}
	g.perm = permission.New(g.client, g.manager, log)

	tr.SetNotificationHandler(g.handleNotification)
	tr.SetRequestHandler(g.handleRequest)

	return g
}

// Terminals exposes the PTY multiplexer's merged output stream for the
// websocket layer to forward as terminal/output notifications.
func (g *Gateway) Terminals() *pty.Mux { return g.terminals }

// Manager exposes the session manager so the websocket layer can subscribe
// directly to a session's broadcast channel.
func (g *Gateway) Manager() *manager.Manager { return g.manager }

// ensureConnected lazily spawns the agent on first use.
func (g *Gateway) ensureConnected(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.connected {
		return nil
	}
	if err := g.transport.Connect(ctx, g.agentCmd.Command, g.agentCmd.Args, g.agentCmd.Env); err != nil {
		return fmt.Errorf("gateway: connect agent: %w", err)
	}
	result, err := g.client.Initialize(ctx, types.InitializeParams{
		ProtocolVersion: 1,
		ClientInfo:      types.ClientInfo{Name: "acp-gateway", Version: "0.1.0"},
		Capabilities:    types.ClientCapabilities{Streaming: true},
	})
	if err != nil {
		return fmt.Errorf("gateway: initialize: %w", err)
	}
	g.initResult = result
	g.connected = true
	return nil
}

// InitializeResult returns the agent's handshake response, or nil if the
// agent has not been spawned yet (the client-facing initialize method never
// forces a connection; it only reports what has already happened lazily).
func (g *Gateway) InitializeResult() *types.InitializeResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.initResult
}

// ResumeSession explicitly resumes a known session id against the agent,
// independent of the cold-subscribe auto-resume path in SubscribeSession.
func (g *Gateway) ResumeSession(ctx context.Context, sessionID, cwd string) (*model.SessionState, error) {
	if err := g.ensureConnected(ctx); err != nil {
		return nil, err
	}
	result, err := g.client.ResumeSession(ctx, sessionID, cwd)
	if err != nil {
		return nil, err
	}
	modes := modesFromWire(result.Modes)
	g.registry.Register(result.SessionID, cwd, modes, result.Models)
	return g.manager.CreateSession(result.SessionID, cwd, modes, result.Models), nil
}

// ForkSession branches a session at its current point into a new session id.
func (g *Gateway) ForkSession(ctx context.Context, sessionID, cwd string) (*model.SessionState, error) {
	if err := g.ensureConnected(ctx); err != nil {
		return nil, err
	}
	result, err := g.client.ForkSession(ctx, sessionID, cwd)
	if err != nil {
		return nil, err
	}
	modes := modesFromWire(result.Modes)
	g.registry.Register(result.SessionID, cwd, modes, result.Models)
	return g.manager.CreateSession(result.SessionID, cwd, modes, result.Models), nil
}

// GetSessionInfo returns the registry's lightweight metadata record for one
// session, whether active or only known from disk.
func (g *Gateway) GetSessionInfo(sessionID string) (*model.SessionInfo, bool) {
	return g.registry.GetSessionInfo(sessionID)
}

// CreateSession opens a brand new session at cwd.
func (g *Gateway) CreateSession(ctx context.Context, cwd string, mcpServers []types.McpServer) (*model.SessionState, error) {
	if err := g.ensureConnected(ctx); err != nil {
		return nil, err
	}
	result, err := g.client.NewSession(ctx, cwd, mcpServers)
	if err != nil {
		return nil, err
	}
	modes := modesFromWire(result.Modes)
	g.registry.Register(result.SessionID, cwd, modes, result.Models)
	return g.manager.CreateSession(result.SessionID, cwd, modes, result.Models), nil
}

// SubscribeSession implements the cold-subscribe / auto-resume handshake
// (§4.8): if the session already has live state, return its snapshot
// immediately. Otherwise resume it against the agent, register an empty
// state, and load history in the background, broadcasting a full_state
// delta once it lands.
func (g *Gateway) SubscribeSession(ctx context.Context, clientID, sessionID string) (*model.SessionState, <-chan manager.Event, error) {
	if state, events, ok := g.manager.Subscribe(clientID, sessionID); ok {
		return state, events, nil
	}

	if err := g.ensureConnected(ctx); err != nil {
		return nil, nil, err
	}

	info, found := g.registry.GetSessionInfo(sessionID)
	cwd := ""
	if found {
		cwd = info.Cwd
	}

	result, err := g.client.ResumeSession(ctx, sessionID, cwd)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway: resume session %q: %w", sessionID, err)
	}
	resumedID := result.SessionID
	modes := modesFromWire(result.Modes)

	g.registry.Register(resumedID, cwd, modes, result.Models)
	g.manager.CreateSession(resumedID, cwd, modes, result.Models)

	state, events, ok := g.manager.Subscribe(clientID, resumedID)
	if !ok {
		return nil, nil, fmt.Errorf("gateway: session %q vanished immediately after creation", resumedID)
	}

	path, hasFile := g.registry.FindSessionFile(resumedID)
	if hasFile {
		go g.loadHistoryAsync(resumedID, path)
	}

	return state, events, nil
}

func (g *Gateway) loadHistoryAsync(sessionID, path string) {
	items, err := history.Load(path, g.maxHistory)
	if err != nil {
		g.log.WithError(err).Warn("gateway: background history load failed", zap.String("session_id", sessionID))
		return
	}
	if err := g.manager.LoadHistory(sessionID, items); err != nil {
		g.log.WithError(err).Warn("gateway: apply background history failed", zap.String("session_id", sessionID))
	}
}

// SendPrompt sends a user turn, transparently resuming a stale session and
// retrying once per §4.8's second scenario.
func (g *Gateway) SendPrompt(ctx context.Context, sessionID string, content []types.ContentBlock) (*types.SessionPromptResult, error) {
	if err := g.ensureConnected(ctx); err != nil {
		return nil, err
	}

	if err := g.manager.AddUserMessage(sessionID, firstText(content), ""); err != nil {
		g.log.Debug("gateway: prompt for session not tracked locally yet", zap.String("session_id", sessionID))
	}

	result, err := g.client.Prompt(ctx, sessionID, content)
	if err == nil {
		return result, nil
	}
	if !isSessionNotFound(err) {
		return nil, err
	}

	g.log.Info("gateway: prompt failed with stale session, auto-resuming", zap.String("session_id", sessionID))

	info, found := g.registry.GetSessionInfo(sessionID)
	cwd := ""
	if found {
		cwd = info.Cwd
	}
	resumed, resumeErr := g.client.ResumeSession(ctx, sessionID, cwd)
	if resumeErr != nil {
		return nil, fmt.Errorf("gateway: auto-resume after stale prompt: %w", resumeErr)
	}

	modes := modesFromWire(resumed.Modes)
	g.registry.Register(resumed.SessionID, cwd, modes, resumed.Models)
	g.manager.CreateSession(resumed.SessionID, cwd, modes, resumed.Models)

	if path, hasFile := g.registry.FindSessionFile(resumed.SessionID); hasFile {
		items, loadErr := history.Load(path, g.maxHistory)
		if loadErr != nil {
			g.log.WithError(loadErr).Warn("gateway: history load after auto-resume failed", zap.String("session_id", resumed.SessionID))
		} else if applyErr := g.manager.LoadHistory(resumed.SessionID, items); applyErr != nil {
			g.log.WithError(applyErr).Warn("gateway: apply history after auto-resume failed", zap.String("session_id", resumed.SessionID))
		}
	}

	if err := g.manager.AddUserMessage(resumed.SessionID, firstText(content), ""); err != nil {
		g.log.WithError(err).Warn("gateway: re-adding user message after auto-resume failed", zap.String("session_id", resumed.SessionID))
	}

	return g.client.Prompt(ctx, resumed.SessionID, content)
}

func isSessionNotFound(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "session not found")
}

func firstText(content []types.ContentBlock) string {
	for _, b := range content {
		if b.Type == "text" {
			return b.Text
		}
	}
	return ""
}

// CancelSession sends session/cancel only when the advisory status allows
// it (§5: Running or Pending).
func (g *Gateway) CancelSession(ctx context.Context, sessionID string) error {
	state, ok := g.manager.GetState(sessionID)
	if !ok || (state.Status != model.StatusRunning && state.Status != model.StatusPending) {
		return nil
	}
	return g.client.Cancel(ctx, sessionID)
}

// StopSession cancels if appropriate, then removes local state and the
// registry record. The agent process itself is untouched; it may still be
// asked to resume this session id later.
func (g *Gateway) StopSession(ctx context.Context, sessionID string) error {
	_ = g.CancelSession(ctx, sessionID)
	g.manager.RemoveSession(sessionID)
	g.registry.Unregister(sessionID)
	return nil
}

// SetMode forwards a mode switch and mirrors it into the registry's
// cached modes snapshot.
func (g *Gateway) SetMode(ctx context.Context, sessionID, modeID string) error {
	if err := g.client.SetMode(ctx, sessionID, modeID); err != nil {
		return err
	}
	if state, ok := g.manager.GetState(sessionID); ok {
		if state.Modes == nil {
			state.Modes = &model.Modes{}
		}
		state.Modes.CurrentModeID = modeID
		g.registry.UpdateModes(sessionID, state.Modes)
	}
	return nil
}

// ListSessions delegates to the registry.
func (g *Gateway) ListSessions(cwdFilter string, limit, offset int) (registry.ListResult, error) {
	return g.registry.List(cwdFilter, limit, offset)
}

// GetSessionState returns a snapshot, used for the get_session_state method
// and for recovering from a missed broadcast.
func (g *Gateway) GetSessionState(sessionID string) (*model.SessionState, bool) {
	return g.manager.GetState(sessionID)
}

// DeleteSession removes both the in-memory state (if any) and the on-disk
// JSONL transcript.
func (g *Gateway) DeleteSession(sessionID string) error {
	g.manager.RemoveSession(sessionID)
	return g.registry.Delete(sessionID)
}

// RespondPermission forwards the human's decision to the permission router.
func (g *Gateway) RespondPermission(sessionID string, requestID interface{}, outcome types.PermissionOutcome) error {
	return g.perm.Respond(sessionID, requestID, outcome)
}

// SetDangerousMode toggles a session's auto-approval policy.
func (g *Gateway) SetDangerousMode(sessionID string, enabled bool) bool {
	return g.manager.SetDangerousMode(sessionID, enabled)
}

// GetDangerousMode reports a session's auto-approval policy.
func (g *Gateway) GetDangerousMode(sessionID string) bool {
	return g.manager.IsDangerousMode(sessionID)
}

// CreateTerminal opens a new PTY scoped to cwd.
func (g *Gateway) CreateTerminal(cwd string, cols, rows uint16) (string, error) {
	return g.terminals.CreateTerminal(cwd, cols, rows)
}

// WriteTerminal, ResizeTerminal, KillTerminal, ListTerminals pass straight
// through to the multiplexer; Gateway adds no policy here.
func (g *Gateway) WriteTerminal(id string, data []byte) error        { return g.terminals.WriteTerminal(id, data) }
func (g *Gateway) ResizeTerminal(id string, cols, rows uint16) error { return g.terminals.ResizeTerminal(id, cols, rows) }
func (g *Gateway) KillTerminal(id string) error                      { return g.terminals.KillTerminal(id) }
func (g *Gateway) ListTerminals() []pty.Info                          { return g.terminals.ListTerminals() }

// Shutdown disconnects the agent child process, if one was ever started.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	connected := g.connected
	g.mu.Unlock()
	if connected {
		g.transport.Disconnect()
	}
}

// handleNotification is Transport's NotificationHandler: only
// session/update is meaningful, everything else is logged and dropped.
func (g *Gateway) handleNotification(method string, params json.RawMessage) {
	if method != types.NotificationSessionUpdate {
		g.log.Debug("gateway: unhandled notification", zap.String("method", method))
		return
	}

	var envelope types.SessionUpdateEnvelope
	if err := json.Unmarshal(params, &envelope); err != nil {
		g.log.WithError(err).Warn("gateway: malformed session/update envelope")
		return
	}
	if err := g.manager.ApplyUpdate(envelope.SessionID, envelope.Update); err != nil {
		g.log.Debug("gateway: session/update for untracked session",
			zap.String("session_id", envelope.SessionID), zap.Error(err))
	}
}

// handleRequest is Transport's InboundRequestHandler: only
// session/request_permission reaches here (Transport filters the rest).
func (g *Gateway) handleRequest(method string, params json.RawMessage, id interface{}) {
	if method != types.MethodRequestPermission {
		return
	}
	g.perm.HandleRequest(params, id)
}

func modesFromWire(raw map[string]interface{}) *model.Modes {
	if raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var modes model.Modes
	if err := json.Unmarshal(data, &modes); err != nil {
		return nil
	}
	return &modes
}
