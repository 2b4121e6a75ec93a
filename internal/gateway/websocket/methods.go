package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kandev/acp-gateway/internal/acp/types"
)

// methodHandler decodes params, calls into the Gateway, and returns the
// JSON-encodable result (or an error, translated to -32603 by the caller).
type methodHandler func(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error)

var methods = map[string]methodHandler{
	"get_client_id":       handleGetClientID,
	"connect":             handleConnect,
	"disconnect":          handleDisconnect,
	"initialize":          handleInitialize,
	"create_session":      handleCreateSession,
	"resume_session":      handleResumeSession,
	"fork_session":        handleForkSession,
	"send_prompt":         handleSendPrompt,
	"cancel_session":      handleCancelSession,
	"stop_session":        handleStopSession,
	"set_session_mode":    handleSetSessionMode,
	"list_sessions":       handleListSessions,
	"get_session_info":    handleGetSessionInfo,
	"delete_session":      handleDeleteSession,
	"subscribe_session":   handleSubscribeSession,
	"unsubscribe_session": handleUnsubscribeSession,
	"get_session_state":   handleGetSessionState,
	"respond_permission":  handleRespondPermission,
	"set_dangerous_mode":  handleSetDangerousMode,
	"get_dangerous_mode":  handleGetDangerousMode,
	"create_terminal":     handleCreateTerminal,
	"write_terminal":      handleWriteTerminal,
	"resize_terminal":     handleResizeTerminal,
	"kill_terminal":       handleKillTerminal,
	"list_terminals":      handleListTerminals,
}

func dispatch(ctx context.Context, c *Client, method string, params json.RawMessage) (interface{}, error) {
	handler, ok := methods[method]
	if !ok {
		return nil, fmt.Errorf("unknown method %q", method)
	}
	return handler(ctx, c, params)
}

func decode(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return nil
	}
	return json.Unmarshal(params, v)
}

func handleGetClientID(_ context.Context, c *Client, _ json.RawMessage) (interface{}, error) {
	return map[string]string{"clientId": c.id}, nil
}

func handleConnect(_ context.Context, _ *Client, _ json.RawMessage) (interface{}, error) {
	// The agent is spawned lazily on first real use; connect is a no-op
	// acknowledgement that the client may now issue session methods.
	return nil, nil
}

func handleDisconnect(_ context.Context, c *Client, _ json.RawMessage) (interface{}, error) {
	c.hub.gw.Shutdown()
	return nil, nil
}

func handleInitialize(_ context.Context, c *Client, _ json.RawMessage) (interface{}, error) {
	result := c.hub.gw.InitializeResult()
	if result == nil {
		return map[string]interface{}{}, nil
	}
	return result, nil
}

type createSessionParams struct {
	Cwd string `json:"cwd"`
}

func handleCreateSession(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p createSessionParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	state, err := c.hub.gw.CreateSession(ctx, p.Cwd, nil)
	if err != nil {
		return nil, err
	}
	c.hub.broadcastSessionsUpdated()
	return state, nil
}

type resumeSessionParams struct {
	SessionID string `json:"sessionId"`
	Cwd       string `json:"cwd"`
}

func handleResumeSession(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p resumeSessionParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	state, err := c.hub.gw.ResumeSession(ctx, p.SessionID, p.Cwd)
	if err != nil {
		return nil, err
	}
	c.hub.broadcastSessionsUpdated()
	return state, nil
}

func handleForkSession(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p resumeSessionParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	state, err := c.hub.gw.ForkSession(ctx, p.SessionID, p.Cwd)
	if err != nil {
		return nil, err
	}
	c.hub.broadcastSessionsUpdated()
	return state, nil
}

type sendPromptParams struct {
	SessionID string               `json:"sessionId"`
	Content   []types.ContentBlock `json:"content"`
	MessageID string               `json:"messageId,omitempty"`
}

func handleSendPrompt(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p sendPromptParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	result, err := c.hub.gw.SendPrompt(ctx, p.SessionID, p.Content)
	if err != nil {
		return nil, err
	}
	return map[string]string{"stopReason": result.StopReason}, nil
}

type sessionIDParams struct {
	SessionID string `json:"sessionId"`
}

func handleCancelSession(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p sessionIDParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return nil, c.hub.gw.CancelSession(ctx, p.SessionID)
}

func handleStopSession(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p sessionIDParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := c.hub.gw.StopSession(ctx, p.SessionID); err != nil {
		return nil, err
	}
	c.stopWatching(p.SessionID)
	c.hub.broadcastSessionsUpdated()
	return nil, nil
}

type setSessionModeParams struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

func handleSetSessionMode(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p setSessionModeParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return nil, c.hub.gw.SetMode(ctx, p.SessionID, p.ModeID)
}

type listSessionsParams struct {
	Cwd    string `json:"cwd,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

func handleListSessions(_ context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	p := listSessionsParams{Limit: 20}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	result, err := c.hub.gw.ListSessions(p.Cwd, p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"sessions": result.Sessions,
		"hasMore":  result.HasMore,
		"total":    result.Total,
	}, nil
}

func handleGetSessionInfo(_ context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p sessionIDParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	info, ok := c.hub.gw.GetSessionInfo(p.SessionID)
	if !ok {
		return nil, fmt.Errorf("session %q not found", p.SessionID)
	}
	return info, nil
}

func handleDeleteSession(_ context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p sessionIDParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := c.hub.gw.DeleteSession(p.SessionID); err != nil {
		return nil, err
	}
	c.stopWatching(p.SessionID)
	c.hub.broadcastSessionsUpdated()
	return map[string]bool{"deleted": true}, nil
}

type subscribeSessionParams struct {
	SessionID  string `json:"sessionId"`
	AutoResume *bool  `json:"autoResume,omitempty"`
}

func handleSubscribeSession(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p subscribeSessionParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	state, events, err := c.hub.gw.SubscribeSession(ctx, c.id, p.SessionID)
	if err != nil {
		return nil, err
	}
	c.watchSession(p.SessionID, events)
	c.hub.broadcast("session/activated", map[string]string{"sessionId": p.SessionID})
	return state, nil
}

func handleUnsubscribeSession(_ context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p sessionIDParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	c.hub.gw.Manager().Unsubscribe(c.id, p.SessionID)
	c.stopWatching(p.SessionID)
	return nil, nil
}

func handleGetSessionState(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p subscribeSessionParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if state, ok := c.hub.gw.GetSessionState(p.SessionID); ok {
		return state, nil
	}
	if p.AutoResume != nil && !*p.AutoResume {
		return nil, fmt.Errorf("session %q not found", p.SessionID)
	}
	state, _, err := c.hub.gw.SubscribeSession(ctx, c.id, p.SessionID)
	if err != nil {
		return nil, err
	}
	c.hub.gw.Manager().Unsubscribe(c.id, p.SessionID)
	return state, nil
}

type respondPermissionParams struct {
	RequestID interface{}             `json:"requestId"`
	SessionID string                  `json:"sessionId,omitempty"`
	Outcome   types.PermissionOutcome `json:"outcome"`
}

func handleRespondPermission(_ context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p respondPermissionParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := c.hub.gw.RespondPermission(p.SessionID, p.RequestID, p.Outcome); err != nil {
		return nil, err
	}
	c.hub.broadcast("permission/resolved", map[string]interface{}{
		"requestId": p.RequestID,
		"sessionId": p.SessionID,
	})
	return nil, nil
}

type dangerousModeParams struct {
	SessionID string `json:"sessionId"`
	Enabled   *bool  `json:"enabled,omitempty"`
}

func handleSetDangerousMode(_ context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p dangerousModeParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	enabled := p.Enabled != nil && *p.Enabled
	c.hub.gw.SetDangerousMode(p.SessionID, enabled)
	return map[string]bool{"dangerousMode": enabled}, nil
}

func handleGetDangerousMode(_ context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p dangerousModeParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return map[string]bool{"dangerousMode": c.hub.gw.GetDangerousMode(p.SessionID)}, nil
}

type createTerminalParams struct {
	Cwd  string `json:"cwd,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

func handleCreateTerminal(_ context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	p := createTerminalParams{Cols: 80, Rows: 24}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Cols == 0 {
		p.Cols = 80
	}
	if p.Rows == 0 {
		p.Rows = 24
	}
	id, err := c.hub.gw.CreateTerminal(p.Cwd, p.Cols, p.Rows)
	if err != nil {
		return nil, err
	}
	return map[string]string{"terminalId": id}, nil
}

type terminalIDParams struct {
	TerminalID string `json:"terminalId"`
}

type writeTerminalParams struct {
	TerminalID string `json:"terminalId"`
	Data       string `json:"data"`
}

func handleWriteTerminal(_ context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p writeTerminalParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return nil, c.hub.gw.WriteTerminal(p.TerminalID, []byte(p.Data))
}

type resizeTerminalParams struct {
	TerminalID string `json:"terminalId"`
	Cols       uint16 `json:"cols"`
	Rows       uint16 `json:"rows"`
}

func handleResizeTerminal(_ context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p resizeTerminalParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return nil, c.hub.gw.ResizeTerminal(p.TerminalID, p.Cols, p.Rows)
}

func handleKillTerminal(_ context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	var p terminalIDParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return nil, c.hub.gw.KillTerminal(p.TerminalID)
}

func handleListTerminals(_ context.Context, c *Client, _ json.RawMessage) (interface{}, error) {
	return c.hub.gw.ListTerminals(), nil
}
