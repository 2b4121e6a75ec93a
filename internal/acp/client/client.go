// Package client provides a thin typed facade over transport.Transport
// exposing the ACP method set.
package client

import (
	"context"
	"encoding/json"

	"github.com/kandev/acp-gateway/internal/acp/transport"
	"github.com/kandev/acp-gateway/internal/acp/types"
	"github.com/kandev/acp-gateway/pkg/acp/jsonrpc"
)

// AgentClient wraps a Transport with typed ACP method calls.
type AgentClient struct {
	transport *transport.Transport
}

// New wraps an already-constructed Transport.
func New(t *transport.Transport) *AgentClient {
	return &AgentClient{transport: t}
}

func (c *AgentClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	raw, err := c.transport.SendRequest(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Initialize performs the handshake with the agent.
func (c *AgentClient) Initialize(ctx context.Context, params types.InitializeParams) (*types.InitializeResult, error) {
	var result types.InitializeResult
	if err := c.call(ctx, types.MethodInitialize, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// NewSession opens a new conversation at cwd.
func (c *AgentClient) NewSession(ctx context.Context, cwd string, mcpServers []types.McpServer) (*types.SessionNewResult, error) {
	var result types.SessionNewResult
	params := types.SessionNewParams{Cwd: cwd, McpServers: mcpServers}
	if err := c.call(ctx, types.MethodSessionNew, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ResumeSession reopens a previously known session. The returned id is
// authoritative and may differ from the one requested.
func (c *AgentClient) ResumeSession(ctx context.Context, sessionID, cwd string) (*types.SessionNewResult, error) {
	var result types.SessionNewResult
	params := types.SessionResumeParams{SessionID: sessionID, Cwd: cwd}
	if err := c.call(ctx, types.MethodSessionResume, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ForkSession branches a new session from an existing one.
func (c *AgentClient) ForkSession(ctx context.Context, sessionID, cwd string) (*types.SessionNewResult, error) {
	var result types.SessionNewResult
	params := types.SessionForkParams{SessionID: sessionID, Cwd: cwd}
	if err := c.call(ctx, types.MethodSessionFork, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Prompt sends a user turn and returns the agent's stop reason once the
// turn completes. Intermediate progress arrives via session/update
// notifications on the transport's notification handler, not this call.
func (c *AgentClient) Prompt(ctx context.Context, sessionID string, content []types.ContentBlock) (*types.SessionPromptResult, error) {
	var result types.SessionPromptResult
	params := types.SessionPromptParams{SessionID: sessionID, Prompt: content}
	if err := c.call(ctx, types.MethodSessionPrompt, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Cancel is a one-way notification; there is no response to await.
func (c *AgentClient) Cancel(ctx context.Context, sessionID string) error {
	return c.transport.SendNotification(ctx, types.MethodSessionCancel, types.SessionCancelParams{SessionID: sessionID})
}

// SetMode switches the session's operating mode.
func (c *AgentClient) SetMode(ctx context.Context, sessionID, modeID string) error {
	return c.call(ctx, types.MethodSessionSetMode, types.SessionSetModeParams{SessionID: sessionID, ModeID: modeID}, nil)
}

// RespondPermission answers an agent-originated session/request_permission.
// id must be the exact value the agent sent, preserving its original JSON
// shape (string or number).
func (c *AgentClient) RespondPermission(id interface{}, outcome types.PermissionOutcome) error {
	result := types.RequestPermissionResult{Outcome: outcome}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	var raw json.RawMessage = data
	return c.transport.RespondToInbound(id, raw, nil)
}

// RespondPermissionError answers a permission request with a JSON-RPC error
// instead of an outcome, used when the gateway itself cannot service it.
func (c *AgentClient) RespondPermissionError(id interface{}, code int, message string) error {
	return c.transport.RespondToInbound(id, nil, &jsonrpc.Error{Code: code, Message: message})
}
