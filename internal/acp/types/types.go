// Package types defines the wire shapes of the ACP dialect spoken to the
// agent child process: method params/results and the session/update
// discriminated union. Field names are camelCase to match the wire exactly.
package types

import "encoding/json"

// ACP method names sent to the agent.
const (
	MethodInitialize    = "initialize"
	MethodSessionNew    = "session/new"
	MethodSessionResume = "session/resume"
	MethodSessionFork   = "session/fork"
	MethodSessionPrompt = "session/prompt"
	MethodSessionCancel = "session/cancel"
	MethodSessionSetMode = "session/set_mode"
)

// ACP methods received from the agent.
const (
	MethodRequestPermission = "session/request_permission"
	NotificationSessionUpdate = "session/update"
)

// InitializeParams for the initialize request.
type InitializeParams struct {
	ProtocolVersion int                `json:"protocolVersion"`
	ClientInfo      ClientInfo         `json:"clientInfo"`
	Capabilities    ClientCapabilities `json:"capabilities,omitempty"`
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type ClientCapabilities struct {
	Streaming bool `json:"streaming,omitempty"`
}

// InitializeResult from the agent.
type InitializeResult struct {
	ProtocolVersion int                    `json:"protocolVersion"`
	ServerInfo      ServerInfo             `json:"serverInfo"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SessionNewParams for session/new.
type SessionNewParams struct {
	Cwd        string      `json:"cwd"`
	McpServers []McpServer `json:"mcpServers"`
}

type McpServer struct {
	Name    string   `json:"name"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	URL     string   `json:"url,omitempty"`
	Type    string   `json:"type,omitempty"`
}

// SessionNewResult / SessionResumeResult / SessionForkResult share the same
// shape: the agent always returns the id it considers authoritative.
type SessionNewResult struct {
	SessionID string                 `json:"sessionId"`
	Modes     map[string]interface{} `json:"modes,omitempty"`
	Models    map[string]interface{} `json:"models,omitempty"`
}

// SessionResumeParams for session/resume.
type SessionResumeParams struct {
	SessionID string `json:"sessionId"`
	Cwd       string `json:"cwd"`
}

// SessionForkParams for session/fork.
type SessionForkParams struct {
	SessionID string `json:"sessionId"`
	Cwd       string `json:"cwd"`
}

// SessionPromptParams for session/prompt.
type SessionPromptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// SessionPromptResult from session/prompt.
type SessionPromptResult struct {
	StopReason string `json:"stopReason"`
}

// SessionCancelParams for the session/cancel notification.
type SessionCancelParams struct {
	SessionID string `json:"sessionId"`
}

// SessionSetModeParams for session/set_mode.
type SessionSetModeParams struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

// ContentBlock is discriminated by Type: "text", "image", "resource_link",
// "resource".
type ContentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Data     string          `json:"data,omitempty"`     // image
	MimeType string          `json:"mimeType,omitempty"` // image
	URI      string          `json:"uri,omitempty"`      // resource_link
	Name     string          `json:"name,omitempty"`     // resource_link
	Resource *EmbeddedResource `json:"resource,omitempty"`
}

// EmbeddedResource is the payload of a "resource" content block.
type EmbeddedResource struct {
	URI  string `json:"uri"`
	Text string `json:"text,omitempty"`
	Blob string `json:"blob,omitempty"`
}

// SessionUpdateEnvelope is the params of a session/update notification
// before the inner update is discriminated by its own "sessionUpdate" tag.
type SessionUpdateEnvelope struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
}

// UpdateKind values for the "sessionUpdate" discriminator.
const (
	UpdateUserMessageChunk        = "user_message_chunk"
	UpdateAgentMessageChunk       = "agent_message_chunk"
	UpdateAgentThoughtChunk       = "agent_thought_chunk"
	UpdateToolCall                = "tool_call"
	UpdateToolCallUpdate          = "tool_call_update"
	UpdatePlan                    = "plan"
	UpdateAvailableCommandsUpdate = "available_commands_update"
	UpdateCurrentModeUpdate       = "current_mode_update"
)

// RawSessionUpdate carries just enough to discriminate before decoding the
// rest of the payload into a concrete type.
type RawSessionUpdate struct {
	SessionUpdate string `json:"sessionUpdate"`
}

// MessageChunkUpdate is the shape of user_message_chunk / agent_message_chunk
// / agent_thought_chunk.
type MessageChunkUpdate struct {
	SessionUpdate string       `json:"sessionUpdate"`
	Content       ContentBlock `json:"content"`
}

// ToolCallUpdateWire is the shape of both tool_call and tool_call_update
// notifications; tool_call_update fields are all optional overlays.
type ToolCallUpdateWire struct {
	SessionUpdate string          `json:"sessionUpdate"`
	ToolCallID    string          `json:"toolCallId"`
	Title         *string         `json:"title,omitempty"`
	Kind          *string         `json:"kind,omitempty"`
	Status        *string         `json:"status,omitempty"`
	RawInput      json.RawMessage `json:"rawInput,omitempty"`
	RawOutput     json.RawMessage `json:"rawOutput,omitempty"`
	Content       []ContentBlock  `json:"content,omitempty"`
	Locations     []ToolCallLocation `json:"locations,omitempty"`
}

// ToolCallLocation points at a file/line a tool call touched.
type ToolCallLocation struct {
	Path string `json:"path"`
	Line *int   `json:"line,omitempty"`
}

// PlanUpdate is the shape of a plan notification.
type PlanUpdate struct {
	SessionUpdate string       `json:"sessionUpdate"`
	Entries       []PlanEntry  `json:"entries"`
}

// PlanEntry is one item of a Plan.
type PlanEntry struct {
	Content  string `json:"content"`
	Priority string `json:"priority"` // high, medium, low
	Status   string `json:"status"`   // pending, in_progress, completed
}

// AvailableCommandsUpdate replaces the session's available-commands list.
type AvailableCommandsUpdate struct {
	SessionUpdate      string               `json:"sessionUpdate"`
	AvailableCommands  []AvailableCommand   `json:"availableCommands"`
}

type AvailableCommand struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CurrentModeUpdate sets modes.current_mode_id.
type CurrentModeUpdate struct {
	SessionUpdate string `json:"sessionUpdate"`
	CurrentModeID string `json:"currentModeId"`
}

// RequestPermissionParams for the inbound session/request_permission
// request from the agent.
type RequestPermissionParams struct {
	SessionID string             `json:"sessionId"`
	ToolCall  ToolCallUpdateWire `json:"toolCall"`
	Options   []PermissionOption `json:"options"`
}

// PermissionOption is one choice offered to the human.
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"` // allow_once, allow_always, reject_once, reject_always
}

// RequestPermissionResult is our response to session/request_permission.
type RequestPermissionResult struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// PermissionOutcome is the user's (or auto-approval's) decision.
type PermissionOutcome struct {
	Outcome  string `json:"outcome"` // "selected" or "cancelled"
	OptionID string `json:"optionId,omitempty"`
}
