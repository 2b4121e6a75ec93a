// Package fold implements the deterministic state machine that turns a
// stream of agent session/update events into SessionState mutations plus a
// parallel stream of StateUpdate deltas for broadcast to subscribers.
package fold

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kandev/acp-gateway/internal/acp/types"
	"github.com/kandev/acp-gateway/internal/session/model"
	"github.com/google/uuid"
)

// DeltaKind discriminates the StateUpdate union broadcast to subscribers.
type DeltaKind string

const (
	DeltaMessageAdded              DeltaKind = "message_added"
	DeltaMessageChunk              DeltaKind = "message_chunk"
	DeltaToolCallAdded             DeltaKind = "tool_call_added"
	DeltaToolCallUpdated           DeltaKind = "tool_call_updated"
	DeltaPlanReplaced              DeltaKind = "plan_replaced"
	DeltaAvailableCommandsReplaced DeltaKind = "available_commands_replaced"
	DeltaModesUpdated              DeltaKind = "modes_updated"
	DeltaFullState                 DeltaKind = "full_state"
	DeltaNoop                      DeltaKind = "noop"
)

// StateUpdate is one delta emitted by a fold step, broadcast to subscribers
// as the "update" field of a session/state_update notification (§8). Kind
// is serialized as updateType, the tagged union's discriminator; only the
// field matching it is populated, so every other field round-trips as
// omitted rather than an explicit null.
type StateUpdate struct {
	Kind              DeltaKind                `json:"updateType"`
	Message           *model.Message           `json:"message,omitempty"`
	Text              string                   `json:"text,omitempty"`
	ToolCall          *model.ToolCall          `json:"toolCall,omitempty"`
	Plan              *model.Plan              `json:"plan,omitempty"`
	AvailableCommands []model.AvailableCommand `json:"availableCommands,omitempty"`
	Modes             *model.Modes             `json:"modes,omitempty"`
	FullState         *model.SessionState      `json:"state,omitempty"`
}

// Apply folds a single raw session/update payload (the "update" field from
// the agent's session/update notification, still tagged by
// "sessionUpdate") into state, returning the delta to broadcast. Unknown
// discriminators are treated as Noop, which the manager does not broadcast.
func Apply(state *model.SessionState, raw json.RawMessage) (StateUpdate, error) {
	var disc types.RawSessionUpdate
	if err := json.Unmarshal(raw, &disc); err != nil {
		return StateUpdate{}, fmt.Errorf("fold: decode discriminator: %w", err)
	}

	defer func() { state.UpdatedAt = time.Now() }()

	switch disc.SessionUpdate {
	case types.UpdateUserMessageChunk:
		return applyMessageChunk(state, raw, model.RoleUser)
	case types.UpdateAgentMessageChunk, types.UpdateAgentThoughtChunk:
		return applyMessageChunk(state, raw, model.RoleAssistant)
	case types.UpdateToolCall:
		return applyToolCall(state, raw)
	case types.UpdateToolCallUpdate:
		return applyToolCallUpdate(state, raw)
	case types.UpdatePlan:
		return applyPlan(state, raw)
	case types.UpdateAvailableCommandsUpdate:
		return applyAvailableCommands(state, raw)
	case types.UpdateCurrentModeUpdate:
		return applyCurrentMode(state, raw)
	default:
		return StateUpdate{Kind: DeltaNoop}, nil
	}
}

func applyMessageChunk(state *model.SessionState, raw json.RawMessage, role model.Role) (StateUpdate, error) {
	var chunk types.MessageChunkUpdate
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return StateUpdate{}, fmt.Errorf("fold: decode message chunk: %w", err)
	}
	text := chunk.Content.Text

	if n := len(state.ChatItems); n > 0 {
		last := &state.ChatItems[n-1]
		if last.Kind == model.ChatItemMessage && last.Message != nil && last.Message.Role == role {
			last.Message.Content += text
			last.Message.TimestampMs = nowMs()
			return StateUpdate{Kind: DeltaMessageChunk, Text: text}, nil
		}
	}

	msg := &model.Message{
		ID:          uuid.NewString(),
		Role:        role,
		Content:     text,
		TimestampMs: nowMs(),
	}
	state.ChatItems = append(state.ChatItems, model.ChatItem{Kind: model.ChatItemMessage, Message: msg})
	return StateUpdate{Kind: DeltaMessageAdded, Message: msg}, nil
}

func applyToolCall(state *model.SessionState, raw json.RawMessage) (StateUpdate, error) {
	var wire types.ToolCallUpdateWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return StateUpdate{}, fmt.Errorf("fold: decode tool_call: %w", err)
	}

	tc := &model.ToolCall{ToolCallID: wire.ToolCallID}
	overlay(tc, &wire)

	position := len(state.ChatItems)
	state.ChatItems = append(state.ChatItems, model.ChatItem{Kind: model.ChatItemToolCall, ToolCall: tc})
	state.ToolIndex[tc.ToolCallID] = position

	return StateUpdate{Kind: DeltaToolCallAdded, ToolCall: tc}, nil
}

func applyToolCallUpdate(state *model.SessionState, raw json.RawMessage) (StateUpdate, error) {
	var wire types.ToolCallUpdateWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return StateUpdate{}, fmt.Errorf("fold: decode tool_call_update: %w", err)
	}

	position, ok := state.ToolIndex[wire.ToolCallID]
	if !ok {
		return StateUpdate{Kind: DeltaNoop}, nil
	}

	item := &state.ChatItems[position]
	if item.ToolCall == nil {
		return StateUpdate{Kind: DeltaNoop}, nil
	}
	overlay(item.ToolCall, &wire)

	return StateUpdate{Kind: DeltaToolCallUpdated, ToolCall: item.ToolCall}, nil
}

// overlay copies every non-nil field of a tool_call / tool_call_update wire
// payload onto the in-place ToolCall, leaving unset fields untouched.
func overlay(tc *model.ToolCall, wire *types.ToolCallUpdateWire) {
	if wire.Title != nil {
		tc.Title = *wire.Title
	}
	if wire.Kind != nil {
		tc.Kind = *wire.Kind
	}
	if wire.Status != nil {
		tc.Status = model.ToolCallStatus(*wire.Status)
	}
	if len(wire.RawInput) > 0 {
		var v interface{}
		if err := json.Unmarshal(wire.RawInput, &v); err == nil {
			tc.RawInput = v
		}
	}
	if len(wire.RawOutput) > 0 {
		var v interface{}
		if err := json.Unmarshal(wire.RawOutput, &v); err == nil {
			tc.RawOutput = v
		}
	}
	if wire.Content != nil {
		blocks := make([]model.ContentBlock, len(wire.Content))
		for i, b := range wire.Content {
			blocks[i] = model.ContentBlock{
				Type: b.Type, Text: b.Text, Data: b.Data, MimeType: b.MimeType, URI: b.URI, Name: b.Name,
			}
		}
		tc.Content = blocks
	}
	if wire.Locations != nil {
		locs := make([]model.ToolCallLocation, len(wire.Locations))
		for i, l := range wire.Locations {
			locs[i] = model.ToolCallLocation{Path: l.Path, Line: l.Line}
		}
		tc.Locations = locs
	}
}

func applyPlan(state *model.SessionState, raw json.RawMessage) (StateUpdate, error) {
	var wire types.PlanUpdate
	if err := json.Unmarshal(raw, &wire); err != nil {
		return StateUpdate{}, fmt.Errorf("fold: decode plan: %w", err)
	}
	entries := make([]model.PlanEntry, len(wire.Entries))
	for i, e := range wire.Entries {
		entries[i] = model.PlanEntry{
			Content:  e.Content,
			Priority: model.PlanEntryPriority(e.Priority),
			Status:   model.PlanEntryStatus(e.Status),
		}
	}
	plan := &model.Plan{Entries: entries}
	state.Plan = plan
	return StateUpdate{Kind: DeltaPlanReplaced, Plan: plan}, nil
}

func applyAvailableCommands(state *model.SessionState, raw json.RawMessage) (StateUpdate, error) {
	var wire types.AvailableCommandsUpdate
	if err := json.Unmarshal(raw, &wire); err != nil {
		return StateUpdate{}, fmt.Errorf("fold: decode available_commands_update: %w", err)
	}
	cmds := make([]model.AvailableCommand, len(wire.AvailableCommands))
	for i, c := range wire.AvailableCommands {
		cmds[i] = model.AvailableCommand{Name: c.Name, Description: c.Description}
	}
	state.AvailableCommands = cmds
	return StateUpdate{Kind: DeltaAvailableCommandsReplaced, AvailableCommands: cmds}, nil
}

func applyCurrentMode(state *model.SessionState, raw json.RawMessage) (StateUpdate, error) {
	var wire types.CurrentModeUpdate
	if err := json.Unmarshal(raw, &wire); err != nil {
		return StateUpdate{}, fmt.Errorf("fold: decode current_mode_update: %w", err)
	}
	if state.Modes == nil {
		// Spec: mutates modes.current_mode_id only if modes is already present.
		return StateUpdate{Kind: DeltaNoop}, nil
	}
	state.Modes.CurrentModeID = wire.CurrentModeID
	return StateUpdate{Kind: DeltaModesUpdated, Modes: state.Modes}, nil
}

// AddUserMessage appends a directly-injected user message (not from the
// agent wire) with a caller-supplied or freshly generated id, per §4.3.
func AddUserMessage(state *model.SessionState, text, id string) StateUpdate {
	defer func() { state.UpdatedAt = time.Now() }()

	if id == "" {
		id = uuid.NewString()
	}
	msg := &model.Message{ID: id, Role: model.RoleUser, Content: text, TimestampMs: nowMs()}
	state.ChatItems = append(state.ChatItems, model.ChatItem{Kind: model.ChatItemMessage, Message: msg})
	return StateUpdate{Kind: DeltaMessageAdded, Message: msg}
}

// LoadHistory replaces chat_items wholesale and rebuilds tool_index,
// per §4.3/§4.4. Used exactly once, before the first live update applies to
// a just-resumed session.
func LoadHistory(state *model.SessionState, items []model.ChatItem) {
	defer func() { state.UpdatedAt = time.Now() }()

	state.ChatItems = items
	state.ToolIndex = make(map[string]int, len(items))
	for i, item := range items {
		if item.Kind == model.ChatItemToolCall && item.ToolCall != nil {
			state.ToolIndex[item.ToolCall.ToolCallID] = i
		}
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
