// Package history reconstructs an initial chat-item vector by scanning an
// agent-owned per-session JSONL log. It never writes to these files.
package history

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/kandev/acp-gateway/internal/session/model"
)

// systemMessagePrefixes identifies injected system/meta text that should
// never surface as a chat Message.
var systemMessagePrefixes = []string{
	"<command-name>",
	"<command-message>",
	"<command-args>",
	"<local-command-stdout>",
	"<system-reminder>",
	"Caveat:",
	"This session is being continued from a previous",
	"Invalid API key",
	`{"subtasks":`,
	"CRITICAL: You MUST respond with ONLY a JSON",
	"Warmup",
}

// rawLine is the JSONL schema excerpted in the on-disk history format.
// Only the subset relevant to reconstruction is modeled; unknown fields are
// ignored by encoding/json.
type rawLine struct {
	SessionID         string          `json:"sessionId"`
	Timestamp         string          `json:"timestamp"`
	UUID              string          `json:"uuid"`
	ParentUUID        string          `json:"parentUuid"`
	LeafUUID          string          `json:"leafUuid"`
	Type              string          `json:"type"`
	Summary           string          `json:"summary"`
	Cwd               string          `json:"cwd"`
	IsAPIErrorMessage bool            `json:"isApiErrorMessage"`
	Message           *rawMessage     `json:"message"`
	ToolUseResult     *rawToolResult  `json:"toolUseResult"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type rawToolResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// rawContentBlock covers the text / tool_use / tool_result variants found in
// an assistant or user message's content array.
type rawContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`      // tool_use
	Name      string          `json:"name"`    // tool_use
	Input     json.RawMessage `json:"input"`   // tool_use
	ToolUseID string          `json:"tool_use_id"` // tool_result
	Content   json.RawMessage `json:"content"`     // tool_result (string or block array)
}

const defaultMaxItems = 200

// Load parses one session JSONL file into a bounded slice of ChatItems, most
// recent maxItems kept when the file has more. maxItems<=0 uses 200.
func Load(path string, maxItems int) ([]model.ChatItem, error) {
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	items := make([]model.ChatItem, 0, 64)
	toolUseIndex := make(map[string]int) // tool_use_id -> position in items

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var pendingText strings.Builder
	var pendingID string
	var pendingTimestamp int64

	flushPendingText := func() {
		if pendingText.Len() == 0 {
			return
		}
		items = append(items, model.ChatItem{
			Kind: model.ChatItemMessage,
			Message: &model.Message{
				ID:          pendingID,
				Role:        model.RoleAssistant,
				Content:     pendingText.String(),
				TimestampMs: pendingTimestamp,
			},
		})
		pendingText.Reset()
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw rawLine
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}

		if raw.SessionID == "" && raw.Type != "summary" {
			continue
		}
		if raw.IsAPIErrorMessage {
			continue
		}
		if raw.Type == "summary" {
			continue // metadata-only, handled by LoadInfo
		}
		if raw.Message == nil {
			continue
		}

		ts := parseTimestamp(raw.Timestamp)

		switch raw.Message.Role {
		case "assistant":
			blocks, ok := decodeBlocks(raw.Message.Content)
			if !ok {
				// Plain string content.
				text := stringContent(raw.Message.Content)
				if text != "" && !isSystemMessage(text) {
					items = append(items, model.ChatItem{
						Kind: model.ChatItemMessage,
						Message: &model.Message{ID: raw.UUID, Role: model.RoleAssistant, Content: text, TimestampMs: ts},
					})
				}
				continue
			}

			pendingID = raw.UUID
			pendingTimestamp = ts
			for _, b := range blocks {
				switch b.Type {
				case "text":
					pendingText.WriteString(b.Text)
				case "tool_use":
					flushPendingText()
					tc := &model.ToolCall{
						ToolCallID: b.ID,
						Title:      b.Name,
						Status:     model.ToolCallCompleted,
					}
					if len(b.Input) > 0 {
						var v interface{}
						if json.Unmarshal(b.Input, &v) == nil {
							tc.RawInput = v
						}
					}
					position := len(items)
					items = append(items, model.ChatItem{Kind: model.ChatItemToolCall, ToolCall: tc})
					toolUseIndex[b.ID] = position
				}
			}
			flushPendingText()

		case "user":
			blocks, ok := decodeBlocks(raw.Message.Content)
			if !ok {
				text := stringContent(raw.Message.Content)
				if text != "" && !isSystemMessage(text) {
					items = append(items, model.ChatItem{
						Kind: model.ChatItemMessage,
						Message: &model.Message{ID: raw.UUID, Role: model.RoleUser, Content: text, TimestampMs: ts},
					})
				}
				continue
			}

			allToolResult := len(blocks) > 0
			var userText strings.Builder
			for _, b := range blocks {
				if b.Type != "tool_result" {
					allToolResult = false
					if b.Type == "text" {
						userText.WriteString(b.Text)
					}
					continue
				}
				applyToolResult(items, toolUseIndex, b, raw.ToolUseResult)
			}

			if !allToolResult {
				text := userText.String()
				if text != "" && !isSystemMessage(text) {
					items = append(items, model.ChatItem{
						Kind: model.ChatItemMessage,
						Message: &model.Message{ID: raw.UUID, Role: model.RoleUser, Content: text, TimestampMs: ts},
					})
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(items) > maxItems {
		items = items[len(items)-maxItems:]
	}
	return items, nil
}

// applyToolResult sets RawOutput/Content on the indexed ToolCall for a
// tool_result block: the entry's toolUseResult stdout (plus "\n" and stderr
// when stderr is non-empty) when it has any, otherwise the block's own
// string content. It does not emit a chat item.
func applyToolResult(items []model.ChatItem, index map[string]int, block rawContentBlock, result *rawToolResult) {
	position, ok := index[block.ToolUseID]
	if !ok || items[position].ToolCall == nil {
		return
	}
	tc := items[position].ToolCall

	var output string
	if result != nil && (result.Stdout != "" || result.Stderr != "") {
		output = result.Stdout
		if result.Stderr != "" {
			if output != "" {
				output += "\n"
			}
			output += result.Stderr
		}
	} else {
		output = stringContent(block.Content)
	}
	tc.RawOutput = output
	if output != "" {
		tc.Content = []model.ContentBlock{{Type: "text", Text: output}}
	}
}

func decodeBlocks(raw json.RawMessage) ([]rawContentBlock, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var blocks []rawContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, false
	}
	return blocks, true
}

func stringContent(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

func parseTimestamp(s string) int64 {
	if s == "" {
		return time.Now().UnixMilli()
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}

func isSystemMessage(text string) bool {
	for _, prefix := range systemMessagePrefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}
