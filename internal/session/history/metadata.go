package history

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/kandev/acp-gateway/internal/session/model"
)

const summaryPreviewLen = 50

// LoadInfo walks the same JSONL file as Load but only extracts the
// lightweight fields needed for session listing, so callers that only need
// metadata never pay for full chat-item reconstruction.
func LoadInfo(path, sessionID string) (*model.SessionInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info := &model.SessionInfo{SessionID: sessionID}

	type summaryEntry struct {
		leafUUID string
		text     string
	}
	var summaries []summaryEntry
	seenUUIDs := make(map[string]bool)

	var firstUserMessage string
	messageCount := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw rawLine
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}

		if raw.Type == "summary" {
			summaries = append(summaries, summaryEntry{leafUUID: raw.LeafUUID, text: raw.Summary})
			continue
		}
		if raw.SessionID == "" || raw.IsAPIErrorMessage || raw.Message == nil {
			continue
		}
		if raw.Cwd != "" {
			info.Cwd = raw.Cwd
		}

		ts := time.UnixMilli(parseTimestamp(raw.Timestamp))
		if ts.After(info.LastActivity) {
			info.LastActivity = ts
		}

		text := extractPlainText(raw.Message.Content)
		if text == "" || isSystemMessage(text) {
			continue
		}
		messageCount++

		switch raw.Message.Role {
		case "user":
			info.LastUserMessage = text
			if firstUserMessage == "" {
				firstUserMessage = text
			}
		case "assistant":
			info.LastAssistantMessage = text
			info.HasAgentResponse = true
		}

		if raw.ParentUUID != "" {
			seenUUIDs[raw.ParentUUID] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	info.MessageCount = messageCount

	// A summary attaches to this session when its leafUuid matches the
	// parentUuid of a later entry we actually saw; otherwise fall back to a
	// preview of the first user message.
	var attached string
	for _, s := range summaries {
		if seenUUIDs[s.leafUUID] {
			attached = s.text
		}
	}
	switch {
	case attached != "":
		info.Summary = attached
	case firstUserMessage != "":
		info.Summary = truncate(firstUserMessage, summaryPreviewLen)
	}

	return info, nil
}

func extractPlainText(raw json.RawMessage) string {
	if blocks, ok := decodeBlocks(raw); ok {
		var sb strings.Builder
		for _, b := range blocks {
			if b.Type == "text" {
				sb.WriteString(b.Text)
			}
		}
		return sb.String()
	}
	return stringContent(raw)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
