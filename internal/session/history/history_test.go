package history

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kandev/acp-gateway/internal/session/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSONL(t *testing.T, lines []string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sess.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, line := range lines {
		_, err := f.WriteString(line + "\n")
		require.NoError(t, err)
	}
	return path
}

func TestLoadSkipsLinesWithoutSessionID(t *testing.T) {
	path := writeJSONL(t, []string{
		`{"timestamp":"2026-01-01T00:00:00Z","uuid":"u1","message":{"role":"user","content":"orphan"}}`,
		`{"sessionId":"s1","uuid":"u2","timestamp":"2026-01-01T00:00:01Z","message":{"role":"user","content":"hi"}}`,
	})

	items, err := Load(path, 200)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "hi", items[0].Message.Content)
}

func TestLoadSkipsAPIErrorMessages(t *testing.T) {
	path := writeJSONL(t, []string{
		`{"sessionId":"s1","uuid":"u1","isApiErrorMessage":true,"message":{"role":"assistant","content":"oops"}}`,
	})
	items, err := Load(path, 200)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestLoadFlushesTextAroundToolUse(t *testing.T) {
	path := writeJSONL(t, []string{
		`{"sessionId":"s1","uuid":"u1","timestamp":"2026-01-01T00:00:00Z","message":{"role":"assistant","content":[{"type":"text","text":"before "},{"type":"tool_use","id":"t1","name":"ls","input":{"path":"."}},{"type":"text","text":"after"}]}}`,
		`{"sessionId":"s1","uuid":"u2","timestamp":"2026-01-01T00:00:01Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"file.txt"}]},"toolUseResult":{"stdout":"file.txt","stderr":""}}`,
	})

	items, err := Load(path, 200)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, model.ChatItemMessage, items[0].Kind)
	assert.Equal(t, "before ", items[0].Message.Content)

	assert.Equal(t, model.ChatItemToolCall, items[1].Kind)
	assert.Equal(t, "t1", items[1].ToolCall.ToolCallID)
	assert.Equal(t, model.ToolCallCompleted, items[1].ToolCall.Status)
	assert.Equal(t, "file.txt", items[1].ToolCall.RawOutput)

	assert.Equal(t, model.ChatItemMessage, items[2].Kind)
	assert.Equal(t, "after", items[2].Message.Content)
}

func TestLoadFiltersSystemMessages(t *testing.T) {
	path := writeJSONL(t, []string{
		`{"sessionId":"s1","uuid":"u1","message":{"role":"user","content":"<system-reminder>do nothing</system-reminder>"}}`,
	})
	items, err := Load(path, 200)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestLoadTruncatesToMostRecent(t *testing.T) {
	lines := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		lines = append(lines, `{"sessionId":"s1","uuid":"u`+string(rune('a'+i))+`","message":{"role":"user","content":"msg"}}`)
	}
	path := writeJSONL(t, lines)

	items, err := Load(path, 3)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestLoadInfoDerivesSummaryFromFirstUserMessage(t *testing.T) {
	path := writeJSONL(t, []string{
		`{"sessionId":"s1","uuid":"u1","timestamp":"2026-01-01T00:00:00Z","cwd":"/work","message":{"role":"user","content":"please refactor the parser module"}}`,
		`{"sessionId":"s1","uuid":"u2","timestamp":"2026-01-01T00:00:01Z","message":{"role":"assistant","content":"done"}}`,
	})

	info, err := LoadInfo(path, "s1")
	require.NoError(t, err)
	assert.Equal(t, "/work", info.Cwd)
	assert.True(t, info.HasAgentResponse)
	assert.Equal(t, "please refactor the parser module", info.Summary)
	assert.Equal(t, 2, info.MessageCount)
}
