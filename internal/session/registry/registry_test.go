package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathKeyAsymmetry(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "my_project")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	key, err := PathKey(nested)
	require.NoError(t, err)

	// Both '/' and '_' collapse to '-': the reverse mapping cannot tell
	// which dashes were separators and which were underscores.
	assert.NotContains(t, key, "/")
	assert.NotContains(t, key, "_")
	assert.Contains(t, key, "-my-project")
}

func writeSession(t *testing.T, root, projectDir, sessionID, line string) {
	t.Helper()
	dir := filepath.Join(root, projectDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, sessionID+".jsonl")
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0o644))
}

func TestListExcludesAgentOnlyAndEmptySessions(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "proj", "real-session",
		`{"sessionId":"real-session","uuid":"u1","message":{"role":"user","content":"hello there"}}`)
	writeSession(t, root, "proj", "agent-sub", `{"sessionId":"agent-sub","uuid":"u2"}`)
	writeSession(t, root, "proj", "empty-session", `{"sessionId":"empty-session","uuid":"u3"}`)

	reg := New(root)
	result, err := reg.List("", 20, 0)
	require.NoError(t, err)

	require.Len(t, result.Sessions, 1)
	assert.Equal(t, "real-session", result.Sessions[0].SessionID)
}

func TestRegisterThenFindSessionFile(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "proj", "sess-1",
		`{"sessionId":"sess-1","uuid":"u1","message":{"role":"user","content":"hi"}}`)

	reg := New(root)
	reg.Register("sess-1", "/work", nil, nil)
	path, ok := reg.FindSessionFile("sess-1")
	require.True(t, ok)
	assert.FileExists(t, path)
}

func TestDeleteRemovesActiveAndFile(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "proj", "sess-1",
		`{"sessionId":"sess-1","uuid":"u1","message":{"role":"user","content":"hi"}}`)

	reg := New(root)
	reg.Register("sess-1", "/work", nil, nil)

	require.NoError(t, reg.Delete("sess-1"))

	_, ok := reg.GetSessionInfo("sess-1")
	assert.False(t, ok)
}

func TestActiveSessionIdentityWinsOverDiskCwd(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "old-proj", "sess-1",
		`{"sessionId":"sess-1","cwd":"/old","uuid":"u1","message":{"role":"user","content":"hi"}}`)

	reg := New(root)
	reg.Register("sess-1", "/new", nil, nil)

	info, ok := reg.GetSessionInfo("sess-1")
	require.True(t, ok)
	assert.Equal(t, "/new", info.Cwd)
}
