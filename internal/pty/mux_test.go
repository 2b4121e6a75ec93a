package pty

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuzig/vt10x"
)

// fakeHandle is an in-memory Handle so command/read loop behavior can be
// exercised without spawning a real shell.
type fakeHandle struct {
	mu        sync.Mutex
	written   bytes.Buffer
	toRead    chan []byte
	closed    bool
	lastCols  uint16
	lastRows  uint16
	resizeErr error
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{toRead: make(chan []byte, 8)}
}

func (f *fakeHandle) Read(b []byte) (int, error) {
	chunk, ok := <-f.toRead
	if !ok {
		return 0, io.EOF
	}
	n := copy(b, chunk)
	return n, nil
}

func (f *fakeHandle) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, errors.New("closed")
	}
	return f.written.Write(b)
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.toRead)
	}
	return nil
}

func (f *fakeHandle) Resize(cols, rows uint16) error {
	f.lastCols, f.lastRows = cols, rows
	return f.resizeErr
}

func newTestTerminal(handle Handle) (*Mux, *terminal) {
	m := New(nil)
	t := &terminal{
		id:      "t1",
		cwd:     "/work",
		handle:  handle,
		cmdCh:   make(chan command, 8),
		closeCh: make(chan struct{}),
		vt:      vt10x.New(vt10x.WithSize(80, 24)),
		cols:    80,
		rows:    24,
	}
	m.mu.Lock()
	m.terminals[t.id] = t
	m.mu.Unlock()
	go m.readLoop(t)
	go m.commandLoop(t)
	return m, t
}

func TestReadLoopMergesOutputOntoSharedChannel(t *testing.T) {
	handle := newFakeHandle()
	m, _ := newTestTerminal(handle)

	handle.toRead <- []byte("hello")

	select {
	case event := <-m.Output():
		assert.Equal(t, "t1", event.TerminalID)
		assert.Equal(t, "hello", event.Data)
	case <-time.After(time.Second):
		t.Fatal("expected output event")
	}
}

func TestWriteTerminalQueuesInput(t *testing.T) {
	handle := newFakeHandle()
	m, _ := newTestTerminal(handle)

	require.NoError(t, m.WriteTerminal("t1", []byte("ls\n")))

	require.Eventually(t, func() bool {
		handle.mu.Lock()
		defer handle.mu.Unlock()
		return handle.written.String() == "ls\n"
	}, time.Second, time.Millisecond)
}

func TestResizeTerminalAppliesToHandle(t *testing.T) {
	handle := newFakeHandle()
	m, _ := newTestTerminal(handle)

	require.NoError(t, m.ResizeTerminal("t1", 120, 40))

	require.Eventually(t, func() bool {
		return handle.lastCols == 120 && handle.lastRows == 40
	}, time.Second, time.Millisecond)
}

func TestKillTerminalClosesHandleAndRemovesFromMux(t *testing.T) {
	handle := newFakeHandle()
	m, _ := newTestTerminal(handle)

	require.NoError(t, m.KillTerminal("t1"))

	require.Eventually(t, func() bool {
		_, ok := m.get("t1")
		return !ok
	}, time.Second, time.Millisecond)

	handle.mu.Lock()
	closed := handle.closed
	handle.mu.Unlock()
	assert.True(t, closed)
}

func TestWriteTerminalUnknownIDErrors(t *testing.T) {
	m := New(nil)
	err := m.WriteTerminal("missing", []byte("x"))
	assert.Error(t, err)
}

func TestSnapshotRendersWrittenOutput(t *testing.T) {
	handle := newFakeHandle()
	m, _ := newTestTerminal(handle)

	handle.toRead <- []byte("hello")

	require.Eventually(t, func() bool {
		snap, err := m.Snapshot("t1")
		return err == nil && strings.Contains(snap, "hello")
	}, time.Second, time.Millisecond)
}

func TestSnapshotUnknownTerminalErrors(t *testing.T) {
	m := New(nil)
	_, err := m.Snapshot("missing")
	assert.Error(t, err)
}

func TestListTerminalsReportsWorkingDir(t *testing.T) {
	handle := newFakeHandle()
	m, _ := newTestTerminal(handle)

	list := m.ListTerminals()
	require.Len(t, list, 1)
	assert.Equal(t, "t1", list[0].ID)
	assert.Equal(t, "/work", list[0].WorkingDir)
}
