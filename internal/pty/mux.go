package pty

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kandev/acp-gateway/internal/common/constants"
	"github.com/kandev/acp-gateway/internal/common/logger"
	"github.com/tuzig/vt10x"
	"go.uber.org/zap"
)

// OutputEvent is one chunk read from a terminal's PTY master.
type OutputEvent struct {
	TerminalID string
	Data       string
}

// Info is the public listing shape for an open terminal.
type Info struct {
	ID         string
	WorkingDir string
}

type commandKind int

const (
	cmdInput commandKind = iota
	cmdResize
	cmdKill
)

type command struct {
	kind commandKind
	data []byte
	cols uint16
	rows uint16
}

type terminal struct {
	id      string
	cwd     string
	handle  Handle
	cmdCh   chan command
	closeCh chan struct{}

	// vt mirrors the terminal's rendered screen so a client that joins
	// after output has already scrolled by can ask for a snapshot instead
	// of replaying raw, escape-sequence-laden bytes. Guarded by vtMu since
	// Snapshot (readers) can race the single readLoop writer.
	vtMu sync.Mutex
	vt   vt10x.Terminal
	cols int
	rows int
}

// Mux owns every open terminal and a single merged output stream shared by
// all of them. Each terminal runs its own reader goroutine (blocking PTY
// reads are synchronous, so this cannot be folded into a single select
// loop) plus an input goroutine that serializes writes/resizes/kill against
// that terminal's PTY master.
type Mux struct {
	mu        sync.RWMutex
	terminals map[string]*terminal
	output    chan OutputEvent
	log       *logger.Logger
}

// New creates an empty Mux. Call Output to obtain the merged read side.
func New(log *logger.Logger) *Mux {
	if log == nil {
		log = logger.Default()
	}
	return &Mux{
		terminals: make(map[string]*terminal),
		output:    make(chan OutputEvent, constants.PTYOutputChannelCapacity),
		log:       log.WithFields(zap.String("component", "pty")),
	}
}

// Output is the single merged {terminal_id, data} stream for every terminal
// this Mux has ever opened.
func (m *Mux) Output() <-chan OutputEvent {
	return m.output
}

// CreateTerminal opens a native PTY, spawns the user's shell in it at cwd,
// and returns the new terminal's id immediately; the shell starts in the
// background.
func (m *Mux) CreateTerminal(cwd string, cols, rows uint16) (string, error) {
	shell, args := detectShell()
	cmd := exec.Command(shell, args...)
	cmd.Dir = cwd
	cmd.Env = buildEnv()

	handle, err := startWithSize(cmd, cols, rows)
	if err != nil {
		return "", fmt.Errorf("pty: start %s: %w", shell, err)
	}

	id := uuid.NewString()
	t := &terminal{
		id:      id,
		cwd:     cwd,
		handle:  handle,
		cmdCh:   make(chan command, constants.StdinWriterBufferSize),
		closeCh: make(chan struct{}),
		vt:      vt10x.New(vt10x.WithSize(int(cols), int(rows))),
		cols:    int(cols),
		rows:    int(rows),
	}

	m.mu.Lock()
	m.terminals[id] = t
	m.mu.Unlock()

	go m.readLoop(t)
	go m.commandLoop(t)

	m.log.Info("terminal created", zap.String("terminal_id", id), zap.String("cwd", cwd))
	return id, nil
}

// WriteTerminal queues input for the terminal's shell.
func (m *Mux) WriteTerminal(id string, data []byte) error {
	t, ok := m.get(id)
	if !ok {
		return fmt.Errorf("pty: unknown terminal %q", id)
	}
	select {
	case t.cmdCh <- command{kind: cmdInput, data: data}:
		return nil
	case <-t.closeCh:
		return fmt.Errorf("pty: terminal %q closed", id)
	}
}

// ResizeTerminal queues a window-size change.
func (m *Mux) ResizeTerminal(id string, cols, rows uint16) error {
	t, ok := m.get(id)
	if !ok {
		return fmt.Errorf("pty: unknown terminal %q", id)
	}
	select {
	case t.cmdCh <- command{kind: cmdResize, cols: cols, rows: rows}:
		return nil
	case <-t.closeCh:
		return fmt.Errorf("pty: terminal %q closed", id)
	}
}

// KillTerminal tears the terminal down. Idempotent: killing an already-dead
// terminal id is a no-op.
func (m *Mux) KillTerminal(id string) error {
	t, ok := m.get(id)
	if !ok {
		return nil
	}
	select {
	case t.cmdCh <- command{kind: cmdKill}:
	case <-t.closeCh:
	}
	return nil
}

// ListTerminals returns every currently open terminal.
func (m *Mux) ListTerminals() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.terminals))
	for _, t := range m.terminals {
		out = append(out, Info{ID: t.id, WorkingDir: t.cwd})
	}
	return out
}

// Snapshot renders the terminal's current screen as plain text, one line
// per row, trailing blank rows trimmed. Useful for a client joining after
// a terminal has already produced output it never saw raw.
func (m *Mux) Snapshot(id string) (string, error) {
	t, ok := m.get(id)
	if !ok {
		return "", fmt.Errorf("pty: unknown terminal %q", id)
	}

	t.vtMu.Lock()
	defer t.vtMu.Unlock()

	lines := make([]string, t.rows)
	for row := 0; row < t.rows; row++ {
		var chars []rune
		for col := 0; col < t.cols; col++ {
			g := t.vt.Cell(col, row)
			if g.Char == 0 {
				chars = append(chars, ' ')
			} else {
				chars = append(chars, g.Char)
			}
		}
		lines[row] = strings.TrimRight(string(chars), " ")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n"), nil
}

func (m *Mux) get(id string) (*terminal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.terminals[id]
	return t, ok
}

func (m *Mux) remove(id string) {
	m.mu.Lock()
	delete(m.terminals, id)
	m.mu.Unlock()
}

// readLoop blocking-reads the PTY master and pushes decoded chunks onto the
// shared output channel. It exits on EOF, read error, or terminal close —
// whichever comes first, since Close() unblocks the pending Read.
func (m *Mux) readLoop(t *terminal) {
	buf := make([]byte, constants.PTYReadChunkSize)
	for {
		n, err := t.handle.Read(buf)
		if n > 0 {
			t.vtMu.Lock()
			_, _ = t.vt.Write(buf[:n])
			t.vtMu.Unlock()

			chunk := OutputEvent{TerminalID: t.id, Data: string(buf[:n])}
			select {
			case m.output <- chunk:
			case <-t.closeCh:
				return
			}
		}
		if err != nil {
			m.log.Debug("terminal read ended", zap.String("terminal_id", t.id), zap.Error(err))
			return
		}
	}
}

// commandLoop serializes writes, resizes, and kill against one terminal's
// PTY master so the reader and writer never touch the handle concurrently
// from more than one goroutine each.
func (m *Mux) commandLoop(t *terminal) {
	for cmd := range t.cmdCh {
		switch cmd.kind {
		case cmdInput:
			if _, err := t.handle.Write(cmd.data); err != nil {
				m.log.Debug("terminal write error", zap.String("terminal_id", t.id), zap.Error(err))
			}
		case cmdResize:
			if err := t.handle.Resize(cmd.cols, cmd.rows); err != nil {
				m.log.Debug("terminal resize error", zap.String("terminal_id", t.id), zap.Error(err))
			}
			t.vtMu.Lock()
			t.vt.Resize(int(cmd.cols), int(cmd.rows))
			t.cols, t.rows = int(cmd.cols), int(cmd.rows)
			t.vtMu.Unlock()
		case cmdKill:
			_ = t.handle.Close()
			close(t.closeCh)
			m.remove(t.id)
			m.log.Info("terminal killed", zap.String("terminal_id", t.id))
			return
		}
	}
}

func buildEnv() []string {
	env := os.Environ()
	env = append(env, "TERM=xterm-256color")
	return env
}
