// Package transport owns a spawned ACP agent child process and the
// line-delimited JSON-RPC 2.0 codec over its standard streams.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kandev/acp-gateway/internal/common/constants"
	"github.com/kandev/acp-gateway/internal/common/logger"
	"github.com/kandev/acp-gateway/internal/tracing"
	"github.com/kandev/acp-gateway/pkg/acp/jsonrpc"
	"go.uber.org/zap"
)

var (
	ErrNotConnected  = fmt.Errorf("transport: not connected")
	ErrTimeout       = fmt.Errorf("transport: request timed out")
	ErrChannelClosed = fmt.Errorf("transport: channel closed")
)

// pendingSlot is the one-shot completion slot for an in-flight outbound
// request.
type pendingSlot struct {
	resultCh chan json.RawMessage
	errCh    chan *jsonrpc.Error
}

// InboundRequestHandler services a request originated by the agent (only
// session/request_permission is honored per §4.1; anything else is logged
// and ignored).
type InboundRequestHandler func(method string, params json.RawMessage, id interface{})

// NotificationHandler services a fire-and-forget notification from the
// agent (only session/update is interesting; others are logged).
type NotificationHandler func(method string, params json.RawMessage)

// Transport speaks JSON-RPC 2.0 over a child process's stdin/stdout/stderr.
type Transport struct {
	log *logger.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	writeCh chan []byte

	nextID  uint64
	pending sync.Map // uint64 -> *pendingSlot

	onRequest      InboundRequestHandler
	onNotification NotificationHandler

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a Transport. Handlers may be nil; set them before Connect if
// the caller needs to observe inbound traffic.
func New(log *logger.Logger) *Transport {
	if log == nil {
		log = logger.Default()
	}
	return &Transport{
		log:     log,
		writeCh: make(chan []byte, constants.StdinWriterBufferSize),
		done:    make(chan struct{}),
	}
}

// SetRequestHandler installs the callback invoked for inbound agent
// requests.
func (t *Transport) SetRequestHandler(h InboundRequestHandler) { t.onRequest = h }

// SetNotificationHandler installs the callback invoked for inbound
// notifications.
func (t *Transport) SetNotificationHandler(h NotificationHandler) { t.onNotification = h }

// Connect spawns the child with stdin/stdout/stderr captured. On macOS the
// effective PATH is augmented with common package-manager bin directories
// first, so a GUI-launched process can still find tools like npx.
func (t *Transport) Connect(ctx context.Context, command string, args, envOverrides []string) error {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = buildEnv(envOverrides)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("transport: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("transport: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("transport: spawn %s: %w", command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdout
	t.stderr = stderr

	go t.writeLoop()
	go t.readLoop()
	go t.stderrLoop()

	return nil
}

// buildEnv augments the inherited environment with explicit overrides and,
// on macOS, common package-manager bin directories so a GUI-launched
// process can still find tools installed via Homebrew or nvm.
func buildEnv(overrides []string) []string {
	env := os.Environ()
	if runtime.GOOS == "darwin" {
		extra := []string{"/opt/homebrew/bin", "/usr/local/bin", os.ExpandEnv("$HOME/.nvm/current/bin")}
		for i, kv := range env {
			if len(kv) > 5 && kv[:5] == "PATH=" {
				env[i] = kv + ":" + joinPaths(extra)
				break
			}
		}
	}
	return append(env, overrides...)
}

func joinPaths(paths []string) string {
	out := ""
	for i, p := range paths {
		if i > 0 {
			out += ":"
		}
		out += p
	}
	return out
}

// SendRequest assigns a monotonically increasing id, registers a one-shot
// completion slot, writes the envelope, and waits up to 300 seconds for a
// response.
func (t *Transport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if t.stdin == nil {
		return nil, ErrNotConnected
	}

	id := atomic.AddUint64(&t.nextID, 1)
	ctx, span := tracing.TraceRequest(ctx, method, id, sessionIDFromParams(params))
	defer span.End()

	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		tracing.TraceRequestResult(span, err)
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		tracing.TraceRequestResult(span, err)
		return nil, err
	}

	slot := &pendingSlot{resultCh: make(chan json.RawMessage, 1), errCh: make(chan *jsonrpc.Error, 1)}
	t.pending.Store(id, slot)
	defer t.pending.Delete(id)

	select {
	case t.writeCh <- append(data, '\n'):
	case <-t.done:
		tracing.TraceRequestResult(span, ErrChannelClosed)
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timer := time.NewTimer(constants.RequestTimeout)
	defer timer.Stop()

	select {
	case result := <-slot.resultCh:
		return result, nil
	case rpcErr := <-slot.errCh:
		tracing.TraceRequestResult(span, rpcErr)
		return nil, rpcErr
	case <-timer.C:
		tracing.TraceRequestResult(span, ErrTimeout)
		return nil, ErrTimeout
	case <-t.done:
		tracing.TraceRequestResult(span, ErrChannelClosed)
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendNotification writes a fire-and-forget envelope with no id.
func (t *Transport) SendNotification(ctx context.Context, method string, params interface{}) error {
	if t.stdin == nil {
		return ErrNotConnected
	}
	req, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	tracing.TraceNotification(ctx, method, sessionIDFromParams(params), req.Params)

	select {
	case t.writeCh <- append(data, '\n'):
		return nil
	case <-t.done:
		return ErrChannelClosed
	}
}

// RespondToInbound replies to an agent-originated request, preserving the
// exact id value (and its JSON number/string shape) the agent sent.
func (t *Transport) RespondToInbound(id interface{}, result interface{}, rpcErr *jsonrpc.Error) error {
	if t.stdin == nil {
		return ErrNotConnected
	}

	var resp *jsonrpc.Response
	if rpcErr != nil {
		resp = &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: id, Error: rpcErr}
	} else {
		var err error
		resp, err = jsonrpc.NewResponse(id, result)
		if err != nil {
			return err
		}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	select {
	case t.writeCh <- append(data, '\n'):
		return nil
	case <-t.done:
		return ErrChannelClosed
	}
}

// Disconnect drops the stdin sender and kills the child.
func (t *Transport) Disconnect() {
	t.closeOnce.Do(func() {
		close(t.done)
		if t.stdin != nil {
			_ = t.stdin.Close()
		}
		if t.cmd != nil && t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
	})
}

func (t *Transport) writeLoop() {
	writer := bufio.NewWriter(t.stdin)
	for {
		select {
		case data, ok := <-t.writeCh:
			if !ok {
				return
			}
			if _, err := writer.Write(data); err != nil {
				t.log.WithError(err).Warn("transport: stdin write failed")
				return
			}
			if err := writer.Flush(); err != nil {
				t.log.WithError(err).Warn("transport: stdin flush failed")
				return
			}
		case <-t.done:
			return
		}
	}
}

func (t *Transport) readLoop() {
	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		t.dispatchLine(line)
	}
	// stdout EOF ends the reader loop quietly; the child has exited. Tear
	// the transport down so in-flight and later requests fail with
	// ErrChannelClosed instead of waiting out RequestTimeout.
	t.Disconnect()
}

func (t *Transport) dispatchLine(line []byte) {
	var env jsonrpc.Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		t.log.WithError(err).Warn("transport: malformed inbound line")
		return
	}

	switch {
	case env.IsResponse():
		var id uint64
		if err := json.Unmarshal(env.ID, &id); err != nil {
			return
		}
		v, ok := t.pending.Load(id)
		if !ok {
			// Timeout already fired and the slot was removed; drop silently.
			return
		}
		slot := v.(*pendingSlot)
		if env.Error != nil {
			slot.errCh <- env.Error
		} else {
			slot.resultCh <- env.Result
		}

	case env.IsInboundRequest():
		if env.Method != "session/request_permission" {
			t.log.Warn("transport: ignoring unsupported inbound request", zap.String("method", env.Method))
			return
		}
		var id interface{}
		_ = json.Unmarshal(env.ID, &id)
		if t.onRequest != nil {
			t.onRequest(env.Method, env.Params, id)
		}

	case env.IsNotification():
		if t.onNotification != nil {
			t.onNotification(env.Method, env.Params)
		} else {
			t.log.Debug("transport: unhandled notification", zap.String("method", env.Method))
		}
	}
}

func (t *Transport) stderrLoop() {
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) > 500 {
			line = line[:500] + "...(truncated)"
		}
		t.log.Warn("transport: agent stderr", zap.String("line", line))
	}
}

func sessionIDFromParams(params interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	var probe struct {
		SessionID string `json:"sessionId"`
	}
	_ = json.Unmarshal(data, &probe)
	return probe.SessionID
}
