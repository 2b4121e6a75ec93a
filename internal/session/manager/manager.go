// Package manager owns every live SessionState plus the per-session
// broadcast fabric that fans deltas out to subscribed clients.
package manager

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kandev/acp-gateway/internal/common/constants"
	"github.com/kandev/acp-gateway/internal/session/fold"
	"github.com/kandev/acp-gateway/internal/session/model"
)

// Event is one broadcast unit fanned out to every subscriber of a session.
// RpcGateway translates it into the matching JSON-RPC notification.
type Event struct {
	Method string
	Params interface{}
}

type sessionEntry struct {
	state       *model.SessionState
	broadcast   chan Event
	subscribers map[string]struct{} // client ids
}

// Manager holds states: SessionId -> SessionState and subscriptions:
// SessionId -> {sender, subscribers}. All map access is guarded by one
// read-write lock; mutating operations never perform I/O while holding it.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{sessions: make(map[string]*sessionEntry)}
}

// CreateSession allocates state and a fresh broadcast channel for a brand
// new or just-resumed session with no history yet loaded.
func (m *Manager) CreateSession(id, cwd string, modes *model.Modes, models map[string]interface{}) *model.SessionState {
	return m.createSession(id, cwd, modes, models, nil)
}

// CreateSessionWithHistory is CreateSession plus an immediate history load,
// used when the caller already has chat items in hand (e.g. a synchronous
// disk read small enough not to warrant the two-phase cold-subscribe path).
func (m *Manager) CreateSessionWithHistory(id, cwd string, modes *model.Modes, models map[string]interface{}, items []model.ChatItem) *model.SessionState {
	return m.createSession(id, cwd, modes, models, items)
}

func (m *Manager) createSession(id, cwd string, modes *model.Modes, models map[string]interface{}, items []model.ChatItem) *model.SessionState {
	state := model.NewSessionState(id, cwd)
	state.Modes = modes
	state.Models = models
	if items != nil {
		fold.LoadHistory(state, items)
	}

	m.mu.Lock()
	m.sessions[id] = &sessionEntry{
		state:       state,
		broadcast:   make(chan Event, constants.BroadcastChannelCapacity),
		subscribers: make(map[string]struct{}),
	}
	m.mu.Unlock()

	return state
}

// ApplyUpdate folds a raw session/update payload into the session's state
// and broadcasts the resulting delta, skipping broadcast entirely on a
// fold.DeltaNoop result.
func (m *Manager) ApplyUpdate(id string, raw json.RawMessage) error {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("manager: unknown session %q", id)
	}
	delta, err := fold.Apply(entry.state, raw)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if delta.Kind == fold.DeltaNoop {
		return nil
	}

	m.publish(entry, Event{
		Method: "session/state_update",
		Params: map[string]interface{}{"sessionId": id, "update": delta},
	})
	return nil
}

// LoadHistory is used by the two-phase cold-subscribe path: it replaces
// chat_items wholesale and broadcasts a full_state delta to every current
// subscriber.
func (m *Manager) LoadHistory(id string, items []model.ChatItem) error {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("manager: unknown session %q", id)
	}
	fold.LoadHistory(entry.state, items)
	snapshot := entry.state.Snapshot()
	m.mu.Unlock()

	m.publish(entry, Event{
		Method: "session/state_update",
		Params: map[string]interface{}{
			"sessionId": id,
			"update":    fold.StateUpdate{Kind: fold.DeltaFullState, FullState: snapshot},
		},
	})
	return nil
}

// AddUserMessage appends a directly-injected user message, marks the
// session's advisory status Running (a prompt is being sent), and
// broadcasts the resulting delta.
func (m *Manager) AddUserMessage(id, text, messageID string) error {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("manager: unknown session %q", id)
	}
	delta := fold.AddUserMessage(entry.state, text, messageID)
	entry.state.Status = model.StatusRunning
	m.mu.Unlock()

	m.publish(entry, Event{
		Method: "session/state_update",
		Params: map[string]interface{}{"sessionId": id, "update": delta},
	})
	return nil
}

// Subscribe atomically records the subscription and returns a snapshot plus
// a receive-only channel of subsequent events.
func (m *Manager) Subscribe(clientID, id string) (*model.SessionState, <-chan Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[id]
	if !ok {
		return nil, nil, false
	}
	entry.subscribers[clientID] = struct{}{}
	return entry.state.Snapshot(), entry.broadcast, true
}

// Unsubscribe drops one client's subscription to one session.
func (m *Manager) Unsubscribe(clientID, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.sessions[id]; ok {
		delete(entry.subscribers, clientID)
	}
}

// UnsubscribeAll drops a disconnecting client from every session.
func (m *Manager) UnsubscribeAll(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.sessions {
		delete(entry.subscribers, clientID)
	}
}

// SetPendingPermission attaches a permission request to a session.
func (m *Manager) SetPendingPermission(id string, req *model.PermissionRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.sessions[id]; ok {
		entry.state.PendingPermission = req
		entry.state.Status = model.StatusPending
	}
}

// ClearPendingPermission removes any pending permission and restores the
// advisory status to Running.
func (m *Manager) ClearPendingPermission(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.sessions[id]; ok {
		entry.state.PendingPermission = nil
		entry.state.Status = model.StatusRunning
	}
}

// IsDangerousMode reports the session's current auto-approval policy.
func (m *Manager) IsDangerousMode(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.sessions[id]
	return ok && entry.state.DangerousMode
}

// SetDangerousMode toggles the auto-approval policy for a session.
func (m *Manager) SetDangerousMode(id string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[id]
	if !ok {
		return false
	}
	entry.state.DangerousMode = enabled
	return true
}

// GetPendingPermission returns the pending request for a session, if any.
func (m *Manager) GetPendingPermission(id string) (*model.PermissionRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.sessions[id]
	if !ok || entry.state.PendingPermission == nil {
		return nil, false
	}
	return entry.state.PendingPermission, true
}

// FindSessionWithPendingPermission returns the first session (in undefined
// order) that currently has an outstanding permission request.
func (m *Manager) FindSessionWithPendingPermission() (string, *model.PermissionRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, entry := range m.sessions {
		if entry.state.PendingPermission != nil {
			return id, entry.state.PendingPermission, true
		}
	}
	return "", nil, false
}

// GetState returns a read-only snapshot of a session's state.
func (m *Manager) GetState(id string) (*model.SessionState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return entry.state.Snapshot(), true
}

// Publish is the entry point PermissionRouter (and the gateway itself) use
// to fan an out-of-band event (permission/request, permission/resolved)
// into a session's subscriber set.
func (m *Manager) Publish(id string, event Event) {
	m.mu.RLock()
	entry, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.publish(entry, event)
}

// publish is a non-blocking send: a full channel means a slow subscriber,
// and dropping is acceptable because get_session_state lets any client
// recover full state on demand. An event published while the session has
// no subscribers is dropped, not buffered for a later subscriber.
func (m *Manager) publish(entry *sessionEntry, event Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(entry.subscribers) == 0 {
		return
	}
	select {
	case entry.broadcast <- event:
	default:
	}
}

// RemoveSession tears down state and the broadcast channel. Subscribers get
// no explicit "removed" event; the channel closing (and subsequent receives
// returning the zero value with ok=false) is the signal.
func (m *Manager) RemoveSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.sessions[id]; ok {
		close(entry.broadcast)
		delete(m.sessions, id)
	}
}
