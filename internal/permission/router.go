// Package permission implements the rendezvous by which an agent-originated
// session/request_permission is held on a session, surfaced to clients,
// answered by a human, and returned to the agent with the original request
// id preserved bit-for-bit.
package permission

import (
	"encoding/json"
	"fmt"

	"github.com/kandev/acp-gateway/internal/acp/types"
	"github.com/kandev/acp-gateway/internal/common/logger"
	"github.com/kandev/acp-gateway/internal/session/manager"
	"github.com/kandev/acp-gateway/internal/session/model"
	"go.uber.org/zap"
)

// agentResponder is the slice of AgentClient this package depends on,
// narrowed so tests can substitute a fake without a live transport.
type agentResponder interface {
	RespondPermission(id interface{}, outcome types.PermissionOutcome) error
}

// Router wires inbound agent permission requests to the session manager's
// subscriber fan-out and back to the agent.
type Router struct {
	client  agentResponder
	manager *manager.Manager
	log     *logger.Logger
}

// New creates a Router.
func New(c agentResponder, m *manager.Manager, log *logger.Logger) *Router {
	if log == nil {
		log = logger.Default()
	}
	return &Router{client: c, manager: m, log: log}
}

// HandleRequest is invoked by the transport's inbound-request dispatch when
// it classifies a line as session/request_permission. id is the agent's
// original JSON-RPC id value, preserved verbatim by the caller.
func (r *Router) HandleRequest(raw json.RawMessage, id interface{}) {
	var params types.RequestPermissionParams
	if err := json.Unmarshal(raw, &params); err != nil {
		r.log.WithError(err).Warn("permission: malformed request_permission params")
		return
	}

	req := &model.PermissionRequest{
		RequestID: id,
		SessionID: params.SessionID,
		ToolCall:  toModelToolCall(params.ToolCall),
		Options:   toModelOptions(params.Options),
	}

	r.manager.SetPendingPermission(params.SessionID, req)

	if r.manager.IsDangerousMode(params.SessionID) {
		r.autoApprove(req)
		return
	}

	r.manager.Publish(params.SessionID, manager.Event{
		Method: "permission/request",
		Params: req,
	})
}

// autoApprove picks the first allow_once/allow_always option, exactly as
// received — implementations must never reorder the options list — and
// replies without fanning the request out to subscribers.
func (r *Router) autoApprove(req *model.PermissionRequest) {
	option, ok := firstAllowOption(req.Options)
	if !ok {
		r.log.Warn("permission: dangerous_mode set but no allow option offered",
			zap.String("sessionId", req.SessionID))
		return
	}

	outcome := types.PermissionOutcome{Outcome: "selected", OptionID: option.OptionID}
	if err := r.client.RespondPermission(req.RequestID, outcome); err != nil {
		r.log.WithError(err).Warn("permission: auto-approve response failed")
		return
	}
	r.manager.ClearPendingPermission(req.SessionID)
}

func firstAllowOption(options []model.PermissionOption) (model.PermissionOption, bool) {
	for _, o := range options {
		if o.Kind == "allow_once" || o.Kind == "allow_always" {
			return o, true
		}
	}
	return model.PermissionOption{}, false
}

// Respond is called when a client answers a pending permission request. It
// replies to the agent with the preserved id, clears the pending state,
// then broadcasts permission/resolved so other clients close their dialogs.
// A failed reply to the agent leaves pending_permission set so a retry
// remains possible.
func (r *Router) Respond(sessionID string, requestID interface{}, outcome types.PermissionOutcome) error {
	pending, ok := r.manager.GetPendingPermission(sessionID)
	if !ok {
		return fmt.Errorf("permission: no pending request for session %q", sessionID)
	}

	if err := r.client.RespondPermission(pending.RequestID, outcome); err != nil {
		return err
	}

	r.manager.ClearPendingPermission(sessionID)
	r.manager.Publish(sessionID, manager.Event{
		Method: "permission/resolved",
		Params: map[string]interface{}{"requestId": requestID, "sessionId": sessionID},
	})
	return nil
}

func toModelToolCall(wire types.ToolCallUpdateWire) model.ToolCall {
	tc := model.ToolCall{ToolCallID: wire.ToolCallID}
	if wire.Title != nil {
		tc.Title = *wire.Title
	}
	if wire.Kind != nil {
		tc.Kind = *wire.Kind
	}
	if wire.Status != nil {
		tc.Status = model.ToolCallStatus(*wire.Status)
	}
	return tc
}

func toModelOptions(wire []types.PermissionOption) []model.PermissionOption {
	out := make([]model.PermissionOption, len(wire))
	for i, o := range wire {
		out[i] = model.PermissionOption{OptionID: o.OptionID, Name: o.Name, Kind: o.Kind}
	}
	return out
}
