package engine

import (
	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/event"
)

// ActionType discriminates actions.
type ActionType string

const (
	// ActionUI is an action dispatched by the host through a dispatch handle.
	ActionUI ActionType = "uiAction"
	// ActionRequested is produced by a request or set bid. When its payload
	// is asynchronous the action only registers the request as pending.
	ActionRequested ActionType = "requestedAction"
	// ActionResolve settles a pending request with a value.
	ActionResolve ActionType = "resolveAction"
	// ActionReject settles a pending request with an error.
	ActionReject ActionType = "rejectAction"
	// ActionResolvedExtend settles a pending extension.
	ActionResolvedExtend ActionType = "resolvedExtendAction"
)

// ParseActionType validates an action type name.
func ParseActionType(s string) (ActionType, bool) {
	switch t := ActionType(s); t {
	case ActionUI, ActionRequested, ActionResolve, ActionReject, ActionResolvedExtend:
		return t, true
	default:
		return "", false
	}
}

// Action is one entry of the action stream.
type Action struct {
	// ID is assigned on admission; queued actions carry 0.
	ID    int64      `json:"id"`
	Type  ActionType `json:"type"`
	Event event.ID   `json:"event"`

	// Payload is the value carried by the action as it was admitted. For a
	// pending requested action it is nil. For a resolvedExtend action it is
	// the value the extender settled with. Extends applied after admission
	// do not change it, so waiters may receive a different value.
	Payload any `json:"payload,omitempty"`

	// Scenario is the requesting scenario for requested, resolve and reject
	// actions, and the extending scenario for resolvedExtend actions.
	Scenario bid.ScenarioID `json:"scenario,omitzero"`

	// BidKind is the kind of the originating bid (request or set).
	BidKind bid.Kind `json:"bid_kind,omitempty"`

	// Pending marks a requested action whose payload was asynchronous.
	Pending bool `json:"pending,omitempty"`

	// RequestActionID links a settlement to the action that went pending.
	RequestActionID int64 `json:"request_action_id,omitempty"`

	// ResolveActionID is filled in on a pending action once it settles.
	ResolveActionID int64 `json:"resolve_action_id,omitempty"`

	// Error is the rejection message of a reject (or rejected extension).
	Error string `json:"error,omitempty"`

	err error
	// run is the run id an externally produced action belongs to. Actions
	// of an earlier run are dropped on admission.
	run string
}

// Err returns the rejection error, rebuilding it from Error for actions
// that came from a recording.
func (a Action) Err() error {
	if a.err != nil {
		return a.err
	}
	if a.Error != "" {
		return recordedError(a.Error)
	}
	return nil
}

type recordedError string

func (e recordedError) Error() string { return string(e) }

// IsRejection reports whether the action settles something with an error.
func (a Action) IsRejection() bool {
	return a.Type == ActionReject || (a.Type == ActionResolvedExtend && a.Error != "")
}

// sameShape compares the fields replay verification cares about.
func (a Action) sameShape(b Action) bool {
	return a.Type == b.Type &&
		a.Event == b.Event &&
		a.Scenario == b.Scenario &&
		(a.BidKind == 0 || b.BidKind == 0 || a.BidKind == b.BidKind)
}
