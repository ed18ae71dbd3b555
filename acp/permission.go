package acp

import "time"

// Decision is an answer to a permission request.
type Decision int

const (
	// DecisionAsk defers to whoever calls Session.RespondPermission.
	DecisionAsk Decision = iota
	DecisionAllow
	DecisionAllowAlways
	DecisionDeny
	// DecisionCancel abandons the request without choosing an option.
	DecisionCancel
)

func (d Decision) String() string {
	switch d {
	case DecisionAsk:
		return "ask"
	case DecisionAllow:
		return "allow"
	case DecisionAllowAlways:
		return "allow_always"
	case DecisionDeny:
		return "deny"
	case DecisionCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// PermissionRequest is the payload of an outstanding permission prompt.
type PermissionRequest struct {
	ReceivedAt time.Time
	ToolCall   ToolCallInfo
	Options    []PermissionOption
}

// PermissionPolicy answers permission requests before they reach the user.
type PermissionPolicy interface {
	Decide(req PermissionRequest) Decision
}

// AskPolicy sends every request to the user.
type AskPolicy struct{}

func (AskPolicy) Decide(PermissionRequest) Decision { return DecisionAsk }

// BypassPolicy allows everything.
type BypassPolicy struct{}

func (BypassPolicy) Decide(PermissionRequest) Decision { return DecisionAllow }

// ReadOnlyPolicy allows tools that cannot modify the workspace and denies
// the rest.
type ReadOnlyPolicy struct{}

func (ReadOnlyPolicy) Decide(req PermissionRequest) Decision {
	if req.ToolCall.Kind.IsReadOnly() {
		return DecisionAllow
	}
	return DecisionDeny
}

// PolicyFunc adapts a function to PermissionPolicy.
type PolicyFunc func(PermissionRequest) Decision

func (f PolicyFunc) Decide(req PermissionRequest) Decision { return f(req) }

// outcomeFor maps d to one of the offered options. When no option of a
// suitable kind was offered the request is cancelled.
func outcomeFor(d Decision, options []PermissionOption) PermissionOutcome {
	var prefs []PermissionOptionKind
	switch d {
	case DecisionAllow:
		prefs = []PermissionOptionKind{PermissionAllowOnce, PermissionAllowAlways}
	case DecisionAllowAlways:
		prefs = []PermissionOptionKind{PermissionAllowAlways, PermissionAllowOnce}
	case DecisionDeny:
		prefs = []PermissionOptionKind{PermissionRejectOnce, PermissionRejectAlways}
	default:
		return CancelledOutcome()
	}
	for _, kind := range prefs {
		for _, opt := range options {
			if opt.Kind == kind {
				return SelectedOutcome(opt.ID)
			}
		}
	}
	return CancelledOutcome()
}
