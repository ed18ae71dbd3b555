package acp

import "time"

// EventType discriminates between event kinds.
type EventType int

const (
	// EventTypeMessageChunk fires for streamed agent, user or thought text.
	EventTypeMessageChunk EventType = iota

	// EventTypeToolCall fires when a tool call starts or changes.
	EventTypeToolCall

	// EventTypePlan fires when the agent replaces its plan.
	EventTypePlan

	// EventTypeAvailableCommands fires when the agent's slash commands change.
	EventTypeAvailableCommands

	// EventTypeModeChanged fires when the current mode changes.
	EventTypeModeChanged

	// EventTypePermissionRequest fires when a permission prompt needs a
	// decision from RespondPermission.
	EventTypePermissionRequest

	// EventTypePermissionResolved fires when a permission request is answered.
	EventTypePermissionResolved

	// EventTypeTurnComplete fires when a prompt turn ends.
	EventTypeTurnComplete

	// EventTypeTransportClosed fires when the agent process goes away.
	EventTypeTransportClosed
)

// Event is the interface for all session events.
type Event interface {
	Type() EventType
}

// MessageRole says who produced a message chunk.
type MessageRole string

const (
	RoleAgent   MessageRole = "agent"
	RoleUser    MessageRole = "user"
	RoleThought MessageRole = "thought"
)

// MessageChunkEvent carries one streamed content block.
type MessageChunkEvent struct {
	At      time.Time
	Role    MessageRole
	Content ContentBlock
}

// Type returns the event type.
func (e MessageChunkEvent) Type() EventType { return EventTypeMessageChunk }

// ToolCallEvent carries the merged state of a tool call after an update.
type ToolCallEvent struct {
	At   time.Time
	Call ToolCall
	New  bool
}

// Type returns the event type.
func (e ToolCallEvent) Type() EventType { return EventTypeToolCall }

// PlanEvent carries the agent's full plan.
type PlanEvent struct {
	At      time.Time
	Entries []PlanEntry
}

// Type returns the event type.
func (e PlanEvent) Type() EventType { return EventTypePlan }

// AvailableCommandsEvent carries the agent's slash commands.
type AvailableCommandsEvent struct {
	Commands []AvailableCommand
}

// Type returns the event type.
func (e AvailableCommandsEvent) Type() EventType { return EventTypeAvailableCommands }

// ModeChangedEvent fires when the agent reports or acknowledges a mode.
type ModeChangedEvent struct {
	ModeID string
}

// Type returns the event type.
func (e ModeChangedEvent) Type() EventType { return EventTypeModeChanged }

// PermissionRequestEvent fires when a decision is needed.
type PermissionRequestEvent struct {
	Request PermissionRequest
}

// Type returns the event type.
func (e PermissionRequestEvent) Type() EventType { return EventTypePermissionRequest }

// PermissionResolvedEvent fires once a permission request is answered.
type PermissionResolvedEvent struct {
	ToolCallID string
	Outcome    PermissionOutcome
	Decision   Decision
}

// Type returns the event type.
func (e PermissionResolvedEvent) Type() EventType { return EventTypePermissionResolved }

// TurnCompleteEvent fires when a prompt turn ends.
type TurnCompleteEvent struct {
	Result TurnResult
}

// Type returns the event type.
func (e TurnCompleteEvent) Type() EventType { return EventTypeTurnComplete }

// TransportClosedEvent fires when the agent process exits or its pipes
// close. The session is Closing afterwards.
type TransportClosedEvent struct {
	Err error
}

// Type returns the event type.
func (e TransportClosedEvent) Type() EventType { return EventTypeTransportClosed }

// ToolCall is the accumulated state of one tool call within a turn.
type ToolCall struct {
	StartedAt time.Time
	UpdatedAt time.Time
	RawInput  map[string]interface{}
	ID        string
	Title     string
	Kind      ToolKind
	Status    ToolCallStatus
	Locations []ToolLocation
	Content   []ToolCallContent
}

// merge applies the fields present in u.
func (c *ToolCall) merge(u *SessionUpdate, at time.Time) {
	c.UpdatedAt = at
	if u.Title != "" {
		c.Title = u.Title
	}
	if u.ToolKind != "" {
		c.Kind = u.ToolKind
	}
	if u.Status != "" {
		c.Status = u.Status
	}
	if u.Locations != nil {
		c.Locations = u.Locations
	}
	if u.ToolContent != nil {
		c.Content = u.ToolContent
	}
	if u.RawInput != nil {
		c.RawInput = u.RawInput
	}
}

// clone returns a copy whose slices are not shared with c.
func (c ToolCall) clone() ToolCall {
	c.Locations = append([]ToolLocation(nil), c.Locations...)
	c.Content = append([]ToolCallContent(nil), c.Content...)
	return c
}

// TurnResult summarizes a finished prompt turn.
type TurnResult struct {
	StartedAt  time.Time
	Err        error
	StopReason StopReason
	Text       string
	Thought    string
	ToolCalls  []ToolCall
	Duration   time.Duration
}

// Success reports whether the agent ended the turn normally.
func (r *TurnResult) Success() bool {
	return r.Err == nil && r.StopReason == StopReasonEndTurn
}
