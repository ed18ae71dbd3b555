// Package timeline folds a session's event stream into renderable items:
// messages, tool calls, groups of consecutive tool calls, and turn summaries.
//
// Every item has two identities. StableID never changes once the item exists
// and is meant for list positions. DynamicID is derived from the content and
// changes whenever a streamed update mutates the item.
package timeline

import (
	"fmt"
	"hash/fnv"
	"io"
	"time"

	"github.com/bazelment/agentdesk/acp"
)

// Kind categorises timeline items.
type Kind string

const (
	KindMessage       Kind = "message"
	KindToolCall      Kind = "tool_call"
	KindToolCallGroup Kind = "tool_call_group"
	KindTurnSummary   Kind = "turn_summary"
)

// Item is one renderable unit of conversation history.
type Item interface {
	StableID() string
	DynamicID() string
	Timestamp() time.Time
	Kind() Kind
}

// Message is streamed chat text from one role.
type Message struct {
	At   time.Time
	ID   string
	Role acp.MessageRole
	Text string
}

func (m Message) StableID() string     { return m.ID }
func (m Message) Timestamp() time.Time { return m.At }
func (m Message) Kind() Kind           { return KindMessage }

func (m Message) DynamicID() string {
	return contentHash(func(w io.Writer) {
		fmt.Fprintf(w, "%s\x00%s\x00%s", m.ID, m.Role, m.Text)
	})
}

// ToolCall is a single tool call.
type ToolCall struct {
	Call acp.ToolCall
}

func (t ToolCall) StableID() string     { return t.Call.ID }
func (t ToolCall) Timestamp() time.Time { return t.Call.StartedAt }
func (t ToolCall) Kind() Kind           { return KindToolCall }

func (t ToolCall) DynamicID() string {
	return contentHash(func(w io.Writer) { writeCall(w, t.Call) })
}

// ToolCallGroup is two or more tool calls that ran back to back. It sits at
// the position of its first call.
type ToolCallGroup struct {
	Calls []acp.ToolCall
}

func (g ToolCallGroup) StableID() string     { return "group:" + g.Calls[0].ID }
func (g ToolCallGroup) Timestamp() time.Time { return g.Calls[0].StartedAt }
func (g ToolCallGroup) Kind() Kind           { return KindToolCallGroup }

func (g ToolCallGroup) DynamicID() string {
	return contentHash(func(w io.Writer) {
		for _, c := range g.Calls {
			writeCall(w, c)
		}
	})
}

// Status is the aggregate status of the group: in progress while any member
// is unfinished, failed if any member failed, completed otherwise. A group
// whose members are all pending is pending.
func (g ToolCallGroup) Status() acp.ToolCallStatus {
	pending, unfinished, failed := 0, false, false
	for _, c := range g.Calls {
		switch {
		case c.Status == acp.ToolCallPending || c.Status == "":
			pending++
			unfinished = true
		case !c.Status.IsTerminal():
			unfinished = true
		case c.Status == acp.ToolCallFailed:
			failed = true
		}
	}
	switch {
	case pending == len(g.Calls):
		return acp.ToolCallPending
	case unfinished:
		return acp.ToolCallInProgress
	case failed:
		return acp.ToolCallFailed
	default:
		return acp.ToolCallCompleted
	}
}

// TurnSummary closes a prompt turn.
type TurnSummary struct {
	At           time.Time
	Err          error
	ID           string
	StopReason   acp.StopReason
	FilesChanged []string
	ToolCalls    int
	Duration     time.Duration
}

func (s TurnSummary) StableID() string     { return s.ID }
func (s TurnSummary) Timestamp() time.Time { return s.At }
func (s TurnSummary) Kind() Kind           { return KindTurnSummary }

func (s TurnSummary) DynamicID() string {
	return contentHash(func(w io.Writer) {
		fmt.Fprintf(w, "%s\x00%s\x00%d\x00%d\x00%v", s.ID, s.StopReason, s.ToolCalls, s.Duration, s.FilesChanged)
	})
}

func writeCall(w io.Writer, c acp.ToolCall) {
	fmt.Fprintf(w, "%s\x00%s\x00%s\x00%s\x00%d\x00%d\x00", c.ID, c.Title, c.Kind, c.Status, len(c.Locations), len(c.Content))
	for _, tc := range c.Content {
		if tc.Content != nil {
			io.WriteString(w, tc.Content.Text)
		}
		io.WriteString(w, tc.NewText)
	}
}

func contentHash(write func(io.Writer)) string {
	h := fnv.New64a()
	write(h)
	return fmt.Sprintf("%016x", h.Sum64())
}
