package timeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bazelment/agentdesk/acp"
)

const defaultMaxEntries = 2000

// Timeline is the ordered history of one session. Apply is called from the
// goroutine draining the session's events; Items may be called from anywhere.
type Timeline struct {
	entries  []Item // Message, ToolCall or TurnSummary, never groups
	max      int
	messages int
	turns    int
	mu       sync.RWMutex
}

// New returns a timeline that keeps at most maxEntries ungrouped entries,
// dropping the oldest first.
func New(maxEntries int) *Timeline {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Timeline{max: maxEntries}
}

// Apply folds ev into the timeline and reports whether anything changed.
func (t *Timeline) Apply(ev acp.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e := ev.(type) {
	case acp.MessageChunkEvent:
		return t.appendTextLocked(e.Role, renderBlock(e.Content), e.At)
	case acp.ToolCallEvent:
		t.upsertCallLocked(e.Call)
		return true
	case acp.TurnCompleteEvent:
		t.appendLocked(summarize(&e.Result, t.nextTurnID()))
		return true
	}
	return false
}

// AddUserMessage records a prompt the user sent. Agents that echo prompts
// through user message chunks extend the same message instead.
func (t *Timeline) AddUserMessage(text string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages++
	t.appendLocked(Message{ID: fmt.Sprintf("msg-%d", t.messages), Role: acp.RoleUser, Text: text, At: at})
}

// Items returns the timeline in order with consecutive tool calls collapsed
// into groups.
func (t *Timeline) Items() []Item {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Item, 0, len(t.entries))
	for i := 0; i < len(t.entries); {
		j := i
		for j < len(t.entries) && t.entries[j].Kind() == KindToolCall {
			j++
		}
		if n := j - i; n >= 2 {
			calls := make([]acp.ToolCall, 0, n)
			for _, e := range t.entries[i:j] {
				calls = append(calls, e.(ToolCall).Call)
			}
			out = append(out, ToolCallGroup{Calls: calls})
			i = j
			continue
		}
		out = append(out, t.entries[i])
		i++
	}
	return out
}

// Len returns the number of ungrouped entries.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func (t *Timeline) appendTextLocked(role acp.MessageRole, text string, at time.Time) bool {
	if text == "" {
		return false
	}
	if n := len(t.entries); n > 0 {
		if m, ok := t.entries[n-1].(Message); ok && m.Role == role {
			m.Text += text
			t.entries[n-1] = m
			return true
		}
	}
	t.messages++
	t.appendLocked(Message{ID: fmt.Sprintf("msg-%d", t.messages), Role: role, Text: text, At: at})
	return true
}

func (t *Timeline) upsertCallLocked(call acp.ToolCall) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if tc, ok := t.entries[i].(ToolCall); ok && tc.Call.ID == call.ID {
			t.entries[i] = ToolCall{Call: call}
			return
		}
	}
	t.appendLocked(ToolCall{Call: call})
}

func (t *Timeline) appendLocked(it Item) {
	if len(t.entries) >= t.max {
		t.entries[0] = nil
		t.entries = t.entries[1:]
	}
	t.entries = append(t.entries, it)
}

func (t *Timeline) nextTurnID() string {
	t.turns++
	return fmt.Sprintf("turn-%d", t.turns)
}

func summarize(r *acp.TurnResult, id string) TurnSummary {
	seen := make(map[string]struct{})
	for _, c := range r.ToolCalls {
		if !c.Kind.ChangesFiles() {
			continue
		}
		for _, loc := range c.Locations {
			seen[loc.Path] = struct{}{}
		}
		for _, content := range c.Content {
			if content.Type == "diff" && content.Path != "" {
				seen[content.Path] = struct{}{}
			}
		}
	}
	files := make([]string, 0, len(seen))
	for p := range seen {
		files = append(files, p)
	}
	sort.Strings(files)
	return TurnSummary{
		ID:           id,
		At:           r.StartedAt.Add(r.Duration),
		Err:          r.Err,
		StopReason:   r.StopReason,
		FilesChanged: files,
		ToolCalls:    len(r.ToolCalls),
		Duration:     r.Duration,
	}
}

// renderBlock turns a content block into display text.
func renderBlock(b acp.ContentBlock) string {
	switch b.Type {
	case "text":
		return b.Text
	case "resource_link":
		return fmt.Sprintf("[%s](%s)", b.Name, b.URI)
	case "resource":
		if b.Resource != nil {
			return b.Resource.Text
		}
	case "image", "audio":
		return "[" + strings.TrimSpace(b.Type+" "+b.MimeType) + "]"
	}
	return ""
}
