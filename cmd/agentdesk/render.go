package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/bazelment/agentdesk/acp"
	"github.com/bazelment/agentdesk/timeline"
)

// titleWidth caps tool titles, which agents often fill with whole commands.
const titleWidth = 72

// clip shortens s to at most width terminal columns.
func clip(s string, width int) string {
	return runewidth.Truncate(s, width, "...")
}

// printer writes timeline changes to a terminal as they happen. Message
// text is streamed; tool calls get a line per status change.
type printer struct {
	w       io.Writer
	printed map[string]int    // message id -> bytes written
	status  map[string]string // tool call id -> last status printed
	done    map[string]bool   // turn summaries written
	midLine bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{
		w:       w,
		printed: make(map[string]int),
		status:  make(map[string]string),
		done:    make(map[string]bool),
	}
}

func (p *printer) render(items []timeline.Item) {
	for _, it := range items {
		switch v := it.(type) {
		case timeline.Message:
			p.message(v)
		case timeline.ToolCall:
			p.call(v.Call)
		case timeline.ToolCallGroup:
			for _, c := range v.Calls {
				p.call(c)
			}
		case timeline.TurnSummary:
			p.summary(v)
		}
	}
}

func (p *printer) message(m timeline.Message) {
	n, seen := p.printed[m.ID]
	if m.Role == acp.RoleUser {
		// Typed by the user; already on screen.
		p.printed[m.ID] = len(m.Text)
		return
	}
	if len(m.Text) <= n {
		return
	}
	if !seen {
		p.endLine()
		if m.Role == acp.RoleThought {
			fmt.Fprint(p.w, "(thinking) ")
		}
	}
	fmt.Fprint(p.w, m.Text[n:])
	p.printed[m.ID] = len(m.Text)
	p.midLine = !strings.HasSuffix(m.Text, "\n")
}

func (p *printer) call(c acp.ToolCall) {
	status := string(c.Status)
	if status == "" {
		status = string(acp.ToolCallPending)
	}
	if p.status[c.ID] == status {
		return
	}
	p.status[c.ID] = status
	p.endLine()
	title := c.Title
	if title == "" {
		title = c.ID
	}
	fmt.Fprintf(p.w, "  [%s] %s (%s)\n", status, clip(title, titleWidth), c.Kind)
}

func (p *printer) summary(s timeline.TurnSummary) {
	if p.done[s.ID] {
		return
	}
	p.done[s.ID] = true
	p.endLine()
	fmt.Fprintf(p.w, "-- %s in %s, %d tool calls", s.StopReason, s.Duration.Round(time.Millisecond), s.ToolCalls)
	if len(s.FilesChanged) > 0 {
		fmt.Fprintf(p.w, ", changed %s", strings.Join(s.FilesChanged, ", "))
	}
	fmt.Fprintln(p.w)
}

func (p *printer) notice(format string, args ...interface{}) {
	p.endLine()
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) endLine() {
	if p.midLine {
		fmt.Fprintln(p.w)
		p.midLine = false
	}
}

func permissionPrompt(req acp.PermissionRequest) string {
	title := req.ToolCall.Title
	if title == "" {
		title = req.ToolCall.ToolCallID
	}
	return fmt.Sprintf("Allow %s (%s)? [y]es / [a]lways / [n]o / [c]ancel:", clip(title, titleWidth), req.ToolCall.Kind)
}

func parseDecision(answer string) (acp.Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return acp.DecisionAllow, true
	case "a", "always":
		return acp.DecisionAllowAlways, true
	case "n", "no":
		return acp.DecisionDeny, true
	case "c", "cancel":
		return acp.DecisionCancel, true
	}
	return acp.DecisionAsk, false
}
