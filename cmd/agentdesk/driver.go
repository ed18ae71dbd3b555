package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bazelment/agentdesk/acp"
	"github.com/bazelment/agentdesk/registry"
	"github.com/bazelment/agentdesk/timeline"
)

// driver runs turns on one session, feeding events into a timeline and
// routing typed lines to permission prompts, commands or the send queue.
type driver struct {
	sess   *acp.Session
	reg    *registry.Registry
	tl     *timeline.Timeline
	out    *printer
	logger *slog.Logger
	lines  <-chan string // nil when there is no one to ask
	input  io.Closer     // line editor, if any
	id     uuid.UUID

	// prompted is set when the line source draws its own prompt.
	prompted bool
}

type turnOutcome struct {
	result *acp.TurnResult
	err    error
}

// runTurn sends prompt with any queued attachments and streams the turn
// until it ends.
func (d *driver) runTurn(ctx context.Context, prompt string) (*acp.TurnResult, error) {
	attachments := d.reg.ConsumePendingAttachments(d.id)
	d.tl.AddUserMessage(prompt, time.Now())
	d.out.render(d.tl.Items())

	done := make(chan turnOutcome, 1)
	go func() {
		res, err := d.sess.SendTurn(ctx, prompt, attachments...)
		done <- turnOutcome{res, err}
	}()

	events := d.sess.Events()
	lines := d.lines
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.apply(ev)
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			d.duringTurn(ctx, line)
		case o := <-done:
			// Turn events are queued before SendTurn returns.
			d.drain(events)
			return o.result, o.err
		}
	}
}

func (d *driver) apply(ev acp.Event) {
	if d.tl.Apply(ev) {
		d.out.render(d.tl.Items())
	}
	switch e := ev.(type) {
	case acp.PermissionRequestEvent:
		if d.lines == nil {
			// No one to ask.
			_ = d.sess.RespondPermission(acp.DecisionDeny)
			return
		}
		d.out.notice("%s", permissionPrompt(e.Request))
	case acp.PermissionResolvedEvent:
		d.out.notice("  permission %s for %s", e.Decision, e.ToolCallID)
	case acp.ModeChangedEvent:
		d.out.notice("  mode is now %s", e.ModeID)
	case acp.TransportClosedEvent:
		if e.Err != nil {
			d.out.notice("agent exited: %v", e.Err)
		} else {
			d.out.notice("agent exited")
		}
	}
}

func (d *driver) drain(events <-chan acp.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.apply(ev)
		default:
			return
		}
	}
}

func (d *driver) duringTurn(ctx context.Context, line string) {
	if d.sess.PermissionPending() {
		dec, ok := parseDecision(line)
		if !ok {
			d.out.notice("answer y, a, n or c")
			return
		}
		if err := d.sess.RespondPermission(dec); err != nil && !errors.Is(err, acp.ErrNoPendingPermission) {
			d.out.notice("failed to answer: %v", err)
		}
		return
	}
	switch strings.TrimSpace(line) {
	case "":
		return
	case "/cancel":
		d.out.notice("cancelling...")
		go func() {
			if err := d.sess.Cancel(ctx); err != nil {
				d.logger.Warn("cancel failed", "error", err)
			}
		}()
		return
	}
	d.queue(line)
	d.out.notice("  queued for the next turn")
}

// queue appends line to the message sent once the current turn ends.
func (d *driver) queue(line string) {
	if prev, ok := d.reg.ConsumePendingMessage(d.id); ok {
		line = prev + "\n" + line
	}
	d.reg.SetPendingMessage(d.id, line)
}

// attach queues path as a resource link for the next prompt.
func (d *driver) attach(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	link := acp.NewResourceLink(filepath.Base(abs), (&url.URL{Scheme: "file", Path: abs}).String())
	blocks := append(d.reg.ConsumePendingAttachments(d.id), link)
	d.reg.SetPendingAttachments(d.id, blocks)
	return nil
}

// readLines forwards r line by line until EOF.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}
