package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bazelment/agentdesk/acp"
)

const chatHelp = `Commands:
  /cancel        cancel the running turn
  /mode ID       switch session mode
  /model ID      switch model
  /attach PATH   attach a file to the next prompt
  /draft TEXT    save TEXT as a draft; an empty line sends it
  /quit          leave
Lines typed while a turn runs are sent when it ends.`

var chatFlags sessionFlags

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to an agent interactively",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.ErrOrStderr(), chatFlags.policy)
		if err != nil {
			return err
		}
		defer a.shutdown()

		d, err := chatFlags.start(cmd, a, true, true)
		if err != nil {
			return err
		}
		if d.input != nil {
			defer d.input.Close()
		}
		fmt.Fprintln(cmd.OutOrStdout(), chatHelp)
		return d.chat(cmd.Context())
	},
}

func init() {
	chatFlags.register(chatCmd)
	rootCmd.AddCommand(chatCmd)
}

// chat reads lines until /quit, end of input, or the agent going away.
func (d *driver) chat(ctx context.Context) error {
	events := d.sess.Events()
	for {
		if msg, ok := d.reg.ConsumePendingMessage(d.id); ok {
			if err := d.turn(ctx, msg); err != nil {
				return err
			}
			continue
		}
		if !d.prompted {
			fmt.Fprint(d.out.w, "> ")
		}

		line, ok, err := d.nextLine(ctx, events)
		if err != nil || !ok {
			return err
		}
		quit, err := d.idle(ctx, line)
		if err != nil || quit {
			return err
		}
	}
}

// nextLine waits for a typed line, applying events that arrive between
// turns. ok is false once input ends or ctx is cancelled.
func (d *driver) nextLine(ctx context.Context, events <-chan acp.Event) (string, bool, error) {
	for {
		select {
		case <-ctx.Done():
			return "", false, nil
		case ev, open := <-events:
			if !open {
				return "", false, errors.New("agent session closed")
			}
			d.apply(ev)
		case line, ok := <-d.lines:
			return line, ok, nil
		}
	}
}

// idle handles a line typed while no turn runs.
func (d *driver) idle(ctx context.Context, line string) (quit bool, err error) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "":
		if draft := d.reg.Draft(d.id); draft != "" {
			d.reg.ClearDraft(d.id)
			return false, d.turn(ctx, draft)
		}
	case "/quit", "/exit":
		return true, nil
	case "/cancel":
		d.out.notice("no turn is running")
	case "/mode":
		if err := d.sess.SwitchMode(ctx, arg); err != nil {
			d.out.notice("mode: %v", err)
		} else {
			d.out.notice("mode is now %s", arg)
		}
	case "/model":
		if err := d.sess.SwitchModel(ctx, arg); err != nil {
			d.out.notice("model: %v", err)
		} else {
			d.out.notice("model is now %s", arg)
		}
	case "/attach":
		if err := d.attach(arg); err != nil {
			d.out.notice("attach: %v", err)
		} else {
			d.out.notice("attached %s", arg)
		}
	case "/draft":
		if arg == "" {
			d.out.notice("draft: %q", d.reg.Draft(d.id))
		} else {
			d.reg.SetDraft(d.id, arg)
		}
	default:
		return false, d.turn(ctx, line)
	}
	return false, nil
}

// turn runs one prompt. Only a dead agent ends the chat.
func (d *driver) turn(ctx context.Context, prompt string) error {
	res, err := d.runTurn(ctx, prompt)
	if res != nil && res.StopReason.Abnormal() {
		return fmt.Errorf("agent stopped: %w", err)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		d.out.notice("error: %v", err)
		if errors.Is(err, acp.ErrSessionClosed) {
			return err
		}
	}
	return nil
}
