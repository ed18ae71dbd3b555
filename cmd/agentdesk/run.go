package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bazelment/agentdesk/acp"
	"github.com/bazelment/agentdesk/timeline"
	"github.com/bazelment/agentdesk/workspace"
)

// sessionFlags are shared by run and chat.
type sessionFlags struct {
	agent   string
	cwd     string
	mode    string
	model   string
	policy  string
	attach  []string
	session string
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.agent, "agent", "", "Agent name from the config (default: default_agent)")
	cmd.Flags().StringVar(&f.cwd, "cwd", "", "Working directory for the agent (default: current directory)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "Session mode to switch to after start")
	cmd.Flags().StringVar(&f.model, "model", "", "Model to switch to after start")
	cmd.Flags().StringVar(&f.policy, "policy", "", "Permission policy: ask, bypass or read-only (default from config)")
	cmd.Flags().StringArrayVar(&f.attach, "attach", nil, "File to attach to the first prompt (repeatable)")
	cmd.Flags().StringVar(&f.session, "session", "", "Logical session UUID (default: random)")
}

// start acquires the session described by f and returns a driver for it.
// editLines gives a terminal stdin line editing and history.
func (f *sessionFlags) start(cmd *cobra.Command, a *app, interactive, editLines bool) (*driver, error) {
	id := uuid.New()
	if f.session != "" {
		var err error
		if id, err = uuid.Parse(f.session); err != nil {
			return nil, fmt.Errorf("invalid --session: %w", err)
		}
	}
	cwd := f.cwd
	if cwd == "" {
		var err error
		if cwd, err = os.Getwd(); err != nil {
			return nil, err
		}
	}

	ctx := cmd.Context()
	sess, err := a.svc.Acquire(ctx, id, workspace.Request{Agent: f.agent, CWD: cwd, Hint: cwd})
	if err != nil {
		return nil, err
	}
	if f.mode != "" {
		if err := sess.SwitchMode(ctx, f.mode); err != nil {
			return nil, err
		}
	}
	if f.model != "" {
		if err := sess.SwitchModel(ctx, f.model); err != nil {
			return nil, err
		}
	}

	d := &driver{
		sess:   sess,
		reg:    a.reg,
		tl:     timeline.New(0),
		out:    newPrinter(cmd.OutOrStdout()),
		logger: a.logger,
		id:     id,
	}
	switch in := cmd.InOrStdin(); {
	case !interactive:
	case editLines && in == io.Reader(os.Stdin) && stdinIsTerminal():
		lines, rl, err := terminalLines("> ", historyPath())
		if err != nil {
			return nil, err
		}
		d.lines, d.input, d.prompted = lines, rl, true
	default:
		d.lines = readLines(in)
	}
	for _, p := range f.attach {
		if err := d.attach(p); err != nil {
			return nil, err
		}
	}
	return d, nil
}

var runFlags sessionFlags

var runCmd = &cobra.Command{
	Use:   "run [flags] PROMPT...",
	Short: "Send one prompt to an agent and stream the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.ErrOrStderr(), runFlags.policy)
		if err != nil {
			return err
		}
		defer a.shutdown()

		d, err := runFlags.start(cmd, a, a.interactive, false)
		if err != nil {
			return err
		}
		res, err := d.runTurn(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		if res.StopReason.Abnormal() {
			return errors.New("agent stopped before finishing the turn")
		}
		if res.StopReason != acp.StopReasonEndTurn {
			fmt.Fprintf(cmd.ErrOrStderr(), "turn ended: %s\n", res.StopReason)
		}
		return nil
	},
}

func init() {
	runFlags.register(runCmd)
	rootCmd.AddCommand(runCmd)
}
