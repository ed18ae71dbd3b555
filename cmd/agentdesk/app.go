package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/bazelment/agentdesk/acp"
	"github.com/bazelment/agentdesk/config"
	"github.com/bazelment/agentdesk/registry"
	"github.com/bazelment/agentdesk/workspace"
)

// Replaced in tests.
var (
	spawnAgent      workspace.SpawnFunc
	stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
)

// app is the state shared by the session commands.
type app struct {
	cfg         *config.Config
	reg         *registry.Registry
	svc         *workspace.Service
	logger      *slog.Logger
	interactive bool
}

// newApp loads configuration and wires the registry and workspace service.
// policyFlag overrides the configured permission policy when set.
func newApp(stderr io.Writer, policyFlag string) (*app, error) {
	logger := newLogger(stderr, verbosity)
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	name := cfg.PermissionPolicy
	if policyFlag != "" {
		name = policyFlag
	}
	interactive := stdinIsTerminal()
	policy, err := permissionPolicy(name, interactive)
	if err != nil {
		return nil, err
	}

	reg := registry.New(registry.Config{
		Capacity:     cfg.Registry.Capacity,
		CloseTimeout: cfg.Registry.CloseTimeout.Std(),
		Logger:       logger,
	})
	svc := workspace.New(workspace.Options{
		Config:   cfg,
		Registry: reg,
		Logger:   logger,
		Policy:   policy,
		Spawn:    spawnAgent,
	})
	return &app{cfg: cfg, reg: reg, svc: svc, logger: logger, interactive: interactive}, nil
}

// shutdown closes every agent, bounded by the configured drain timeout.
func (a *app) shutdown() {
	a.reg.DrainAll(a.cfg.Registry.DrainTimeout.Std())
	a.reg.Coordinator().Close()
}

// permissionPolicy maps a policy name to a policy. Without a terminal to ask
// on, requests the policy would ask about are denied.
func permissionPolicy(name string, interactive bool) (acp.PermissionPolicy, error) {
	var p acp.PermissionPolicy
	switch name {
	case "ask", "":
		p = acp.AskPolicy{}
	case "bypass":
		p = acp.BypassPolicy{}
	case "read-only":
		p = acp.ReadOnlyPolicy{}
	default:
		return nil, fmt.Errorf("unknown permission policy %q (want ask, bypass or read-only)", name)
	}
	if interactive {
		return p, nil
	}
	return acp.PolicyFunc(func(req acp.PermissionRequest) acp.Decision {
		if d := p.Decide(req); d != acp.DecisionAsk {
			return d
		}
		return acp.DecisionDeny
	}), nil
}
