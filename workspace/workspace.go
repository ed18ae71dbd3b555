// Package workspace hands out agent sessions for logical chat identities,
// reusing cached sessions and starting new agents when needed.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/bazelment/agentdesk/acp"
	"github.com/bazelment/agentdesk/config"
	"github.com/bazelment/agentdesk/registry"
)

// SpawnFunc starts an agent process.
type SpawnFunc func(cfg acp.ProcessConfig) (acp.Transport, error)

// Options configures a Service.
type Options struct {
	Config    *config.Config
	Registry  *registry.Registry
	Logger    *slog.Logger
	Policy    acp.PermissionPolicy
	FsHandler acp.FsHandler
	// Spawn defaults to acp.Spawn.
	Spawn SpawnFunc
}

// Service acquires sessions through a shared registry.
type Service struct {
	cfg      *config.Config
	reg      *registry.Registry
	logger   *slog.Logger
	policy   acp.PermissionPolicy
	fs       acp.FsHandler
	spawn    SpawnFunc
	inflight singleflight.Group
}

// Request names what Acquire should start when id has no live session.
type Request struct {
	Agent string // empty selects the default agent
	CWD   string
	Hint  string // display context such as a worktree name
}

// New returns a Service. Options.Config and Options.Registry are required.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Spawn == nil {
		opts.Spawn = func(cfg acp.ProcessConfig) (acp.Transport, error) { return acp.Spawn(cfg) }
	}
	if opts.Policy == nil {
		opts.Policy = acp.AskPolicy{}
	}
	return &Service{
		cfg:    opts.Config,
		reg:    opts.Registry,
		logger: opts.Logger,
		policy: opts.Policy,
		fs:     opts.FsHandler,
		spawn:  opts.Spawn,
	}
}

// Registry returns the registry sessions are cached in.
func (s *Service) Registry() *registry.Registry { return s.reg }

// Acquire returns the live session for id, starting one when the registry
// has none or holds a session whose agent has gone away. Concurrent calls
// for the same id share one start.
func (s *Service) Acquire(ctx context.Context, id uuid.UUID, req Request) (*acp.Session, error) {
	if sess := s.cached(id); sess != nil {
		return sess, nil
	}
	v, err, _ := s.inflight.Do(id.String(), func() (interface{}, error) {
		if sess := s.cached(id); sess != nil {
			return sess, nil
		}
		sess, err := s.start(ctx, req)
		if err != nil {
			return nil, err
		}
		s.reg.Put(id, sess, req.Hint)
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*acp.Session), nil
}

// Release closes id's session in the background and forgets its drafts.
func (s *Service) Release(id uuid.UUID) {
	s.reg.Remove(id)
}

func (s *Service) cached(id uuid.UUID) *acp.Session {
	got, ok := s.reg.Get(id)
	if !ok {
		return nil
	}
	sess, ok := got.(*acp.Session)
	if !ok {
		return nil
	}
	if st := sess.State(); st.IsClosed() {
		s.logger.Info("replacing dead session", "identity", id, "state", st)
		s.reg.Remove(id)
		return nil
	}
	return sess
}

func (s *Service) start(ctx context.Context, req Request) (*acp.Session, error) {
	agent, err := s.cfg.Agent(req.Agent)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("agent", agent.Name)

	t, err := s.spawn(acp.ProcessConfig{
		Path:   agent.Command,
		Args:   agent.Args,
		Env:    agent.Env,
		Dir:    req.CWD,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start agent %s: %w", agent.Name, err)
	}

	opts := []acp.Option{
		acp.WithLogger(logger),
		acp.WithPermissionPolicy(s.policy),
		acp.WithCancelTimeout(s.cfg.Session.CancelTimeout.Std()),
		acp.WithEventBufferSize(s.cfg.Session.EventBufferSize),
	}
	if s.fs != nil {
		opts = append(opts, acp.WithFsHandler(s.fs))
	}
	sess := acp.NewSession(t, opts...)

	if err := s.handshake(ctx, sess, agent, req.CWD); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Registry.CloseTimeout.Std())
		defer cancel()
		if cerr := sess.Close(closeCtx); cerr != nil {
			logger.Warn("failed to close agent after failed start", "error", cerr)
		}
		return nil, err
	}
	return sess, nil
}

func (s *Service) handshake(ctx context.Context, sess *acp.Session, agent *config.Agent, cwd string) error {
	if _, err := sess.Initialize(ctx); err != nil {
		return err
	}

	create := sess.CreateSession
	if sess.State() == acp.StateAuthRequired {
		switch {
		case agent.SkipAuth:
			create = sess.CreateSessionWithoutAuth
		case agent.AuthMethod != "":
			if err := sess.Authenticate(ctx, agent.AuthMethod); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: set auth_method (one of %s) or skip_auth for agent %s",
				acp.ErrAuthRequired, methodIDs(sess.AuthMethods()), agent.Name)
		}
	}

	if _, err := create(ctx, acp.NewSessionOptions{
		CWD:        cwd,
		MCPServers: s.cfg.SessionMCPServers(agent),
	}); err != nil {
		return err
	}

	if modes, ok := sess.Modes(); ok && agent.Mode != "" && modes.CurrentModeID != agent.Mode {
		if err := sess.SwitchMode(ctx, agent.Mode); err != nil {
			s.logger.Warn("failed to switch mode", "agent", agent.Name, "mode", agent.Mode, "error", err)
		}
	}
	if models, ok := sess.Models(); ok && agent.Model != "" && models.CurrentModelID != agent.Model {
		if err := sess.SwitchModel(ctx, agent.Model); err != nil {
			s.logger.Warn("failed to switch model", "agent", agent.Name, "model", agent.Model, "error", err)
		}
	}
	return nil
}

func methodIDs(methods []acp.AuthMethod) string {
	ids := make([]string, len(methods))
	for i, m := range methods {
		ids[i] = m.ID
	}
	return strings.Join(ids, ", ")
}
