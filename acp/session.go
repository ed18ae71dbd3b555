package acp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bazelment/agentdesk/internal/observable"
)

// Session is the client side of one ACP conversation with one agent
// process. All agent-initiated messages are handled on a single goroutine,
// so events are emitted in the order the agent produced them.
//
// Events must be drained: when the event buffer is full the session stops
// reading from the agent, and a turn does not complete until its
// TurnCompleteEvent has been queued.
type Session struct {
	lifetime       context.Context
	transport      Transport
	logger         *slog.Logger
	now            func() time.Time
	permPending    *observable.Value[bool]
	cancelLifetime context.CancelFunc
	events         chan Event
	turnDone       chan turnOutcome
	closing        chan struct{}
	stop           chan struct{}
	loopDone       chan struct{}

	// Guarded by mu.
	agent       *InitializeResponse
	modes       *ModesInfo
	models      *ModelsInfo
	turn        *turn
	permission  *pendingPermission
	lastAuthErr error
	sessionID   SessionID
	lastStop    StopReason
	commands    []AvailableCommand
	plan        []PlanEntry

	cfg       Config
	state     stateMachine
	opMu      sync.Mutex // one control request at a time
	mu        sync.Mutex
	closeOnce sync.Once
}

// NewSessionOptions configures session/new.
type NewSessionOptions struct {
	// CWD defaults to the process working directory.
	CWD        string
	MCPServers []MCPServerConfig
}

type turn struct {
	started time.Time
	done    chan struct{}
	calls   map[string]*ToolCall
	result  TurnResult
	order   []string
	text    strings.Builder
	thought strings.Builder
}

type turnOutcome struct {
	err  error
	t    *turn
	stop StopReason
}

type pendingPermission struct {
	reply chan Decision
	req   PermissionRequest
}

// NewSession wraps t and starts handling agent messages. The session owns
// t from now on and terminates it on Close.
func NewSession(t Transport, opts ...Option) *Session {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.FsHandler == nil {
		cfg.FsHandler = &DefaultFsHandler{}
	}
	if cfg.PermissionPolicy == nil {
		cfg.PermissionPolicy = AskPolicy{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	lifetime, cancel := context.WithCancel(context.Background())
	s := &Session{
		lifetime:       lifetime,
		cancelLifetime: cancel,
		transport:      t,
		cfg:            cfg,
		logger:         cfg.Logger,
		now:            cfg.Clock,
		permPending:    observable.New(false),
		events:         make(chan Event, cfg.EventBufferSize),
		turnDone:       make(chan turnOutcome),
		closing:        make(chan struct{}),
		stop:           make(chan struct{}),
		loopDone:       make(chan struct{}),
	}
	s.state.onChange = func(from, to State) {
		s.logger.Debug("session state changed", "from", from, "to", to)
	}
	go s.loop()
	return s
}

// Events returns the session's event stream. It is closed by Close.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state.Current()
}

// Initialize performs the ACP handshake. The session moves to AuthRequired
// when the agent advertises auth methods and to Ready otherwise.
func (s *Session) Initialize(ctx context.Context) (*InitializeResponse, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.state.Transition(StateUninitialized, StateHandshaking); err != nil {
		return nil, err
	}

	params := InitializeRequest{
		ProtocolVersion: ProtocolVersion,
		ClientInfo: &Implementation{
			Name:    s.cfg.ClientName,
			Version: s.cfg.ClientVersion,
		},
		ClientCapabilities: ClientCapabilities{
			Fs: FsCapability{ReadTextFile: true, WriteTextFile: true},
		},
	}
	raw, err := s.transport.SendRequest(ctx, MethodInitialize, params)
	if err != nil {
		if errors.Is(err, ErrTransportClosed) {
			s.state.ForceClosing()
			return nil, &ProtocolError{Message: "agent exited during handshake", Cause: err}
		}
		_ = s.state.Transition(StateHandshaking, StateUninitialized)
		return nil, fmt.Errorf("initialize: %w", err)
	}

	var resp InitializeResponse
	if err := decodeResult(raw, &resp); err != nil {
		_ = s.state.Transition(StateHandshaking, StateUninitialized)
		return nil, &ProtocolError{Message: "malformed initialize response", Line: string(raw), Cause: err}
	}

	s.mu.Lock()
	s.agent = &resp
	s.mu.Unlock()

	next := StateReady
	if len(resp.AuthMethods) > 0 {
		next = StateAuthRequired
	}
	if err := s.state.Transition(StateHandshaking, next); err != nil {
		return nil, err
	}
	agentName := ""
	if resp.AgentInfo != nil {
		agentName = resp.AgentInfo.Name
	}
	s.logger.Info("agent initialized", "agent", agentName,
		"protocol_version", resp.ProtocolVersion, "auth_methods", len(resp.AuthMethods))
	return &resp, nil
}

// Authenticate signs in with one of the advertised methods. A rejection
// leaves the session in AuthRequired and is kept in LastAuthError.
func (s *Session) Authenticate(ctx context.Context, methodID string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch cur := s.state.Current(); {
	case cur.IsClosed():
		return ErrSessionClosed
	case cur != StateAuthRequired:
		return ErrInvalidState
	}
	if !s.hasAuthMethod(methodID) {
		return fmt.Errorf("%w: %q", ErrUnknownAuthMethod, methodID)
	}
	if err := s.state.Transition(StateAuthRequired, StateAuthenticating); err != nil {
		return err
	}

	_, err := s.transport.SendRequest(ctx, MethodAuthenticate, AuthenticateRequest{MethodID: methodID})
	if err != nil {
		if errors.Is(err, ErrTransportClosed) {
			s.state.ForceClosing()
			return err
		}
		aerr := &AuthError{MethodID: methodID, Cause: err}
		s.mu.Lock()
		s.lastAuthErr = aerr
		s.mu.Unlock()
		_ = s.state.Transition(StateAuthenticating, StateAuthRequired)
		return aerr
	}

	s.mu.Lock()
	s.lastAuthErr = nil
	s.mu.Unlock()
	return s.state.Transition(StateAuthenticating, StateReady)
}

// CreateSession asks the agent for a protocol session. It requires Ready.
// On failure the session stays Ready without a SessionID, except that an
// auth_required error sends it back to AuthRequired.
func (s *Session) CreateSession(ctx context.Context, opts NewSessionOptions) (SessionID, error) {
	return s.createSession(ctx, opts, false)
}

// CreateSessionWithoutAuth is CreateSession that may also be called from
// AuthRequired, for agents that accept unauthenticated sessions.
func (s *Session) CreateSessionWithoutAuth(ctx context.Context, opts NewSessionOptions) (SessionID, error) {
	return s.createSession(ctx, opts, true)
}

func (s *Session) createSession(ctx context.Context, opts NewSessionOptions, skipAuth bool) (SessionID, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	cur := s.state.Current()
	switch {
	case cur.IsClosed():
		return "", ErrSessionClosed
	case cur == StateReady:
	case cur == StateAuthRequired && skipAuth:
	case cur == StateAuthRequired:
		return "", ErrAuthRequired
	case cur == StateRunning:
		return "", ErrTurnInProgress
	default:
		return "", ErrInvalidState
	}
	if s.SessionID() != "" {
		return "", fmt.Errorf("%w: protocol session already created", ErrInvalidState)
	}

	cwd, err := absCWD(opts.CWD)
	if err != nil {
		return "", err
	}
	servers := opts.MCPServers
	if servers == nil {
		servers = []MCPServerConfig{}
	}

	raw, err := s.transport.SendRequest(ctx, MethodSessionNew, NewSessionRequest{CWD: cwd, McpServers: servers})
	if err != nil {
		var rpcErr *RPCError
		switch {
		case errors.Is(err, ErrTransportClosed):
			s.state.ForceClosing()
		case errors.As(err, &rpcErr) && rpcErr.Code == ErrCodeAuthRequired:
			if cur == StateReady {
				_ = s.state.Transition(StateReady, StateAuthRequired)
			}
			return "", fmt.Errorf("%w: %w", ErrAuthRequired, err)
		}
		return "", fmt.Errorf("session/new: %w", err)
	}

	var resp NewSessionResponse
	if err := decodeResult(raw, &resp); err != nil {
		return "", &ProtocolError{Message: "malformed session/new response", Line: string(raw), Cause: err}
	}
	if resp.SessionID == "" {
		return "", &ProtocolError{Message: "session/new response has no sessionId", Line: string(raw)}
	}

	s.mu.Lock()
	s.sessionID = resp.SessionID
	s.modes = resp.Modes
	s.models = resp.Models
	s.mu.Unlock()

	if cur == StateAuthRequired {
		if err := s.state.Transition(StateAuthRequired, StateReady); err != nil {
			return "", err
		}
	}
	s.logger.Info("agent session created", "session_id", resp.SessionID, "cwd", cwd)
	return resp.SessionID, nil
}

// SendTurn sends a prompt and blocks until the turn ends. Turns are never
// queued: a second call while one runs fails with ErrTurnInProgress.
// Cancelling ctx cancels the turn.
//
// A turn cut short by the agent process going away ends with
// StopReasonAborted and a non-nil error, and leaves the session Closing.
func (s *Session) SendTurn(ctx context.Context, prompt string, attachments ...ContentBlock) (*TurnResult, error) {
	blocks := make([]ContentBlock, 0, 1+len(attachments))
	if prompt != "" {
		blocks = append(blocks, NewTextContent(prompt))
	}
	blocks = append(blocks, attachments...)
	if len(blocks) == 0 {
		return nil, errors.New("empty prompt")
	}

	s.opMu.Lock()
	t, sid, err := s.beginTurn()
	s.opMu.Unlock()
	if err != nil {
		return nil, err
	}
	go s.runPrompt(t, sid, blocks)

	select {
	case <-t.done:
	case <-ctx.Done():
		if err := s.Cancel(context.Background()); err != nil && !errors.Is(err, ErrNoTurnInProgress) {
			s.logger.Warn("cancelling turn failed", "error", err)
		}
		<-t.done
		res := t.result
		if res.Err == nil {
			return &res, ctx.Err()
		}
		return &res, res.Err
	}
	res := t.result
	return &res, res.Err
}

func (s *Session) beginTurn() (*turn, SessionID, error) {
	cur := s.state.Current()
	if cur.IsClosed() {
		return nil, "", ErrSessionClosed
	}
	sid := s.SessionID()
	if sid == "" {
		return nil, "", ErrNoActiveSession
	}
	if err := s.state.Transition(StateReady, StateRunning); err != nil {
		if s.state.Current() == StateRunning {
			return nil, "", ErrTurnInProgress
		}
		return nil, "", err
	}
	t := &turn{
		started: s.now(),
		done:    make(chan struct{}),
		calls:   make(map[string]*ToolCall),
	}
	s.mu.Lock()
	s.turn = t
	s.mu.Unlock()
	return t, sid, nil
}

func (s *Session) runPrompt(t *turn, sid SessionID, blocks []ContentBlock) {
	out := turnOutcome{t: t}
	raw, err := s.transport.SendRequest(s.lifetime, MethodSessionPrompt, PromptRequest{SessionID: sid, Prompt: blocks})
	if err != nil {
		out.err = err
	} else {
		var resp PromptResponse
		switch err := decodeResult(raw, &resp); {
		case err != nil:
			out.err = &ProtocolError{Message: "malformed session/prompt response", Line: string(raw), Cause: err}
		case !resp.StopReason.Valid():
			out.err = &ProtocolError{Message: "session/prompt response has no stopReason", Line: string(raw)}
		default:
			out.stop = resp.StopReason
		}
	}
	select {
	case s.turnDone <- out:
	case <-s.loopDone:
	}
}

// Cancel asks the agent to stop the running turn and waits for it to end.
// If the agent does not end the turn within the cancel timeout the session
// is forced to Closing, the process is terminated, and ErrAgentUnresponsive
// is returned.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	t := s.turn
	sid := s.sessionID
	s.mu.Unlock()
	if t == nil {
		if s.state.Current().IsClosed() {
			return ErrSessionClosed
		}
		return ErrNoTurnInProgress
	}

	// The write may block behind a prompt the agent is not reading; the
	// timer below must still run.
	go func() {
		if err := s.transport.SendNotification(MethodSessionCancel, CancelNotification{SessionID: sid}); err != nil {
			s.logger.Warn("failed to send session/cancel", "error", err)
		}
	}()
	_ = s.resolvePermission(DecisionCancel)

	timer := time.NewTimer(s.cfg.CancelTimeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		s.logger.Warn("agent did not end cancelled turn, terminating", "timeout", s.cfg.CancelTimeout)
		s.state.ForceClosing()
		s.transport.Terminate()
		return ErrAgentUnresponsive
	}
}

// SwitchMode asks the agent to change mode. Modes is updated only after the
// agent acknowledges.
func (s *Session) SwitchMode(ctx context.Context, modeID string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	sid, err := s.readyForRequest()
	if err != nil {
		return err
	}
	if _, err := s.transport.SendRequest(ctx, MethodSessionSetMode, SetModeRequest{SessionID: sid, ModeID: modeID}); err != nil {
		s.noteTransportErr(err)
		return fmt.Errorf("session/set_mode: %w", err)
	}
	s.mu.Lock()
	if s.modes == nil {
		s.modes = &ModesInfo{}
	}
	s.modes.CurrentModeID = modeID
	s.mu.Unlock()
	return nil
}

// SwitchModel asks the agent to change model. Models is updated only after
// the agent acknowledges.
func (s *Session) SwitchModel(ctx context.Context, modelID string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	sid, err := s.readyForRequest()
	if err != nil {
		return err
	}
	if _, err := s.transport.SendRequest(ctx, MethodSessionSetModel, SetModelRequest{SessionID: sid, ModelID: modelID}); err != nil {
		s.noteTransportErr(err)
		return fmt.Errorf("session/set_model: %w", err)
	}
	s.mu.Lock()
	if s.models == nil {
		s.models = &ModelsInfo{}
	}
	s.models.CurrentModelID = modelID
	s.mu.Unlock()
	return nil
}

func (s *Session) readyForRequest() (SessionID, error) {
	switch cur := s.state.Current(); {
	case cur.IsClosed():
		return "", ErrSessionClosed
	case cur == StateRunning:
		return "", ErrTurnInProgress
	case cur != StateReady:
		return "", ErrInvalidState
	}
	sid := s.SessionID()
	if sid == "" {
		return "", ErrNoActiveSession
	}
	return sid, nil
}

func (s *Session) noteTransportErr(err error) {
	if errors.Is(err, ErrTransportClosed) {
		s.state.ForceClosing()
	}
}

// Close terminates the agent process and releases the session's buffers.
// It is safe to call in any state and more than once; only the first call
// does anything. The returned error reports a process that had not exited
// when ctx ended.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() { err = s.close(ctx) })
	return err
}

func (s *Session) close(ctx context.Context) error {
	s.state.ForceClosing()
	close(s.closing)
	s.transport.Terminate()
	s.cancelLifetime()
	close(s.stop)

	s.mu.Lock()
	t := s.turn
	s.turn = nil
	s.mu.Unlock()
	if t != nil {
		t.result = s.turnResult(t, StopReasonAborted, ErrSessionClosed)
		close(t.done)
	}

	select {
	case <-s.loopDone:
	case <-ctx.Done():
		// A handler that ignores its context still holds the loop. The
		// buffers are released once it returns.
		s.state.SetClosed()
		s.permPending.Set(false)
		go func() {
			<-s.loopDone
			s.release()
		}()
		return fmt.Errorf("dispatch loop still busy: %w", ctx.Err())
	}

	var err error
	select {
	case <-s.transport.Done():
	case <-ctx.Done():
		err = fmt.Errorf("agent process still running: %w", ctx.Err())
	}

	s.state.SetClosed()
	s.release()
	return err
}

// release must only run after the dispatch loop has exited.
func (s *Session) release() {
	s.permPending.Set(false)
	s.permPending.Close()
	close(s.events)

	s.mu.Lock()
	s.permission = nil
	s.plan = nil
	s.commands = nil
	s.mu.Unlock()
}

// --- Accessors ---

// SessionID returns the protocol session id, empty until CreateSession
// succeeds.
func (s *Session) SessionID() SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// AgentInfo returns the initialize response, nil before Initialize.
func (s *Session) AgentInfo() *InitializeResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent
}

// AuthMethods returns the methods the agent advertised.
func (s *Session) AuthMethods() []AuthMethod {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agent == nil {
		return nil
	}
	return append([]AuthMethod(nil), s.agent.AuthMethods...)
}

// LastAuthError returns the most recent authentication rejection.
func (s *Session) LastAuthError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuthErr
}

// Modes returns a copy of the mode info, if the agent reported any.
func (s *Session) Modes() (ModesInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modes == nil {
		return ModesInfo{}, false
	}
	m := *s.modes
	m.AvailableModes = append([]SessionMode(nil), m.AvailableModes...)
	return m, true
}

// Models returns a copy of the model info, if the agent reported any.
func (s *Session) Models() (ModelsInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.models == nil {
		return ModelsInfo{}, false
	}
	m := *s.models
	m.AvailableModels = append([]ModelInfo(nil), m.AvailableModels...)
	return m, true
}

// LastStopReason returns the stop reason of the most recent turn.
func (s *Session) LastStopReason() StopReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStop
}

// AvailableCommands returns the slash commands last reported by the agent.
func (s *Session) AvailableCommands() []AvailableCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AvailableCommand(nil), s.commands...)
}

// Plan returns the agent's latest plan.
func (s *Session) Plan() []PlanEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PlanEntry(nil), s.plan...)
}

// --- Permission arbitration ---

// PermissionSignal subscribes to the permission-pending flag. The channel
// carries the current value first.
func (s *Session) PermissionSignal() (<-chan bool, func()) {
	return s.permPending.Subscribe()
}

// PermissionPending reports whether a permission prompt awaits an answer.
func (s *Session) PermissionPending() bool {
	return s.permPending.Get()
}

// PendingPermission returns the outstanding permission prompt.
func (s *Session) PendingPermission() (PermissionRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permission == nil {
		return PermissionRequest{}, false
	}
	return s.permission.req, true
}

// RespondPermission answers the outstanding permission prompt.
func (s *Session) RespondPermission(d Decision) error {
	if d == DecisionAsk {
		return fmt.Errorf("%w: %s is not an answer", ErrInvalidState, d)
	}
	return s.resolvePermission(d)
}

func (s *Session) resolvePermission(d Decision) error {
	s.mu.Lock()
	p := s.permission
	s.permission = nil
	s.mu.Unlock()
	if p == nil {
		return ErrNoPendingPermission
	}
	p.reply <- d
	return nil
}

// --- Dispatch loop ---

func (s *Session) loop() {
	defer close(s.loopDone)
	inbound := s.transport.Inbound()
	transportDone := s.transport.Done()
	for {
		select {
		case msg := <-inbound:
			s.handleInbound(msg)
		case out := <-s.turnDone:
			s.finishTurn(out)
		case <-transportDone:
			transportDone = nil
			s.handleTransportClosed()
		case <-s.stop:
			return
		}
	}
}

// emit blocks until the event is queued. Events are only dropped once the
// session is closing.
func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	case <-s.stop:
	}
}

func (s *Session) handleInbound(msg Inbound) {
	switch msg.Method {
	case MethodSessionUpdate:
		s.handleUpdate(msg.Params)
	case MethodRequestPermission:
		s.handlePermission(msg)
	case MethodFsReadTextFile:
		s.handleReadFile(msg)
	case MethodFsWriteTextFile:
		s.handleWriteFile(msg)
	default:
		if msg.IsRequest() {
			s.respondError(*msg.ID, ErrCodeMethodNotFound, "method not found: "+msg.Method)
			return
		}
		s.logger.Debug("ignoring notification", "method", msg.Method)
	}
}

func (s *Session) handleUpdate(params json.RawMessage) {
	var n SessionNotification
	if err := json.Unmarshal(params, &n); err != nil {
		s.logger.Warn("dropping malformed session/update", "error", err)
		return
	}
	if sid := s.SessionID(); sid != "" && n.SessionID != sid {
		s.logger.Warn("dropping session/update for another session", "session_id", n.SessionID)
		return
	}

	u := &n.Update
	at := s.now()
	switch u.Kind {
	case UpdateAgentMessageChunk, UpdateUserMessageChunk, UpdateAgentThoughtChunk:
		if u.Content == nil {
			return
		}
		role := roleOf(u.Kind)
		if u.Content.Type == "text" && role != RoleUser {
			s.mu.Lock()
			if t := s.turn; t != nil {
				if role == RoleThought {
					t.thought.WriteString(u.Content.Text)
				} else {
					t.text.WriteString(u.Content.Text)
				}
			}
			s.mu.Unlock()
		}
		s.emit(MessageChunkEvent{At: at, Role: role, Content: *u.Content})

	case UpdateToolCall, UpdateToolCallUpdate:
		if u.ToolCallID == "" {
			s.logger.Warn("dropping tool call update without id", "kind", u.Kind)
			return
		}
		call, isNew := s.mergeToolCall(u, at)
		s.emit(ToolCallEvent{At: at, Call: call, New: isNew})

	case UpdatePlan:
		s.mu.Lock()
		s.plan = u.Entries
		s.mu.Unlock()
		s.emit(PlanEvent{At: at, Entries: append([]PlanEntry(nil), u.Entries...)})

	case UpdateAvailableCommands:
		s.mu.Lock()
		s.commands = u.AvailableCommands
		s.mu.Unlock()
		s.emit(AvailableCommandsEvent{Commands: append([]AvailableCommand(nil), u.AvailableCommands...)})

	case UpdateCurrentMode:
		s.mu.Lock()
		if s.modes == nil {
			s.modes = &ModesInfo{}
		}
		s.modes.CurrentModeID = u.CurrentModeID
		s.mu.Unlock()
		s.emit(ModeChangedEvent{ModeID: u.CurrentModeID})

	default:
		s.logger.Debug("skipping unknown session update", "kind", u.Kind)
	}
}

func roleOf(kind string) MessageRole {
	switch kind {
	case UpdateUserMessageChunk:
		return RoleUser
	case UpdateAgentThoughtChunk:
		return RoleThought
	default:
		return RoleAgent
	}
}

// mergeToolCall folds u into the running turn's record of the call. Calls
// reported outside a turn are not recorded.
func (s *Session) mergeToolCall(u *SessionUpdate, at time.Time) (ToolCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var call *ToolCall
	isNew := false
	if t := s.turn; t != nil {
		call = t.calls[u.ToolCallID]
		if call == nil {
			call = &ToolCall{ID: u.ToolCallID, StartedAt: at, Status: ToolCallPending}
			t.calls[u.ToolCallID] = call
			t.order = append(t.order, u.ToolCallID)
			isNew = true
		}
	} else {
		call = &ToolCall{ID: u.ToolCallID, StartedAt: at, Status: ToolCallPending}
		isNew = true
	}
	call.merge(u, at)
	return call.clone(), isNew
}

func (s *Session) handlePermission(msg Inbound) {
	if !msg.IsRequest() {
		s.logger.Warn("dropping permission request without id")
		return
	}
	id := *msg.ID
	var req RequestPermissionRequest
	if err := json.Unmarshal(msg.Params, &req); err != nil {
		s.respondError(id, ErrCodeInvalidParams, err.Error())
		return
	}

	// A prompt that arrives while the session is going away is never shown.
	if s.state.Current().IsClosed() {
		s.respond(id, RequestPermissionResponse{Outcome: CancelledOutcome()})
		return
	}

	pr := PermissionRequest{ReceivedAt: s.now(), ToolCall: req.ToolCall, Options: req.Options}
	decision := s.cfg.PermissionPolicy.Decide(pr)
	if decision == DecisionAsk {
		decision = s.awaitDecision(pr)
	}
	outcome := outcomeFor(decision, req.Options)
	s.logger.Debug("permission resolved", "tool_call_id", req.ToolCall.ToolCallID,
		"decision", decision, "outcome", outcome.Outcome, "option_id", outcome.OptionID)
	s.respond(id, RequestPermissionResponse{Outcome: outcome})
	s.emit(PermissionResolvedEvent{ToolCallID: req.ToolCall.ToolCallID, Outcome: outcome, Decision: decision})
}

// awaitDecision publishes pr and blocks the dispatch loop, and with it the
// turn, until RespondPermission is called or the session goes away.
func (s *Session) awaitDecision(pr PermissionRequest) Decision {
	p := &pendingPermission{req: pr, reply: make(chan Decision, 1)}
	s.mu.Lock()
	s.permission = p
	s.mu.Unlock()
	s.permPending.Set(true)
	defer func() {
		s.mu.Lock()
		if s.permission == p {
			s.permission = nil
		}
		s.mu.Unlock()
		s.permPending.Set(false)
	}()

	s.emit(PermissionRequestEvent{Request: pr})
	select {
	case d := <-p.reply:
		return d
	case <-s.closing:
		return DecisionCancel
	case <-s.transport.Done():
		return DecisionCancel
	}
}

func (s *Session) handleReadFile(msg Inbound) {
	if !msg.IsRequest() {
		return
	}
	id := *msg.ID
	var req ReadTextFileRequest
	if err := json.Unmarshal(msg.Params, &req); err != nil {
		s.respondError(id, ErrCodeInvalidParams, err.Error())
		return
	}
	resp, err := s.cfg.FsHandler.ReadTextFile(s.lifetime, req)
	if err != nil {
		s.respondError(id, fsErrorCode(err), err.Error())
		return
	}
	s.respond(id, resp)
}

func (s *Session) handleWriteFile(msg Inbound) {
	if !msg.IsRequest() {
		return
	}
	id := *msg.ID
	var req WriteTextFileRequest
	if err := json.Unmarshal(msg.Params, &req); err != nil {
		s.respondError(id, ErrCodeInvalidParams, err.Error())
		return
	}
	if err := s.cfg.FsHandler.WriteTextFile(s.lifetime, req); err != nil {
		s.respondError(id, fsErrorCode(err), err.Error())
		return
	}
	s.respond(id, struct{}{})
}

func fsErrorCode(err error) int {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrCodeResourceNotFound
	}
	return ErrCodeInternalError
}

func (s *Session) respond(id int64, result interface{}) {
	if err := s.transport.Respond(id, result); err != nil {
		s.logger.Debug("failed to answer agent request", "id", id, "error", err)
	}
}

func (s *Session) respondError(id int64, code int, message string) {
	if err := s.transport.RespondError(id, code, message); err != nil {
		s.logger.Debug("failed to answer agent request", "id", id, "error", err)
	}
}

func (s *Session) finishTurn(out turnOutcome) {
	s.mu.Lock()
	if s.turn != out.t {
		// Close already ended it.
		s.mu.Unlock()
		return
	}
	s.turn = nil
	s.mu.Unlock()

	stop, err := out.stop, out.err
	if err != nil && (errors.Is(err, ErrTransportClosed) || s.lifetime.Err() != nil || s.state.Current().IsClosed()) {
		stop = StopReasonAborted
	}
	res := s.turnResult(out.t, stop, err)

	if stop != "" {
		s.mu.Lock()
		s.lastStop = stop
		s.mu.Unlock()
	}
	if stop == StopReasonAborted {
		s.state.ForceClosing()
	} else {
		_ = s.state.Transition(StateRunning, StateReady)
	}

	out.t.result = res
	s.logger.Debug("turn complete", "stop_reason", stop, "duration", res.Duration, "tool_calls", len(res.ToolCalls), "error", err)
	s.emit(TurnCompleteEvent{Result: res})
	close(out.t.done)
}

func (s *Session) turnResult(t *turn, stop StopReason, err error) TurnResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := make([]ToolCall, 0, len(t.order))
	for _, id := range t.order {
		calls = append(calls, t.calls[id].clone())
	}
	return TurnResult{
		StartedAt:  t.started,
		Duration:   s.now().Sub(t.started),
		StopReason: stop,
		Text:       t.text.String(),
		Thought:    t.thought.String(),
		ToolCalls:  calls,
		Err:        err,
	}
}

func (s *Session) handleTransportClosed() {
	err := s.transport.Err()
	if s.state.ForceClosing() {
		s.logger.Warn("agent transport closed", "error", err)
	}
	s.emit(TransportClosedEvent{Err: err})
}

func (s *Session) hasAuthMethod(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agent == nil {
		return false
	}
	for _, m := range s.agent.AuthMethods {
		if m.ID == id {
			return true
		}
	}
	return false
}

func absCWD(cwd string) (string, error) {
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		return wd, nil
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	return abs, nil
}

// decodeResult rejects empty and null results before unmarshalling.
func decodeResult(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errors.New("empty result")
	}
	return json.Unmarshal(raw, v)
}
