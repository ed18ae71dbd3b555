package acp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/bazelment/agentdesk/internal/procgroup"
)

// levelTrace logs every JSON-RPC line exchanged with the agent.
const levelTrace = slog.LevelDebug - 4

// ProcessConfig describes the agent executable to spawn.
type ProcessConfig struct {
	// StderrHandler receives each stderr line. Lines are logged at debug
	// level when nil.
	StderrHandler func(line string)
	Logger        *slog.Logger
	Env           map[string]string
	Path          string
	Dir           string
	Args          []string
}

// ProcessTransport speaks newline-delimited JSON-RPC 2.0 with a child
// process over its stdin and stdout.
type ProcessTransport struct {
	err       error
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	encoder   *json.Encoder
	logger    *slog.Logger
	pending   map[int64]chan rpcResult
	inbound   chan Inbound
	closing   chan struct{} // Terminate called
	exited    chan struct{} // cmd.Wait returned
	done      chan struct{} // reader finished and pending requests failed
	idGen     idGenerator
	writeMu   sync.Mutex
	mu        sync.Mutex
	closeOnce sync.Once
}

type rpcResult struct {
	err    error
	result json.RawMessage
}

// Spawn starts the agent process in its own process group and begins
// reading its output.
func Spawn(cfg ProcessConfig) (*ProcessTransport, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(cfg.Path, cfg.Args...)
	cmd.Dir = cfg.Dir
	procgroup.Configure(cmd)
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to get stdin pipe", Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to get stdout pipe", Cause: err}
	}
	stderrHandler := cfg.StderrHandler
	if stderrHandler == nil {
		stderrHandler = func(line string) { logger.Debug("agent stderr", "line", line) }
	}
	cmd.Stderr = &lineWriter{fn: stderrHandler}

	if err := cmd.Start(); err != nil {
		return nil, &ProcessError{Message: "failed to start agent process", Cause: err}
	}
	logger.Debug("agent process started", "path", cfg.Path, "pid", cmd.Process.Pid)

	t := &ProcessTransport{
		cmd:     cmd,
		stdin:   stdin,
		encoder: json.NewEncoder(stdin),
		logger:  logger.With("pid", cmd.Process.Pid),
		pending: make(map[int64]chan rpcResult),
		inbound: make(chan Inbound),
		closing: make(chan struct{}),
		exited:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go t.readLoop(stdout)
	return t, nil
}

// SendRequest implements Transport.
func (t *ProcessTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := t.idGen.Next()
	req, err := newRequest(id, method, params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}

	ch := make(chan rpcResult, 1)
	t.mu.Lock()
	if t.pending == nil {
		t.mu.Unlock()
		return nil, t.closedErr()
	}
	t.pending[id] = ch
	t.mu.Unlock()

	if err := t.write(req); err != nil {
		t.forget(id)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.result, res.err
	case <-ctx.Done():
		t.forget(id)
		return nil, ctx.Err()
	}
}

// SendNotification implements Transport.
func (t *ProcessTransport) SendNotification(method string, params interface{}) error {
	n, err := newNotification(method, params)
	if err != nil {
		return fmt.Errorf("encode %s params: %w", method, err)
	}
	return t.write(n)
}

// Respond implements Transport.
func (t *ProcessTransport) Respond(id int64, result interface{}) error {
	resp, err := newResponse(id, result)
	if err != nil {
		return t.RespondError(id, ErrCodeInternalError, err.Error())
	}
	return t.write(resp)
}

// RespondError implements Transport.
func (t *ProcessTransport) RespondError(id int64, code int, message string) error {
	return t.write(newErrorResponse(id, code, message))
}

// Inbound implements Transport.
func (t *ProcessTransport) Inbound() <-chan Inbound { return t.inbound }

// Done implements Transport.
func (t *ProcessTransport) Done() <-chan struct{} { return t.done }

// Err implements Transport.
func (t *ProcessTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Terminate closes stdin and escalates signals to the process group in the
// background until the process exits.
func (t *ProcessTransport) Terminate() {
	t.closeOnce.Do(func() {
		close(t.closing)
		// Not under writeMu: closing the pipe is what unblocks a write to an
		// agent that stopped reading.
		_ = t.stdin.Close()
		go func() {
			if !procgroup.Shutdown(t.cmd.Process, t.exited, procgroup.DefaultSteps) {
				t.logger.Warn("agent process did not exit after SIGKILL")
			}
		}()
	})
}

func (t *ProcessTransport) write(v interface{}) error {
	select {
	case <-t.closing:
		return t.closedErr()
	default:
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.logger.Enabled(context.Background(), levelTrace) {
		if b, err := json.Marshal(v); err == nil {
			t.logger.Log(context.Background(), levelTrace, "send", "line", string(b))
		}
	}
	if err := t.encoder.Encode(v); err != nil {
		// A broken stdin leaves the agent unreachable; tear it down.
		t.Terminate()
		return fmt.Errorf("%w: %w", ErrTransportClosed, &ProcessError{Message: "failed to write to agent", Cause: err})
	}
	return nil
}

func (t *ProcessTransport) forget(id int64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *ProcessTransport) closedErr() error {
	if err := t.Err(); err != nil {
		return err
	}
	return ErrTransportClosed
}

func (t *ProcessTransport) readLoop(stdout io.Reader) {
	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			t.handleLine(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Debug("agent stdout read failed", "error", err)
			}
			break
		}
	}

	waitErr := t.cmd.Wait()
	close(t.exited)

	perr := &ProcessError{Message: "agent process exited", Cause: waitErr}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		perr.ExitCode = exitErr.ExitCode()
	}
	closeErr := fmt.Errorf("%w: %w", ErrTransportClosed, perr)

	t.mu.Lock()
	t.err = closeErr
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()
	for _, ch := range pending {
		ch <- rpcResult{err: closeErr}
	}
	t.logger.Debug("agent process gone", "exit_code", perr.ExitCode)
	close(t.done)
}

func (t *ProcessTransport) handleLine(line []byte) {
	line = trimNewline(line)
	if len(line) == 0 {
		return
	}
	t.logger.Log(context.Background(), levelTrace, "recv", "line", string(line))

	var msg rawMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		t.logger.Warn("dropping malformed line from agent",
			"error", &ProtocolError{Message: "failed to parse message", Line: string(line), Cause: err})
		return
	}

	if msg.Method == "" {
		if msg.ID == nil {
			t.logger.Warn("dropping message without id or method", "line", string(line))
			return
		}
		t.deliverResponse(*msg.ID, msg)
		return
	}

	select {
	case t.inbound <- Inbound{ID: msg.ID, Method: msg.Method, Params: msg.Params}:
	case <-t.closing:
	}
}

func (t *ProcessTransport) deliverResponse(id int64, msg rawMessage) {
	t.mu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		t.logger.Debug("response for unknown request", "id", id)
		return
	}

	if msg.Error != nil {
		ch <- rpcResult{err: &RPCError{Code: msg.Error.Code, Message: msg.Error.Message}}
		return
	}
	ch <- rpcResult{result: msg.Result}
}

func trimNewline(line []byte) []byte {
	return bytes.TrimRight(line, "\r\n")
}

// lineWriter splits stderr output into lines for the handler.
type lineWriter struct {
	fn  func(string)
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.fn(string(trimNewline(w.buf[:i])))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
