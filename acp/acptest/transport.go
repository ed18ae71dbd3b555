// Package acptest provides an in-memory acp.Transport whose agent side is
// scripted by tests.
package acptest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/bazelment/agentdesk/acp"
)

// Handler answers one client request. Returning json.RawMessage sends it
// verbatim; any other value is marshalled. Handlers may block and may call
// Notify or Request on the transport before returning.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Call is a recorded client request or notification.
type Call struct {
	Method string
	Params json.RawMessage
}

// Reply is the client's answer to an agent request.
type Reply struct {
	Error  *acp.JSONRPCError
	Result json.RawMessage
}

// Transport is a fake agent connection.
type Transport struct {
	exitErr       error
	handlers      map[string]Handler
	notifyHooks   map[string]func(json.RawMessage)
	waiters       map[int64]chan Reply
	inbound       chan acp.Inbound
	done          chan struct{}
	terminated    chan struct{}
	calls         []Call
	notifications []Call
	nextID        int64
	mu            sync.Mutex
	exitOnce      sync.Once
	termOnce      sync.Once

	// HangOnTerminate keeps the fake process alive after Terminate, like an
	// agent that ignores every signal.
	HangOnTerminate bool
}

// New returns a fake transport with no handlers. Unhandled requests fail
// with method not found.
func New() *Transport {
	return &Transport{
		handlers:    make(map[string]Handler),
		notifyHooks: make(map[string]func(json.RawMessage)),
		waiters:     make(map[int64]chan Reply),
		inbound:     make(chan acp.Inbound),
		done:        make(chan struct{}),
		terminated:  make(chan struct{}),
	}
}

// Handle registers h for method.
func (t *Transport) Handle(method string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[method] = h
}

// OnNotification registers fn to run when the client sends method.
func (t *Transport) OnNotification(method string, fn func(params json.RawMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifyHooks[method] = fn
}

// Reply registers a handler that always returns result.
func (t *Transport) Reply(method string, result interface{}) {
	t.Handle(method, func(context.Context, json.RawMessage) (interface{}, error) {
		return result, nil
	})
}

// Fail registers a handler that always returns a JSON-RPC error.
func (t *Transport) Fail(method string, code int, message string) {
	t.Handle(method, func(context.Context, json.RawMessage) (interface{}, error) {
		return nil, &acp.RPCError{Code: code, Message: message}
	})
}

// Calls returns the client requests received so far.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// CallsTo returns the params of every request for method.
func (t *Transport) CallsTo(method string) []json.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []json.RawMessage
	for _, c := range t.calls {
		if c.Method == method {
			out = append(out, c.Params)
		}
	}
	return out
}

// Notifications returns the client notifications received so far.
func (t *Transport) Notifications() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.notifications...)
}

// SendRequest implements acp.Transport.
func (t *Transport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.calls = append(t.calls, Call{Method: method, Params: raw})
	h := t.handlers[method]
	t.mu.Unlock()

	select {
	case <-t.done:
		return nil, t.Err()
	default:
	}
	if h == nil {
		return nil, &acp.RPCError{Code: acp.ErrCodeMethodNotFound, Message: "method not found: " + method}
	}

	type result struct {
		v   interface{}
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		v, err := h(ctx, raw)
		resCh <- result{v, err}
	}()

	select {
	case r := <-resCh:
		if r.err != nil {
			return nil, r.err
		}
		if rm, ok := r.v.(json.RawMessage); ok {
			return rm, nil
		}
		return json.Marshal(r.v)
	case <-t.done:
		return nil, t.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendNotification implements acp.Transport.
func (t *Transport) SendNotification(method string, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	select {
	case <-t.terminated:
		return acp.ErrTransportClosed
	default:
	}
	t.mu.Lock()
	t.notifications = append(t.notifications, Call{Method: method, Params: raw})
	hook := t.notifyHooks[method]
	t.mu.Unlock()
	if hook != nil {
		hook(raw)
	}
	return nil
}

// Inbound implements acp.Transport.
func (t *Transport) Inbound() <-chan acp.Inbound { return t.inbound }

// Respond implements acp.Transport.
func (t *Transport) Respond(id int64, result interface{}) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return t.reply(id, Reply{Result: raw})
}

// RespondError implements acp.Transport.
func (t *Transport) RespondError(id int64, code int, message string) error {
	return t.reply(id, Reply{Error: &acp.JSONRPCError{Code: code, Message: message}})
}

func (t *Transport) reply(id int64, r Reply) error {
	t.mu.Lock()
	ch, ok := t.waiters[id]
	delete(t.waiters, id)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("no agent request with id %d", id)
	}
	ch <- r
	return nil
}

// Done implements acp.Transport.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Err implements acp.Transport.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitErr
}

// Terminate implements acp.Transport. The fake process exits right away
// unless HangOnTerminate is set.
func (t *Transport) Terminate() {
	t.termOnce.Do(func() {
		close(t.terminated)
		if !t.HangOnTerminate {
			t.Exit(nil)
		}
	})
}

// Terminated is closed once Terminate has been called.
func (t *Transport) Terminated() <-chan struct{} { return t.terminated }

// Exit simulates the agent process going away. Pending and later requests
// fail with an error wrapping acp.ErrTransportClosed.
func (t *Transport) Exit(cause error) {
	t.exitOnce.Do(func() {
		err := acp.ErrTransportClosed
		if cause != nil {
			err = fmt.Errorf("%w: %w", acp.ErrTransportClosed, cause)
		}
		t.mu.Lock()
		t.exitErr = err
		t.mu.Unlock()
		close(t.done)
	})
}

// Notify delivers an agent notification and returns once the session has
// taken it.
func (t *Transport) Notify(ctx context.Context, method string, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return t.deliver(ctx, acp.Inbound{Method: method, Params: raw})
}

// Update delivers a session/update notification.
func (t *Transport) Update(ctx context.Context, sid acp.SessionID, u acp.SessionUpdate) error {
	return t.Notify(ctx, acp.MethodSessionUpdate, acp.SessionNotification{SessionID: sid, Update: u})
}

// Request sends an agent request and waits for the client's reply.
func (t *Transport) Request(ctx context.Context, method string, params interface{}) (Reply, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Reply{}, err
	}
	ch := make(chan Reply, 1)
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.waiters[id] = ch
	t.mu.Unlock()

	if err := t.deliver(ctx, acp.Inbound{ID: &id, Method: method, Params: raw}); err != nil {
		return Reply{}, err
	}
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case <-t.done:
		return Reply{}, errors.New("transport exited before reply")
	}
}

func (t *Transport) deliver(ctx context.Context, msg acp.Inbound) error {
	select {
	case t.inbound <- msg:
		return nil
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
