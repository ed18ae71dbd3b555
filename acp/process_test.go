package acp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawn(t *testing.T, cfg ProcessConfig) *ProcessTransport {
	t.Helper()
	tr, err := Spawn(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		tr.Terminate()
		select {
		case <-tr.Done():
		case <-time.After(5 * time.Second):
		}
	})
	return tr
}

func nextInbound(t *testing.T, tr *ProcessTransport) Inbound {
	t.Helper()
	select {
	case msg := <-tr.Inbound():
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no inbound message")
		return Inbound{}
	}
}

func TestProcessTransportLoopback(t *testing.T) {
	// cat echoes every request back as an agent request; answering it sends
	// a response that cat echoes back to the pending request.
	tr := spawn(t, ProcessConfig{Path: "cat"})

	require.NoError(t, tr.SendNotification(MethodSessionCancel, CancelNotification{SessionID: "s1"}))
	note := nextInbound(t, tr)
	assert.Equal(t, MethodSessionCancel, note.Method)
	assert.False(t, note.IsRequest())
	assert.JSONEq(t, `{"sessionId":"s1"}`, string(note.Params))

	type reply struct {
		err error
		raw json.RawMessage
	}
	done := make(chan reply, 1)
	go func() {
		raw, err := tr.SendRequest(context.Background(), MethodInitialize, map[string]int{"protocolVersion": 1})
		done <- reply{err, raw}
	}()

	req := nextInbound(t, tr)
	require.True(t, req.IsRequest())
	assert.Equal(t, MethodInitialize, req.Method)
	require.NoError(t, tr.Respond(*req.ID, map[string]string{"ok": "yes"}))

	r := <-done
	require.NoError(t, r.err)
	assert.JSONEq(t, `{"ok":"yes"}`, string(r.raw))
}

func TestProcessTransportErrorResponse(t *testing.T) {
	tr := spawn(t, ProcessConfig{Path: "cat"})

	done := make(chan error, 1)
	go func() {
		_, err := tr.SendRequest(context.Background(), MethodAuthenticate, AuthenticateRequest{MethodID: "x"})
		done <- err
	}()
	req := nextInbound(t, tr)
	require.NoError(t, tr.RespondError(*req.ID, -32001, "denied"))

	var rpcErr *RPCError
	require.ErrorAs(t, <-done, &rpcErr)
	assert.Equal(t, -32001, rpcErr.Code)
	assert.Equal(t, "denied", rpcErr.Message)
}

func TestProcessTransportRequestContext(t *testing.T) {
	tr := spawn(t, ProcessConfig{Path: "sh", Args: []string{"-c", "sleep 30"}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tr.SendRequest(ctx, MethodInitialize, struct{}{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcessTransportExit(t *testing.T) {
	tr := spawn(t, ProcessConfig{Path: "sh", Args: []string{"-c", "read line; exit 3"}})

	_, err := tr.SendRequest(context.Background(), MethodInitialize, struct{}{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransportClosed)
	var perr *ProcessError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 3, perr.ExitCode)

	<-tr.Done()
	assert.ErrorIs(t, tr.Err(), ErrTransportClosed)
	_, err = tr.SendRequest(context.Background(), MethodInitialize, struct{}{})
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestProcessTransportTerminate(t *testing.T) {
	tr := spawn(t, ProcessConfig{Path: "sh", Args: []string{"-c", "trap '' INT; sleep 60"}})

	start := time.Now()
	tr.Terminate()
	tr.Terminate()
	select {
	case <-tr.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process survived terminate")
	}
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.ErrorIs(t, tr.SendNotification(MethodSessionCancel, struct{}{}), ErrTransportClosed)
}

func TestProcessTransportSkipsMalformedLinesAndForwardsStderr(t *testing.T) {
	var mu sync.Mutex
	var stderr []string
	script := `echo oops >&2; echo not-json; echo '{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"s"}}'; sleep 30`
	tr := spawn(t, ProcessConfig{
		Path: "sh",
		Args: []string{"-c", script},
		StderrHandler: func(line string) {
			mu.Lock()
			defer mu.Unlock()
			stderr = append(stderr, line)
		},
	})

	msg := nextInbound(t, tr)
	assert.Equal(t, MethodSessionUpdate, msg.Method)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(stderr) == 1 && stderr[0] == "oops"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSpawnMissingBinary(t *testing.T) {
	_, err := Spawn(ProcessConfig{Path: "/nonexistent/agent"})
	var perr *ProcessError
	require.True(t, errors.As(err, &perr))
}

func TestProcessTransportTerminateUnblocksWriter(t *testing.T) {
	// sleep never reads stdin, so a payload larger than the pipe buffer
	// blocks the writer until the pipe is closed.
	tr := spawn(t, ProcessConfig{Path: "sleep", Args: []string{"30"}})

	payload := map[string]string{"blob": strings.Repeat("x", 2<<20)}
	sent := make(chan error, 1)
	go func() {
		_, err := tr.SendRequest(context.Background(), MethodSessionPrompt, payload)
		sent <- err
	}()
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	tr.Terminate()
	select {
	case <-tr.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process survived terminate while a write was blocked")
	}
	assert.Less(t, time.Since(start), 3*time.Second)

	select {
	case err := <-sent:
		assert.ErrorIs(t, err, ErrTransportClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked write never returned")
	}
}

func TestProcessTransportBrokenStdin(t *testing.T) {
	tr := spawn(t, ProcessConfig{Path: "sh", Args: []string{"-c", "exec 0<&-; sleep 30"}})

	var err error
	require.Eventually(t, func() bool {
		err = tr.SendNotification(MethodSessionCancel, CancelNotification{SessionID: "s1"})
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTransportClosed)

	select {
	case <-tr.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("agent with a broken stdin was not terminated")
	}
}
