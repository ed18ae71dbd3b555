package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/agentdesk/acp"
	"github.com/bazelment/agentdesk/acp/acptest"
	"github.com/bazelment/agentdesk/config"
	"github.com/bazelment/agentdesk/registry"
)

const baseConfig = `
agents:
  - name: fake
    command: fake-agent
    args: ["--acp"]
mcp_servers:
  - name: fs
    type: stdio
    command: mcp-fs
`

type harness struct {
	svc     *Service
	reg     *registry.Registry
	spawned []acp.ProcessConfig
	agents  []*acptest.Transport
	newFake func() *acptest.Transport
	fail    error
	mu      sync.Mutex
}

func newHarness(t *testing.T, doc string, newFake func() *acptest.Transport) *harness {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	h := &harness{newFake: newFake}
	h.reg = registry.New(registry.Config{Capacity: 4, CloseTimeout: time.Second})
	h.svc = New(Options{
		Config:   cfg,
		Registry: h.reg,
		Spawn:    h.spawn,
	})
	t.Cleanup(func() { h.reg.DrainAll(time.Second) })
	return h
}

func (h *harness) spawn(cfg acp.ProcessConfig) (acp.Transport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.spawned = append(h.spawned, cfg)
	if h.fail != nil {
		return nil, h.fail
	}
	ft := h.newFake()
	h.agents = append(h.agents, ft)
	return ft, nil
}

func (h *harness) spawnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.spawned)
}

func (h *harness) agent(i int) *acptest.Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.agents[i]
}

func fakeAgent(authMethods ...acp.AuthMethod) func() *acptest.Transport {
	return func() *acptest.Transport {
		ft := acptest.New()
		ft.Reply(acp.MethodInitialize, acp.InitializeResponse{
			ProtocolVersion: acp.ProtocolVersion,
			AuthMethods:     authMethods,
		})
		ft.Reply(acp.MethodAuthenticate, struct{}{})
		ft.Reply(acp.MethodSessionNew, acp.NewSessionResponse{
			SessionID: "s-1",
			Modes: &acp.ModesInfo{
				CurrentModeID:  "default",
				AvailableModes: []acp.SessionMode{{ID: "default"}, {ID: "plan"}},
			},
		})
		ft.Reply(acp.MethodSessionSetMode, struct{}{})
		return ft
	}
}

func TestAcquireStartsAndCaches(t *testing.T) {
	h := newHarness(t, baseConfig, fakeAgent())
	id := uuid.New()
	cwd := t.TempDir()

	sess, err := h.svc.Acquire(context.Background(), id, Request{CWD: cwd, Hint: "feature-x"})
	require.NoError(t, err)
	assert.Equal(t, acp.StateReady, sess.State())
	assert.Equal(t, acp.SessionID("s-1"), sess.SessionID())
	assert.Equal(t, "feature-x", h.reg.Hint(id))

	require.Equal(t, 1, h.spawnCount())
	assert.Equal(t, "fake-agent", h.spawned[0].Path)
	assert.Equal(t, []string{"--acp"}, h.spawned[0].Args)
	assert.Equal(t, cwd, h.spawned[0].Dir)

	var req acp.NewSessionRequest
	calls := h.agent(0).CallsTo(acp.MethodSessionNew)
	require.Len(t, calls, 1)
	require.NoError(t, json.Unmarshal(calls[0], &req))
	assert.Equal(t, cwd, req.CWD)
	require.Len(t, req.McpServers, 1)
	assert.Equal(t, "fs", req.McpServers[0].Server.ServerName())

	again, err := h.svc.Acquire(context.Background(), id, Request{})
	require.NoError(t, err)
	assert.Same(t, sess, again)
	assert.Equal(t, 1, h.spawnCount())
}

func TestAcquireUnknownAgent(t *testing.T) {
	h := newHarness(t, baseConfig, fakeAgent())
	_, err := h.svc.Acquire(context.Background(), uuid.New(), Request{Agent: "missing"})
	assert.Error(t, err)
	assert.Zero(t, h.spawnCount())
}

func TestAcquireSpawnFailure(t *testing.T) {
	h := newHarness(t, baseConfig, fakeAgent())
	h.fail = errors.New("no such binary")
	id := uuid.New()

	_, err := h.svc.Acquire(context.Background(), id, Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such binary")
	assert.Zero(t, h.reg.Len())
}

func TestAcquireAuthenticatesWithConfiguredMethod(t *testing.T) {
	doc := `
agents:
  - name: fake
    command: fake-agent
    auth_method: token
`
	h := newHarness(t, doc, fakeAgent(acp.AuthMethod{ID: "token", Name: "Token"}))
	sess, err := h.svc.Acquire(context.Background(), uuid.New(), Request{CWD: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, acp.StateReady, sess.State())

	calls := h.agent(0).CallsTo(acp.MethodAuthenticate)
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"methodId":"token"}`, string(calls[0]))
}

func TestAcquireSkipsAuth(t *testing.T) {
	doc := `
agents:
  - name: fake
    command: fake-agent
    skip_auth: true
`
	h := newHarness(t, doc, fakeAgent(acp.AuthMethod{ID: "token"}))
	sess, err := h.svc.Acquire(context.Background(), uuid.New(), Request{CWD: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, acp.StateReady, sess.State())
	assert.Empty(t, h.agent(0).CallsTo(acp.MethodAuthenticate))
}

func TestAcquireAuthRequiredWithoutConfig(t *testing.T) {
	h := newHarness(t, baseConfig, fakeAgent(acp.AuthMethod{ID: "oauth"}, acp.AuthMethod{ID: "token"}))
	id := uuid.New()

	_, err := h.svc.Acquire(context.Background(), id, Request{CWD: t.TempDir()})
	require.ErrorIs(t, err, acp.ErrAuthRequired)
	assert.Contains(t, err.Error(), "oauth, token")
	assert.Zero(t, h.reg.Len())

	select {
	case <-h.agent(0).Terminated():
	case <-time.After(time.Second):
		t.Fatal("agent was not terminated after a failed start")
	}
}

func TestAcquireSwitchesConfiguredMode(t *testing.T) {
	doc := `
agents:
  - name: fake
    command: fake-agent
    mode: plan
`
	h := newHarness(t, doc, fakeAgent())
	sess, err := h.svc.Acquire(context.Background(), uuid.New(), Request{CWD: t.TempDir()})
	require.NoError(t, err)

	modes, ok := sess.Modes()
	require.True(t, ok)
	assert.Equal(t, "plan", modes.CurrentModeID)
	assert.Len(t, h.agent(0).CallsTo(acp.MethodSessionSetMode), 1)
}

func TestAcquireReplacesDeadSession(t *testing.T) {
	h := newHarness(t, baseConfig, fakeAgent())
	id := uuid.New()

	first, err := h.svc.Acquire(context.Background(), id, Request{CWD: t.TempDir()})
	require.NoError(t, err)

	h.agent(0).Exit(errors.New("crashed"))
	require.Eventually(t, func() bool { return first.State().IsClosed() }, time.Second, time.Millisecond)

	second, err := h.svc.Acquire(context.Background(), id, Request{CWD: t.TempDir()})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, h.spawnCount())
	assert.Equal(t, 1, h.reg.Len())
}

func TestConcurrentAcquireSharesStart(t *testing.T) {
	release := make(chan struct{})
	var inits atomic.Int32
	h := newHarness(t, baseConfig, func() *acptest.Transport {
		ft := fakeAgent()()
		ft.Handle(acp.MethodInitialize, func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
			inits.Add(1)
			<-release
			return acp.InitializeResponse{ProtocolVersion: acp.ProtocolVersion}, nil
		})
		return ft
	})
	id := uuid.New()
	cwd := t.TempDir()

	const n = 4
	results := make([]*acp.Session, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := h.svc.Acquire(context.Background(), id, Request{CWD: cwd})
			assert.NoError(t, err)
			results[i] = s
		}()
	}
	require.Eventually(t, func() bool { return inits.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, h.spawnCount())
	for _, s := range results {
		assert.Same(t, results[0], s)
	}
}

func TestRelease(t *testing.T) {
	h := newHarness(t, baseConfig, fakeAgent())
	id := uuid.New()
	_, err := h.svc.Acquire(context.Background(), id, Request{CWD: t.TempDir()})
	require.NoError(t, err)
	h.reg.SetDraft(id, "unsent")

	h.svc.Release(id)
	assert.Zero(t, h.reg.Len())
	assert.Empty(t, h.reg.Draft(id))
	select {
	case <-h.agent(0).Terminated():
	case <-time.After(time.Second):
		t.Fatal("agent was not terminated")
	}
}
