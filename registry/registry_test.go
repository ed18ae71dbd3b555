package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/agentdesk/acp"
	"github.com/bazelment/agentdesk/internal/observable"
)

type fakeSession struct {
	pending *observable.Value[bool]
	release chan struct{}
	err     error
	closes  atomic.Int32
	closed  chan struct{}
	once    sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{pending: observable.New(false), closed: make(chan struct{})}
}

// newHangingSession returns a session whose Close blocks until release is
// closed, ignoring its context.
func newHangingSession() *fakeSession {
	s := newFakeSession()
	s.release = make(chan struct{})
	return s
}

func (s *fakeSession) PermissionSignal() (<-chan bool, func()) {
	return s.pending.Subscribe()
}

func (s *fakeSession) Close(ctx context.Context) error {
	s.closes.Add(1)
	if s.release != nil {
		<-s.release
	}
	s.once.Do(func() { close(s.closed) })
	return s.err
}

func (s *fakeSession) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-s.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("session was not closed")
	}
}

func newRegistry(capacity int) *Registry {
	return New(Config{Capacity: capacity, CloseTimeout: time.Second})
}

func TestNewDefaults(t *testing.T) {
	r := New(Config{})
	assert.Equal(t, DefaultCapacity, r.capacity)
	assert.Equal(t, DefaultCloseTimeout, r.closeTimeout)
	assert.NotNil(t, r.Coordinator())
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	r := newRegistry(2)
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	sa, sb, sc, sd := newFakeSession(), newFakeSession(), newFakeSession(), newFakeSession()

	r.Put(a, sa, "a")
	r.Put(b, sb, "b")
	assert.Equal(t, 2, r.Len())

	r.Put(c, sc, "c")
	assert.Equal(t, 2, r.Len())
	_, ok := r.Get(a)
	assert.False(t, ok)
	sa.waitClosed(t)

	r.Put(d, sd, "d")
	assert.LessOrEqual(t, r.Len(), 2)
	_, ok = r.Get(b)
	assert.False(t, ok)
	sb.waitClosed(t)
	assert.Equal(t, []uuid.UUID{d, c}, r.Identities())
}

func TestGetRefreshesRecency(t *testing.T) {
	r := newRegistry(2)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	sa, sb, sc := newFakeSession(), newFakeSession(), newFakeSession()

	r.Put(a, sa, "")
	r.Put(b, sb, "")
	got, ok := r.Get(a)
	require.True(t, ok)
	assert.Same(t, sa, got)

	r.Put(c, sc, "")
	_, ok = r.Get(b)
	assert.False(t, ok)
	sb.waitClosed(t)

	_, ok = r.Get(a)
	assert.True(t, ok)
	_, ok = r.Get(c)
	assert.True(t, ok)
	assert.Zero(t, sa.closes.Load())
	assert.Zero(t, sc.closes.Load())
}

func TestGetMissHasNoSideEffects(t *testing.T) {
	r := newRegistry(2)
	a := uuid.New()
	r.Put(a, newFakeSession(), "")

	_, ok := r.Get(uuid.New())
	assert.False(t, ok)
	assert.Equal(t, []uuid.UUID{a}, r.Identities())
	assert.Equal(t, 1, r.Len())
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := newRegistry(4)
	a := uuid.New()
	s := newFakeSession()
	r.Put(a, s, "feature-x")
	assert.Equal(t, "feature-x", r.Hint(a))

	r.Remove(a)
	r.Remove(a)
	s.waitClosed(t)
	r.DrainAll(time.Second)

	assert.Equal(t, int32(1), s.closes.Load())
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Identities())
	assert.Empty(t, r.Hint(a))
}

func TestRemoveDoesNotBlockOnClose(t *testing.T) {
	r := newRegistry(4)
	a := uuid.New()
	s := newHangingSession()
	defer close(s.release)
	r.Put(a, s, "")

	done := make(chan struct{})
	go func() {
		r.Remove(a)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Remove blocked on a hanging close")
	}
	assert.Zero(t, r.Len())
}

func TestRemoveClearsDraftsAndPermission(t *testing.T) {
	r := newRegistry(4)
	a := uuid.New()
	s := newFakeSession()
	r.Put(a, s, "")
	r.SetDraft(a, "half typed")
	r.SetPendingMessage(a, "queued")
	r.SetPendingAttachments(a, []acp.ContentBlock{acp.NewTextContent("ctx")})

	s.pending.Set(true)
	require.Eventually(t, func() bool { return r.Coordinator().IsPending(a) }, time.Second, time.Millisecond)

	r.Remove(a)
	assert.False(t, r.Coordinator().IsPending(a))
	assert.Empty(t, r.Draft(a))
	_, ok := r.ConsumePendingMessage(a)
	assert.False(t, ok)
	assert.Nil(t, r.ConsumePendingAttachments(a))
	assert.Empty(t, r.Identities())
}

func TestPutReplacesSession(t *testing.T) {
	r := newRegistry(4)
	a := uuid.New()
	first, second := newFakeSession(), newFakeSession()

	r.Put(a, first, "one")
	r.Put(a, first, "one")
	assert.Zero(t, first.closes.Load())

	r.Put(a, second, "two")
	first.waitClosed(t)
	got, ok := r.Get(a)
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, "two", r.Hint(a))
	assert.Equal(t, 1, r.Len())

	first.pending.Set(true)
	assert.Never(t, func() bool { return r.Coordinator().IsPending(a) }, 50*time.Millisecond, 5*time.Millisecond)
	second.pending.Set(true)
	require.Eventually(t, func() bool { return r.Coordinator().IsPending(a) }, time.Second, time.Millisecond)
}

func TestEvictionStopsObserving(t *testing.T) {
	r := newRegistry(1)
	a, b := uuid.New(), uuid.New()
	sa := newFakeSession()
	r.Put(a, sa, "")
	sa.pending.Set(true)
	require.Eventually(t, func() bool { return r.Coordinator().IsPending(a) }, time.Second, time.Millisecond)

	r.Put(b, newFakeSession(), "")
	assert.False(t, r.Coordinator().IsPending(a))
	assert.Empty(t, r.Coordinator().Pending())
}

func TestEvictIfNeededWithinCapacity(t *testing.T) {
	r := newRegistry(3)
	a := uuid.New()
	r.Put(a, newFakeSession(), "")
	r.EvictIfNeeded()
	assert.Equal(t, 1, r.Len())
}

func TestDrainAllClosesEverySession(t *testing.T) {
	r := newRegistry(10)
	var sessions []*fakeSession
	for range 5 {
		s := newFakeSession()
		sessions = append(sessions, s)
		r.Put(uuid.New(), s, "")
	}
	sessions[2].err = errors.New("boom")

	r.DrainAll(time.Second)
	for _, s := range sessions {
		assert.Equal(t, int32(1), s.closes.Load())
	}
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Identities())
}

func TestDrainAllIsBoundedByTimeout(t *testing.T) {
	r := newRegistry(10)
	var hanging []*fakeSession
	for range 8 {
		s := newHangingSession()
		hanging = append(hanging, s)
		r.Put(uuid.New(), s, "")
	}
	// An earlier removal whose close also hangs.
	removed := uuid.New()
	rs := newHangingSession()
	hanging = append(hanging, rs)
	r.Put(removed, rs, "")
	r.Remove(removed)
	defer func() {
		for _, s := range hanging {
			close(s.release)
		}
	}()

	start := time.Now()
	r.DrainAll(100 * time.Millisecond)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Zero(t, r.Len())
}

func TestDrainAllClosesConcurrently(t *testing.T) {
	r := newRegistry(10)
	const n = 5
	var entered atomic.Int32
	gate := make(chan struct{})
	for range n {
		s := &gatedSession{fakeSession: newFakeSession(), entered: &entered, gate: gate}
		r.Put(uuid.New(), s, "")
	}
	go func() {
		for entered.Load() < n {
			time.Sleep(time.Millisecond)
		}
		close(gate)
	}()

	start := time.Now()
	r.DrainAll(2 * time.Second)
	assert.Less(t, time.Since(start), 1500*time.Millisecond)
	assert.Equal(t, int32(n), entered.Load())
}

// gatedSession blocks Close until every session has entered Close.
type gatedSession struct {
	*fakeSession
	entered *atomic.Int32
	gate    chan struct{}
}

func (s *gatedSession) Close(ctx context.Context) error {
	s.entered.Add(1)
	select {
	case <-s.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.fakeSession.Close(ctx)
}
