// Package permission tracks which sessions are waiting for a permission
// decision, so a badge or summary can show them without polling each one.
package permission

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/bazelment/agentdesk/internal/observable"
)

// Source publishes a session's permission-pending flag. The channel carries
// the current value first and is closed by cancel.
type Source interface {
	PermissionSignal() (<-chan bool, func())
}

// Coordinator folds the flags of observed sessions into one pending set.
type Coordinator struct {
	watches map[uuid.UUID]*watch
	pending map[uuid.UUID]struct{}
	version *observable.Value[uint64]
	gen     uint64
	mu      sync.Mutex
}

type watch struct {
	cancel func()
	gen    uint64
}

// NewCoordinator returns an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		watches: make(map[uuid.UUID]*watch),
		pending: make(map[uuid.UUID]struct{}),
		version: observable.New[uint64](0),
	}
}

// Observe follows src's flag for id, replacing any earlier observation of
// id.
func (c *Coordinator) Observe(id uuid.UUID, src Source) {
	ch, cancel := src.PermissionSignal()

	c.mu.Lock()
	if old := c.watches[id]; old != nil {
		old.cancel()
	}
	c.gen++
	gen := c.gen
	c.watches[id] = &watch{cancel: cancel, gen: gen}
	c.mu.Unlock()

	go c.follow(id, gen, ch)
}

// StopObserving forgets id and drops it from the pending set, whatever the
// session last reported.
func (c *Coordinator) StopObserving(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w := c.watches[id]; w != nil {
		w.cancel()
		delete(c.watches, id)
	}
	c.setLocked(id, false)
}

// Pending returns the identities awaiting a permission decision.
func (c *Coordinator) Pending() []uuid.UUID {
	c.mu.Lock()
	out := make([]uuid.UUID, 0, len(c.pending))
	for id := range c.pending {
		out = append(out, id)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// IsPending reports whether id awaits a permission decision.
func (c *Coordinator) IsPending(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// Changes notifies whenever the pending set changes. Values are a change
// counter; call Pending for the contents.
func (c *Coordinator) Changes() (<-chan uint64, func()) {
	return c.version.Subscribe()
}

// Close stops every observation and clears the pending set.
func (c *Coordinator) Close() {
	c.mu.Lock()
	for id, w := range c.watches {
		w.cancel()
		delete(c.watches, id)
		c.setLocked(id, false)
	}
	c.mu.Unlock()
	c.version.Close()
}

func (c *Coordinator) follow(id uuid.UUID, gen uint64, ch <-chan bool) {
	for v := range ch {
		c.mu.Lock()
		if w := c.watches[id]; w != nil && w.gen == gen {
			c.setLocked(id, v)
		}
		c.mu.Unlock()
	}
}

func (c *Coordinator) setLocked(id uuid.UUID, pending bool) {
	_, was := c.pending[id]
	if was == pending {
		return
	}
	if pending {
		c.pending[id] = struct{}{}
	} else {
		delete(c.pending, id)
	}
	c.version.Set(c.version.Get() + 1)
}
