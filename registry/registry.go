// Package registry caches live agent sessions by logical chat identity.
//
// The registry is bounded: once more identities are tracked than the
// configured capacity, the least recently touched identity is torn down.
// Tearing down never blocks the caller; the session is closed in the
// background and close failures are logged.
package registry

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/bazelment/agentdesk/permission"
)

// DefaultCapacity is the number of identities kept when Config.Capacity is
// unset.
const DefaultCapacity = 20

// DefaultCloseTimeout bounds each background close started by Remove or
// eviction.
const DefaultCloseTimeout = 3 * time.Second

// Session is what the registry needs from a cached agent session.
type Session interface {
	permission.Source
	Close(ctx context.Context) error
}

// Config configures a Registry.
type Config struct {
	Logger       *slog.Logger
	Coordinator  *permission.Coordinator
	Capacity     int
	CloseTimeout time.Duration
}

// Registry maps logical identities to live sessions and their drafts.
type Registry struct {
	logger  *slog.Logger
	coord   *permission.Coordinator
	entries map[uuid.UUID]*entry
	drafts  map[uuid.UUID]*drafts
	elems   map[uuid.UUID]*list.Element
	recency *list.List // front is most recent; values are uuid.UUID

	closeTimeout time.Duration
	capacity     int
	closing      sync.WaitGroup
	mu           sync.Mutex
}

type entry struct {
	session Session
	hint    string
}

// New returns an empty registry.
func New(cfg Config) *Registry {
	if cfg.Capacity < 1 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Coordinator == nil {
		cfg.Coordinator = permission.NewCoordinator()
	}
	return &Registry{
		logger:       cfg.Logger,
		coord:        cfg.Coordinator,
		entries:      make(map[uuid.UUID]*entry),
		drafts:       make(map[uuid.UUID]*drafts),
		elems:        make(map[uuid.UUID]*list.Element),
		recency:      list.New(),
		closeTimeout: cfg.CloseTimeout,
		capacity:     cfg.Capacity,
	}
}

// Coordinator returns the permission coordinator fed by this registry.
func (r *Registry) Coordinator() *permission.Coordinator {
	return r.coord
}

// Get returns the session cached for id and marks id most recently used.
// A miss has no side effects.
func (r *Registry) Get(id uuid.UUID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	r.touchLocked(id)
	return e.session, true
}

// Hint returns the display hint stored with id's session.
func (r *Registry) Hint(id uuid.UUID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		return e.hint
	}
	return ""
}

// Put caches s under id, replacing and closing any different session already
// there, then evicts cold identities if over capacity.
func (r *Registry) Put(id uuid.UUID, s Session, hint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[id]; ok && old.session != s {
		r.closeAsync(id, old)
	}
	r.entries[id] = &entry{session: s, hint: hint}
	r.touchLocked(id)
	r.coord.Observe(id, s)
	r.evictLocked()
}

// Remove tears down id: its permission observation, drafts and recency are
// dropped now, and its session is closed in the background. Removing an
// unknown identity does nothing.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

// EvictIfNeeded evicts least recently used identities until the registry is
// within capacity.
func (r *Registry) EvictIfNeeded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
}

// Len returns the number of cached sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Identities returns every tracked identity, most recently used first. It
// includes identities that only hold drafts.
func (r *Registry) Identities() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uuid.UUID, 0, r.recency.Len())
	for e := r.recency.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(uuid.UUID))
	}
	return out
}

// DrainAll closes every cached session concurrently and waits at most
// timeout, counting closes already started by Remove and eviction. Local
// state is cleared whether or not the closes finish.
func (r *Registry) DrainAll(timeout time.Duration) {
	r.mu.Lock()
	snapshot := r.entries
	r.entries = make(map[uuid.UUID]*entry)
	r.drafts = make(map[uuid.UUID]*drafts)
	r.elems = make(map[uuid.UUID]*list.Element)
	r.recency.Init()
	for id := range snapshot {
		r.coord.StopObserving(id)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var (
		errsMu sync.Mutex
		errs   *multierror.Error
		g      errgroup.Group
	)
	for id, e := range snapshot {
		g.Go(func() error {
			if err := e.session.Close(ctx); err != nil {
				errsMu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("session %s (%s): %w", id, e.hint, err))
				errsMu.Unlock()
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		r.closing.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("drain timed out, abandoning outstanding closes",
			"timeout", timeout, "sessions", len(snapshot))
	}

	errsMu.Lock()
	defer errsMu.Unlock()
	if err := errs.ErrorOrNil(); err != nil {
		r.logger.Warn("sessions failed to close during drain", "error", err)
	}
}

func (r *Registry) removeLocked(id uuid.UUID) {
	r.coord.StopObserving(id)
	delete(r.drafts, id)
	if el, ok := r.elems[id]; ok {
		r.recency.Remove(el)
		delete(r.elems, id)
	}
	if e, ok := r.entries[id]; ok {
		delete(r.entries, id)
		r.closeAsync(id, e)
	}
}

func (r *Registry) evictLocked() {
	for r.recency.Len() > r.capacity {
		id := r.recency.Back().Value.(uuid.UUID)
		r.logger.Debug("evicting session", "identity", id, "hint", r.hintLocked(id))
		r.removeLocked(id)
	}
}

func (r *Registry) hintLocked(id uuid.UUID) string {
	if e, ok := r.entries[id]; ok {
		return e.hint
	}
	return ""
}

func (r *Registry) touchLocked(id uuid.UUID) {
	if el, ok := r.elems[id]; ok {
		r.recency.MoveToFront(el)
		return
	}
	r.elems[id] = r.recency.PushFront(id)
}

// dropIfEmptyLocked forgets id's recency slot once it has neither a session
// nor drafts.
func (r *Registry) dropIfEmptyLocked(id uuid.UUID) {
	if _, ok := r.entries[id]; ok {
		return
	}
	if d, ok := r.drafts[id]; ok && !d.empty() {
		return
	}
	delete(r.drafts, id)
	if el, ok := r.elems[id]; ok {
		r.recency.Remove(el)
		delete(r.elems, id)
	}
}

func (r *Registry) closeAsync(id uuid.UUID, e *entry) {
	r.closing.Add(1)
	go func() {
		defer r.closing.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.closeTimeout)
		defer cancel()
		if err := e.session.Close(ctx); err != nil {
			r.logger.Warn("failed to close session", "identity", id, "hint", e.hint, "error", err)
		}
	}()
}
