// Package observable holds a value that several goroutines can watch
// without polling. Watchers see the latest value; intermediate values may be
// skipped when a watcher falls behind.
package observable

import "sync"

// Value is a mutex-guarded value with latest-wins subscriptions.
type Value[T comparable] struct {
	watchers map[int]chan T
	current  T
	nextID   int
	mu       sync.Mutex
	closed   bool
}

// New returns a Value holding initial.
func New[T comparable](initial T) *Value[T] {
	return &Value[T]{current: initial, watchers: make(map[int]chan T)}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Set stores x and notifies watchers if it changed.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if x == v.current {
		return
	}
	v.current = x
	for _, ch := range v.watchers {
		offerLatest(ch, x)
	}
}

// Subscribe returns a channel that immediately carries the current value and
// then every later change. The cancel func closes the channel; it is safe to
// call more than once.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextID
	v.nextID++
	ch := make(chan T, 1)
	ch <- v.current
	if v.closed {
		close(ch)
		return ch, func() {}
	}
	v.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			if _, ok := v.watchers[id]; ok {
				delete(v.watchers, id)
				close(ch)
			}
		})
	}
}

// Close closes every watcher channel. Later Set calls only update the value
// and later subscribers get the current value on an already closed channel.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	for id, ch := range v.watchers {
		delete(v.watchers, id)
		close(ch)
	}
}

// offerLatest replaces whatever is buffered in ch with x. Caller holds the
// lock, so no other sender races on ch.
func offerLatest[T any](ch chan T, x T) {
	select {
	case <-ch:
	default:
	}
	ch <- x
}
