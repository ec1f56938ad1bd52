// Package listeners tracks live remote change subscriptions and keeps their
// count bounded.
//
// Registration is mutually exclusive under a short-timeout lock so two
// callers can never race a double registration for the same key. One owner
// per key: re-registering replaces (and cancels) the previous subscription.
// Exceeding the listener cap evicts the oldest subscription first.
package listeners

import (
	"context"
	"sync/atomic"

	"github.com/hillfarm/flocksync/internal/waitlock"
	"github.com/hillfarm/flocksync/store"
)

// CollectionID is the pseudo-id used to key a whole-collection listener.
const CollectionID = "collection"

// Key identifies one subscription: a (collection, id) pair, with
// id == CollectionID for collection-wide listeners.
type Key struct {
	Collection string
	ID         string
}

type entry struct {
	cancel store.CancelFunc
	seq    uint64
}

// Registry is the bounded set of live subscriptions.
type Registry struct {
	max int

	lock    *waitlock.Mutex
	entries map[Key]*entry
	seq     uint64

	replaced uint64
	evicted  uint64

	closed atomic.Bool
}

// New creates a Registry capped at max listeners whose registration lock
// waits at most the given bound.
func New(max int, registerWait *waitlock.Mutex) *Registry {
	if max <= 0 {
		max = 50
	}
	return &Registry{
		max:     max,
		lock:    registerWait,
		entries: make(map[Key]*entry),
	}
}

// Register records cancel under key, cancelling any previous owner of the
// key and evicting the oldest subscription if the cap would be exceeded.
// ErrLockTimeout is returned when the registration lock could not be taken
// within its bound; the supplied cancel is invoked so the caller never
// leaks a remote subscription.
func (r *Registry) Register(ctx context.Context, key Key, cancel store.CancelFunc) (replaced, evicted bool, err error) {
	if r.closed.Load() {
		cancel()
		return false, false, ErrClosed
	}
	if !r.lock.Acquire(ctx) {
		cancel()
		return false, false, ErrLockTimeout
	}
	defer r.lock.Release()

	if r.closed.Load() {
		cancel()
		return false, false, ErrClosed
	}

	if prev, ok := r.entries[key]; ok {
		prev.cancel()
		delete(r.entries, key)
		replaced = true
	}

	if len(r.entries) >= r.max {
		r.evictOldestLocked()
		evicted = true
	}

	r.seq++
	r.entries[key] = &entry{cancel: cancel, seq: r.seq}
	return replaced, evicted, nil
}

func (r *Registry) evictOldestLocked() {
	var (
		oldestKey Key
		oldestSeq uint64
		found     bool
	)
	for key, e := range r.entries {
		if !found || e.seq < oldestSeq {
			oldestKey = key
			oldestSeq = e.seq
			found = true
		}
	}
	if found {
		r.entries[oldestKey].cancel()
		delete(r.entries, oldestKey)
		r.evicted++
	}
}

// Unsubscribe cancels and removes the subscription for key, if any.
func (r *Registry) Unsubscribe(ctx context.Context, key Key) bool {
	if !r.lock.Acquire(ctx) {
		return false
	}
	defer r.lock.Release()

	e, ok := r.entries[key]
	if !ok {
		return false
	}
	e.cancel()
	delete(r.entries, key)
	return true
}

// UnsubscribeAll cancels every live subscription. Used at lifecycle
// boundaries (app backgrounding, shutdown) to release remote resources
// promptly.
func (r *Registry) UnsubscribeAll(ctx context.Context) int {
	if !r.lock.Acquire(ctx) {
		return 0
	}
	defer r.lock.Release()

	n := len(r.entries)
	for key, e := range r.entries {
		e.cancel()
		delete(r.entries, key)
	}
	return n
}

// Len returns the live subscription count.
func (r *Registry) Len(ctx context.Context) int {
	if !r.lock.Acquire(ctx) {
		return 0
	}
	defer r.lock.Release()
	return len(r.entries)
}

// Close cancels all subscriptions and rejects further registrations.
// Idempotent.
func (r *Registry) Close() {
	if r.closed.Swap(true) {
		return
	}
	r.UnsubscribeAll(context.Background())
}
