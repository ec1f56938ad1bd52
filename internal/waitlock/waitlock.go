// Package waitlock provides a mutex with a bounded acquisition wait.
//
// Every blocking wait in flocksync has an explicit bound; exceeding it is a
// recoverable condition, never an indefinite block. Callers that fail to
// acquire fall back to last known state or report a timeout, per their own
// contract.
package waitlock

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Mutex is a mutual-exclusion lock whose Acquire gives up after a fixed
// wait instead of blocking indefinitely.
type Mutex struct {
	sem  *semaphore.Weighted
	wait time.Duration
}

// New returns a Mutex that waits at most wait per acquisition attempt.
func New(wait time.Duration) *Mutex {
	if wait <= 0 {
		wait = time.Second
	}
	return &Mutex{
		sem:  semaphore.NewWeighted(1),
		wait: wait,
	}
}

// Acquire takes the lock, waiting at most the configured bound or until ctx
// is done, whichever comes first. It reports whether the lock was acquired.
func (m *Mutex) Acquire(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, m.wait)
	defer cancel()

	return m.sem.Acquire(ctx, 1) == nil
}

// TryAcquire takes the lock only if it is immediately free.
func (m *Mutex) TryAcquire() bool {
	return m.sem.TryAcquire(1)
}

// Release returns the lock. Must only be called after a successful Acquire.
func (m *Mutex) Release() {
	m.sem.Release(1)
}
