// Package metrics provides lock-free counters for flocksync observability.
//
// Counters are stored in cache-line-padded uint64 slots and incremented
// atomically. The write path is allocation-free. Snapshot creation is the
// only integration point; exporting snapshots is the host application's
// concern.
//
// # What this package must NOT do
//
//   - Perform I/O or network calls.
//   - Import the root package or any sibling package.
package metrics

import "sync/atomic"

// MetricID identifies a specific counter.
type MetricID uint16

const (
	MetricSignInSuccess MetricID = iota
	MetricSignInFailure
	MetricSignInOffline
	MetricSignUpSuccess
	MetricSignUpFailure
	MetricSignOut
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshSkipped
	MetricIdentityRestored
	MetricStorageTierFault
	MetricCacheHit
	MetricCacheMiss
	MetricCacheEviction
	MetricRetryAttempt
	MetricDocRead
	MetricDocWrite
	MetricDocWriteFailure
	MetricBatchChunkSuccess
	MetricBatchChunkFailure
	MetricCrossOwnerDenied
	MetricListenerRegistered
	MetricListenerReplaced
	MetricListenerEvicted

	MetricIDCount
)

type paddedCounter struct {
	value uint64
	_     [56]byte
}

// Config controls metric collection.
type Config struct {
	Enabled bool
}

// Metrics holds atomic counters. A nil or disabled Metrics is a no-op.
type Metrics struct {
	enabled  bool
	counters [MetricIDCount]paddedCounter
}

// New creates a Metrics instance. When cfg.Enabled is false all operations
// are no-ops.
func New(cfg Config) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc increments the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Add increments the counter for id by n.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Value returns the current counter value for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot is a point-in-time deep copy of all counters.
type Snapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot returns a consistent copy of every counter.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil || !m.enabled {
		return Snapshot{Counters: map[MetricID]uint64{}}
	}

	s := Snapshot{Counters: make(map[MetricID]uint64, int(MetricIDCount))}
	for id := MetricID(0); id < MetricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
