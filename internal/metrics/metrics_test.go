package metrics

import (
	"sync"
	"testing"
)

func TestDisabledMetricsAreNoOps(t *testing.T) {
	m := New(Config{Enabled: false})
	m.Inc(MetricDocRead)
	m.Add(MetricDocWrite, 5)

	if got := m.Value(MetricDocRead); got != 0 {
		t.Fatalf("Value = %d on disabled metrics", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("disabled snapshot has %d counters", len(snap.Counters))
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricCacheHit)
	m.Add(MetricCacheHit, 3)
	if got := m.Value(MetricCacheHit); got != 0 {
		t.Fatalf("Value on nil = %d", got)
	}
}

func TestIncAndAdd(t *testing.T) {
	m := New(Config{Enabled: true})
	m.Inc(MetricSignInSuccess)
	m.Inc(MetricSignInSuccess)
	m.Add(MetricDocWrite, 500)

	if got := m.Value(MetricSignInSuccess); got != 2 {
		t.Fatalf("MetricSignInSuccess = %d", got)
	}
	if got := m.Value(MetricDocWrite); got != 500 {
		t.Fatalf("MetricDocWrite = %d", got)
	}

	// Out-of-range IDs are ignored rather than corrupting memory.
	m.Inc(MetricIDCount)
	m.Add(MetricIDCount+10, 7)
}

func TestSnapshotIsACopy(t *testing.T) {
	m := New(Config{Enabled: true})
	m.Inc(MetricListenerEvicted)

	snap := m.Snapshot()
	if snap.Counters[MetricListenerEvicted] != 1 {
		t.Fatalf("snapshot counter = %d", snap.Counters[MetricListenerEvicted])
	}

	m.Inc(MetricListenerEvicted)
	if snap.Counters[MetricListenerEvicted] != 1 {
		t.Fatalf("snapshot mutated by later increment")
	}
}

func TestConcurrentIncrements(t *testing.T) {
	m := New(Config{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MetricRetryAttempt)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricRetryAttempt); got != 8000 {
		t.Fatalf("MetricRetryAttempt = %d, want 8000", got)
	}
}
