package waitlock

import (
	"context"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	m := New(time.Second)
	if !m.Acquire(context.Background()) {
		t.Fatal("Acquire() = false on a free lock")
	}
	m.Release()
	if !m.Acquire(context.Background()) {
		t.Fatal("Acquire() = false after Release")
	}
	m.Release()
}

func TestAcquireTimesOut(t *testing.T) {
	m := New(20 * time.Millisecond)
	if !m.Acquire(context.Background()) {
		t.Fatal("initial Acquire() = false")
	}
	defer m.Release()

	start := time.Now()
	if m.Acquire(context.Background()) {
		t.Fatal("Acquire() = true on a held lock")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Acquire blocked %v, want a bounded wait", elapsed)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	m := New(10 * time.Second)
	if !m.Acquire(context.Background()) {
		t.Fatal("initial Acquire() = false")
	}
	defer m.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if m.Acquire(ctx) {
		t.Fatal("Acquire() = true despite cancelled context")
	}
}

func TestTryAcquire(t *testing.T) {
	m := New(time.Second)
	if !m.TryAcquire() {
		t.Fatal("TryAcquire() = false on a free lock")
	}
	if m.TryAcquire() {
		t.Fatal("TryAcquire() = true on a held lock")
	}
	m.Release()
	if !m.TryAcquire() {
		t.Fatal("TryAcquire() = false after Release")
	}
	m.Release()
}
