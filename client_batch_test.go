package flocksync

import (
	"context"
	"fmt"
	"sort"
	"testing"
)

func makeLambs(n int) []*lamb {
	out := make([]*lamb, n)
	for i := range out {
		out[i] = &lamb{Tag: fmt.Sprintf("ear-%04d", i)}
	}
	return out
}

func TestBatchSaveChunking(t *testing.T) {
	st := newMemStore()
	engine, identity := signedInEngine(t, st, nil, nil)
	docs := engine.Documents()

	recs := makeLambs(1200)
	if !BatchSave(context.Background(), docs, recs) {
		t.Fatal("BatchSave() = false, want true")
	}

	st.mu.Lock()
	sizes := append([]int(nil), st.batchSizes...)
	st.mu.Unlock()
	sort.Sort(sort.Reverse(sort.IntSlice(sizes)))
	want := []int{500, 500, 200}
	if len(sizes) != len(want) {
		t.Fatalf("chunk count = %d, want %d", len(sizes), len(want))
	}
	for i, size := range sizes {
		if size != want[i] {
			t.Fatalf("chunk sizes = %v, want %v", sizes, want)
		}
	}

	for _, rec := range recs {
		if rec.ID == "" {
			t.Fatal("batch left a record without an id")
		}
		if rec.OwnerID != identity.ID {
			t.Fatalf("batch owner = %q, want %q", rec.OwnerID, identity.ID)
		}
	}

	all := GetAll[lamb](context.Background(), docs)
	if len(all) != 1000 {
		// Page limit caps the read, not the write.
		t.Fatalf("GetAll returned %d records, want page limit 1000", len(all))
	}
}

func TestBatchSaveChunkFailureIsIndependent(t *testing.T) {
	st := newMemStore()
	engine, _ := signedInEngine(t, st, nil, func(cfg *Config) {
		cfg.Retry.MaxAttempts = 1
		cfg.Batch.MaxParallel = 1 // deterministic chunk order
	})
	docs := engine.Documents()

	st.failBatchAt = 2
	recs := makeLambs(1200)
	if BatchSave(context.Background(), docs, recs) {
		t.Fatal("BatchSave() = true with a failed chunk")
	}

	// The failed chunk must not roll back its siblings.
	st.mu.Lock()
	persisted := len(st.docs["lambs"])
	st.mu.Unlock()
	if persisted != 700 {
		t.Fatalf("persisted %d documents, want 700 from the surviving chunks", persisted)
	}
}

func TestBatchSaveEmptyAndUnauthenticated(t *testing.T) {
	engine, _ := signedInEngine(t, newMemStore(), nil, nil)
	if !BatchSave(context.Background(), engine.Documents(), []*lamb{}) {
		t.Fatal("empty BatchSave() = false, want true")
	}

	anon := newTestEngine(t, engineOpts{})
	mustStart(t, anon)
	if BatchSave(context.Background(), anon.Documents(), makeLambs(3)) {
		t.Fatal("unauthenticated BatchSave() = true")
	}
}
