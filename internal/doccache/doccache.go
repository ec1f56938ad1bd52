// Package doccache provides the bounded local cache of recently seen
// documents.
//
// The cache is purely advisory: absence or eviction never changes
// correctness, it only forces a round trip to the remote store. Entries are
// swept periodically; anything unused longer than the entry TTL is dropped,
// and if the cache still exceeds its cap the oldest entries are evicted.
package doccache

import (
	"sync"
	"time"

	"github.com/hillfarm/flocksync/store"
)

// Key addresses one cached document.
type Key struct {
	Collection string
	ID         string
}

type entry struct {
	doc        *store.Doc
	lastAccess time.Time
}

// Config holds cache tuning parameters.
type Config struct {
	MaxEntries    int
	SweepInterval time.Duration
	EntryTTL      time.Duration
}

// Cache is a bounded (collection, id) → document map with periodic sweeps.
type Cache struct {
	cfg Config

	mu      sync.Mutex
	entries map[Key]*entry

	evictions uint64
	onEvict   func(n int)

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	now       func() time.Time
}

// New creates a Cache and starts its sweep timer. onEvict, when non-nil, is
// called with the number of entries dropped by each sweep or cap eviction.
func New(cfg Config, onEvict func(n int)) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}

	c := &Cache{
		cfg:     cfg,
		entries: make(map[Key]*entry),
		onEvict: onEvict,
		done:    make(chan struct{}),
		now:     time.Now,
	}

	c.wg.Add(1)
	go c.run()

	return c
}

func (c *Cache) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}

// Get returns a copy of the cached document, refreshing its access time.
func (c *Cache) Get(key Key) (*store.Doc, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e.lastAccess = c.now()
	return e.doc.Clone(), true
}

// Put stores a copy of doc under key. Inserting past the cap triggers an
// immediate oldest-first eviction down to the cap.
func (c *Cache) Put(key Key, doc *store.Doc) {
	if doc == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &entry{doc: doc.Clone(), lastAccess: c.now()}
	if len(c.entries) > c.cfg.MaxEntries {
		c.evictOldestLocked(len(c.entries) - c.cfg.MaxEntries)
	}
}

// Invalidate removes key from the cache.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Sweep drops entries idle longer than the entry TTL, then evicts
// oldest-first if the cache still exceeds its cap.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.cfg.EntryTTL)
	dropped := 0
	for key, e := range c.entries {
		if e.lastAccess.Before(cutoff) {
			delete(c.entries, key)
			dropped++
		}
	}
	if len(c.entries) > c.cfg.MaxEntries {
		dropped += c.evictOldestLocked(len(c.entries) - c.cfg.MaxEntries)
	}
	if dropped > 0 {
		c.evictions += uint64(dropped)
		if c.onEvict != nil {
			c.onEvict(dropped)
		}
	}
}

func (c *Cache) evictOldestLocked(n int) int {
	evicted := 0
	for i := 0; i < n; i++ {
		var (
			oldestKey Key
			oldest    time.Time
			found     bool
		)
		for key, e := range c.entries {
			if !found || e.lastAccess.Before(oldest) {
				oldestKey = key
				oldest = e.lastAccess
				found = true
			}
		}
		if !found {
			break
		}
		delete(c.entries, oldestKey)
		evicted++
	}
	return evicted
}

// Len returns the live entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the sweep timer and clears the cache. Idempotent.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()

		c.mu.Lock()
		c.entries = make(map[Key]*entry)
		c.mu.Unlock()
	})
}
