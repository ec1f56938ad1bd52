package creds

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTier is a redis-backed Tier, suitable as the high-availability
// fallback tier on deployments that already run redis.
type RedisTier struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisTier creates a RedisTier. prefix namespaces all keys; it
// defaults to "fcr".
func NewRedisTier(client redis.UniversalClient, prefix string) *RedisTier {
	if prefix == "" {
		prefix = "fcr"
	}
	return &RedisTier{redis: client, prefix: prefix}
}

func (t *RedisTier) key(key string) string {
	return t.prefix + ":" + key
}

func (t *RedisTier) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := t.redis.Get(ctx, t.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("creds redis get: %w", err)
	}
	return value, nil
}

func (t *RedisTier) Set(ctx context.Context, key string, value []byte) error {
	if err := t.redis.Set(ctx, t.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("creds redis set: %w", err)
	}
	return nil
}

func (t *RedisTier) Remove(ctx context.Context, key string) error {
	if err := t.redis.Del(ctx, t.key(key)).Err(); err != nil {
		return fmt.Errorf("creds redis del: %w", err)
	}
	return nil
}

// FileTier persists values as files under a directory, written atomically
// via rename. It is the zero-dependency fallback tier for devices without
// platform secure storage.
type FileTier struct {
	dir string
	mu  sync.Mutex
}

// NewFileTier creates a FileTier rooted at dir, creating it if needed.
func NewFileTier(dir string) (*FileTier, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creds file tier: %w", err)
	}
	return &FileTier{dir: dir}, nil
}

func (t *FileTier) path(key string) string {
	// Keys are adapter-chosen constants, never user input, but flatten
	// separators anyway so a key can never escape the root.
	return filepath.Join(t.dir, filepath.Base(key))
}

func (t *FileTier) Get(_ context.Context, key string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	value, err := os.ReadFile(t.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("creds file get: %w", err)
	}
	return value, nil
}

func (t *FileTier) Set(_ context.Context, key string, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tmp := t.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0o600); err != nil {
		return fmt.Errorf("creds file set: %w", err)
	}
	if err := os.Rename(tmp, t.path(key)); err != nil {
		return fmt.Errorf("creds file set: %w", err)
	}
	return nil
}

func (t *FileTier) Remove(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := os.Remove(t.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("creds file remove: %w", err)
	}
	return nil
}

// MemTier is an in-memory Tier for tests and ephemeral sessions.
type MemTier struct {
	mu     sync.Mutex
	values map[string][]byte
}

func NewMemTier() *MemTier {
	return &MemTier{values: make(map[string][]byte)}
}

func (t *MemTier) Get(_ context.Context, key string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	value, ok := t.values[key]
	if !ok {
		return nil, ErrMiss
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (t *MemTier) Set(_ context.Context, key string, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	t.values[key] = stored
	return nil
}

func (t *MemTier) Remove(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.values, key)
	return nil
}
