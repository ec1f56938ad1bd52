package flocksync

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings such as
// "30m" or "2s" in addition to integer nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var v any
	if err := value.Decode(&v); err != nil {
		return err
	}
	switch x := v.(type) {
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(x)
	case int64:
		*d = Duration(x)
	case float64:
		*d = Duration(x)
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config carries every tuning knob for the engine. Zero values are filled
// from defaultConfig by the builder; Validate rejects configurations the
// engine cannot honor.
type Config struct {
	Session   SessionConfig   `yaml:"session"`
	Retry     RetryConfig     `yaml:"retry"`
	Cache     CacheConfig     `yaml:"cache"`
	Listeners ListenerConfig  `yaml:"listeners"`
	Batch     BatchConfig     `yaml:"batch"`
	Documents DocumentsConfig `yaml:"documents"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// SessionConfig tunes the session manager.
type SessionConfig struct {
	// RefreshInterval is the period of the background refresh timer.
	RefreshInterval Duration `yaml:"refresh_interval"`
	// RefreshLockWait bounds the wait for the refresh lock; concurrent
	// triggers collapse to one in-flight refresh.
	RefreshLockWait Duration `yaml:"refresh_lock_wait"`
	// StorageLockWait bounds the wait for the credential storage lock.
	StorageLockWait Duration `yaml:"storage_lock_wait"`
	// StorageOpTimeout bounds every single credential tier operation.
	StorageOpTimeout Duration `yaml:"storage_op_timeout"`
	// PersistKey is the credential store key holding the identity blob.
	PersistKey string `yaml:"persist_key"`
}

// RetryConfig tunes the transient-error retry policy.
type RetryConfig struct {
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}

// CacheConfig tunes the advisory document cache.
type CacheConfig struct {
	MaxEntries    int      `yaml:"max_entries"`
	SweepInterval Duration `yaml:"sweep_interval"`
	EntryTTL      Duration `yaml:"entry_ttl"`
}

// ListenerConfig tunes the listener registry.
type ListenerConfig struct {
	MaxListeners int      `yaml:"max_listeners"`
	RegisterWait Duration `yaml:"register_wait"`
}

// BatchConfig tunes BatchSave chunking.
type BatchConfig struct {
	// ChunkSize is the store's batch write limit.
	ChunkSize int `yaml:"chunk_size"`
	// MaxParallel caps concurrently executing chunks.
	MaxParallel int `yaml:"max_parallel"`
}

// DocumentsConfig tunes document reads.
type DocumentsConfig struct {
	// PageLimit caps GetAll result sets.
	PageLimit int `yaml:"page_limit"`
}

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls in-process metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RefreshInterval:  Duration(30 * time.Minute),
			RefreshLockWait:  Duration(10 * time.Second),
			StorageLockWait:  Duration(5 * time.Second),
			StorageOpTimeout: Duration(3 * time.Second),
			PersistKey:       "flocksync/identity",
		},
		Retry: RetryConfig{
			MaxAttempts:     4,
			InitialInterval: Duration(250 * time.Millisecond),
			MaxInterval:     Duration(5 * time.Second),
			Multiplier:      2,
		},
		Cache: CacheConfig{
			MaxEntries:    1000,
			SweepInterval: Duration(5 * time.Minute),
			EntryTTL:      Duration(30 * time.Minute),
		},
		Listeners: ListenerConfig{
			MaxListeners: 50,
			RegisterWait: Duration(2 * time.Second),
		},
		Batch: BatchConfig{
			ChunkSize:   500,
			MaxParallel: 3,
		},
		Documents: DocumentsConfig{
			PageLimit: 1000,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate rejects configurations the engine cannot honor.
func (c Config) Validate() error {
	if c.Session.RefreshInterval <= 0 {
		return errors.New("session refresh interval must be positive")
	}
	if c.Session.RefreshLockWait <= 0 || c.Session.StorageLockWait <= 0 {
		return errors.New("lock waits must be positive")
	}
	if c.Session.StorageOpTimeout <= 0 {
		return errors.New("storage op timeout must be positive")
	}
	if c.Session.PersistKey == "" {
		return errors.New("persist key must be set")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry max attempts must be at least 1")
	}
	if c.Cache.MaxEntries < 1 {
		return errors.New("cache max entries must be at least 1")
	}
	if c.Listeners.MaxListeners < 1 {
		return errors.New("max listeners must be at least 1")
	}
	if c.Batch.ChunkSize < 1 {
		return errors.New("batch chunk size must be at least 1")
	}
	if c.Batch.MaxParallel < 1 {
		return errors.New("batch max parallel must be at least 1")
	}
	if c.Documents.PageLimit < 1 {
		return errors.New("documents page limit must be at least 1")
	}
	return nil
}

// withDefaults backfills zero-valued fields so partially filled configs
// (hand-built or from a sparse YAML file) remain usable.
func (c Config) withDefaults() Config {
	def := defaultConfig()
	if c.Session.RefreshInterval == 0 {
		c.Session.RefreshInterval = def.Session.RefreshInterval
	}
	if c.Session.RefreshLockWait == 0 {
		c.Session.RefreshLockWait = def.Session.RefreshLockWait
	}
	if c.Session.StorageLockWait == 0 {
		c.Session.StorageLockWait = def.Session.StorageLockWait
	}
	if c.Session.StorageOpTimeout == 0 {
		c.Session.StorageOpTimeout = def.Session.StorageOpTimeout
	}
	if c.Session.PersistKey == "" {
		c.Session.PersistKey = def.Session.PersistKey
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if c.Retry.InitialInterval == 0 {
		c.Retry.InitialInterval = def.Retry.InitialInterval
	}
	if c.Retry.MaxInterval == 0 {
		c.Retry.MaxInterval = def.Retry.MaxInterval
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = def.Retry.Multiplier
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = def.Cache.MaxEntries
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = def.Cache.SweepInterval
	}
	if c.Cache.EntryTTL == 0 {
		c.Cache.EntryTTL = def.Cache.EntryTTL
	}
	if c.Listeners.MaxListeners == 0 {
		c.Listeners.MaxListeners = def.Listeners.MaxListeners
	}
	if c.Listeners.RegisterWait == 0 {
		c.Listeners.RegisterWait = def.Listeners.RegisterWait
	}
	if c.Batch.ChunkSize == 0 {
		c.Batch.ChunkSize = def.Batch.ChunkSize
	}
	if c.Batch.MaxParallel == 0 {
		c.Batch.MaxParallel = def.Batch.MaxParallel
	}
	if c.Documents.PageLimit == 0 {
		c.Documents.PageLimit = def.Documents.PageLimit
	}
	if c.Audit.Enabled && c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = def.Audit.BufferSize
	}
	return c
}

func cloneConfig(c Config) Config {
	// All sections are flat value types; a shallow copy is a deep copy.
	return c
}

// LoadConfig reads a YAML config file and overlays it on the defaults, so
// a partial file only overrides what it names.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
