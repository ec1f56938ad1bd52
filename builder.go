package flocksync

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hillfarm/flocksync/creds"
	internalaudit "github.com/hillfarm/flocksync/internal/audit"
	"github.com/hillfarm/flocksync/internal/doccache"
	"github.com/hillfarm/flocksync/internal/listeners"
	internalmetrics "github.com/hillfarm/flocksync/internal/metrics"
	"github.com/hillfarm/flocksync/internal/retry"
	"github.com/hillfarm/flocksync/internal/waitlock"
	"github.com/hillfarm/flocksync/store"
)

var (
	// ErrNilProvider is returned by Build when no identity provider was set.
	ErrNilProvider = errors.New("flocksync: identity provider is required")
	// ErrNilStore is returned by Build when no document store was set.
	ErrNilStore = errors.New("flocksync: document store is required")
	// ErrNilConnectivity is returned by Build when no connectivity oracle
	// was set.
	ErrNilConnectivity = errors.New("flocksync: connectivity oracle is required")
)

// Builder assembles an Engine. Zero value is not usable; start from
// [NewBuilder]. All With methods return the builder for chaining and the
// final [Builder.Build] validates the configuration.
type Builder struct {
	cfg          Config
	provider     IdentityProvider
	docStore     store.Interface
	oracle       ConnectivityOracle
	strongTier   creds.Tier
	fallbackTier creds.Tier
	log          *zap.Logger
	auditSink    internalaudit.Sink
}

// NewBuilder creates a Builder preloaded with defaults.
func NewBuilder() *Builder {
	return &Builder{cfg: defaultConfig()}
}

// WithConfig replaces the entire configuration. Zero-valued fields are
// backfilled from defaults during Build.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithProvider sets the identity provider backing sign-in, sign-up, and
// token refresh. Required.
func (b *Builder) WithProvider(p IdentityProvider) *Builder {
	b.provider = p
	return b
}

// WithStore sets the document store backend. Required.
func (b *Builder) WithStore(s store.Interface) *Builder {
	b.docStore = s
	return b
}

// WithConnectivity sets the connectivity oracle consulted before every
// network-dependent decision. Required.
func (b *Builder) WithConnectivity(o ConnectivityOracle) *Builder {
	b.oracle = o
	return b
}

// WithCredentialTiers sets the strong (tier 1) and fallback (tier 2)
// credential stores. Either may be nil; with both nil the session is not
// persisted across restarts.
func (b *Builder) WithCredentialTiers(strong, fallback creds.Tier) *Builder {
	b.strongTier = strong
	b.fallbackTier = fallback
	return b
}

// WithLogger sets the structured logger. Defaults to zap.NewNop.
func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

// WithAuditSink sets the destination for audit events. Defaults to a
// no-op sink; the dispatcher itself is controlled by Config.Audit.
func (b *Builder) WithAuditSink(sink internalaudit.Sink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles in-process metric collection.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.cfg.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and allocates every component. The
// returned Engine performs no restore or network activity until
// [Engine.Start].
func (b *Builder) Build() (*Engine, error) {
	if b.provider == nil {
		return nil, ErrNilProvider
	}
	if b.docStore == nil {
		return nil, ErrNilStore
	}
	if b.oracle == nil {
		return nil, ErrNilConnectivity
	}

	cfg := b.cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("flocksync: invalid config: %w", err)
	}

	log := b.log
	if log == nil {
		log = zap.NewNop()
	}

	m := internalmetrics.New(internalmetrics.Config{Enabled: cfg.Metrics.Enabled})
	dispatcher := internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	var credsAdapter *creds.Adapter
	if b.strongTier != nil || b.fallbackTier != nil {
		adapter, err := creds.NewAdapter(b.strongTier, b.fallbackTier, creds.Config{
			OpTimeout: cfg.Session.StorageOpTimeout.Std(),
			LockWait:  cfg.Session.StorageLockWait.Std(),
		}, func(tier string, err error) {
			m.Inc(internalmetrics.MetricStorageTierFault)
			log.Warn("credential tier fault", zap.String("tier", tier), zap.Error(err))
		})
		if err != nil {
			return nil, err
		}
		credsAdapter = adapter
	} else {
		log.Warn("no credential tiers configured, session will not survive restarts")
	}

	sm := newSessionManager(cfg.Session, b.provider, credsAdapter, b.oracle, dispatcher, m, log)

	cache := doccache.New(doccache.Config{
		MaxEntries:    cfg.Cache.MaxEntries,
		SweepInterval: cfg.Cache.SweepInterval.Std(),
		EntryTTL:      cfg.Cache.EntryTTL.Std(),
	}, func(n int) {
		m.Add(internalmetrics.MetricCacheEviction, uint64(n))
	})

	registry := listeners.New(cfg.Listeners.MaxListeners, waitlock.New(cfg.Listeners.RegisterWait.Std()))

	retryPol := retry.New(retry.Config{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval.Std(),
		MaxInterval:     cfg.Retry.MaxInterval.Std(),
		Multiplier:      cfg.Retry.Multiplier,
	}, func() {
		m.Inc(internalmetrics.MetricRetryAttempt)
	})

	client := &Client{
		store:       b.docStore,
		cache:       cache,
		registry:    registry,
		retryPol:    retryPol,
		session:     sm,
		oracle:      b.oracle,
		audit:       dispatcher,
		metrics:     m,
		log:         log,
		pageLimit:   cfg.Documents.PageLimit,
		chunkSize:   cfg.Batch.ChunkSize,
		maxParallel: cfg.Batch.MaxParallel,
	}

	return &Engine{
		cfg:      cfg,
		log:      log,
		session:  sm,
		client:   client,
		cache:    cache,
		registry: registry,
		audit:    dispatcher,
		metrics:  m,
	}, nil
}
