package flocksync

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	internalaudit "github.com/hillfarm/flocksync/internal/audit"
	"github.com/hillfarm/flocksync/internal/doccache"
	"github.com/hillfarm/flocksync/internal/listeners"
	internalmetrics "github.com/hillfarm/flocksync/internal/metrics"
)

// Engine is the assembled offline-resilient core: one session manager and
// one document client sharing a config, logger, audit trail, and metrics.
//
// Lifecycle: [Builder.Build] allocates, [Engine.Start] restores the
// persisted session and launches background work, [Engine.Close] releases
// everything. Start must be called exactly once before the engine is used.
type Engine struct {
	cfg      Config
	log      *zap.Logger
	session  *SessionManager
	client   *Client
	cache    *doccache.Cache
	registry *listeners.Registry
	audit    *internalaudit.Dispatcher
	metrics  *internalmetrics.Metrics

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// Start runs the startup protocol: adopt the provider's live session if
// one exists, otherwise fall back to the persisted identity without
// touching the network, then launch the periodic refresh loop. It never
// blocks on the network and never fails because of it.
func (e *Engine) Start(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineNotReady
	}
	if e.started.Swap(true) {
		return ErrEngineNotReady
	}
	return e.session.start(ctx)
}

// Session exposes session state and authentication operations.
func (e *Engine) Session() *SessionManager { return e.session }

// Documents exposes the typed document client. The generic operations
// ([Get], [Save], [BatchSave], ...) take this client as their handle.
func (e *Engine) Documents() *Client { return e.client }

// Config returns a copy of the effective configuration.
func (e *Engine) Config() Config { return cloneConfig(e.cfg) }

// MetricsSnapshot returns a point-in-time copy of every counter.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were shed under back
// pressure since startup.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// Close stops background work, cancels every listener, clears the cache,
// and drains the audit dispatcher. The in-memory identity is left intact;
// Close is a resource release, not a sign-out. Idempotent.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.registry.Close()
		e.cache.Close()
		e.session.close()
		e.audit.Close()
		e.log.Info("engine closed")
	})
}
