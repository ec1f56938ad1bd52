package flocksync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hillfarm/flocksync/creds"
	"github.com/hillfarm/flocksync/idtoken"
	internalaudit "github.com/hillfarm/flocksync/internal/audit"
	internalmetrics "github.com/hillfarm/flocksync/internal/metrics"
	"github.com/hillfarm/flocksync/internal/waitlock"
)

// SessionManager owns the current identity and its lifecycle. It is the
// only component that may set or clear the identity, and it never clears
// it for any reason other than an explicit SignOut.
//
// SessionManager instances are built by [Builder.Build] and are safe for
// concurrent use after [Engine.Start].
type SessionManager struct {
	cfg      SessionConfig
	provider IdentityProvider
	creds    *creds.Adapter
	oracle   ConnectivityOracle
	audit    *internalaudit.Dispatcher
	metrics  *internalmetrics.Metrics
	log      *zap.Logger

	// refreshLock collapses concurrent refresh triggers to one in-flight
	// operation. Bounded wait; a timeout degrades to last known state.
	refreshLock *waitlock.Mutex

	mu          sync.RWMutex
	identity    *Identity
	state       AuthState
	expiryHint  time.Time
	lastRefresh time.Time

	subMu   sync.Mutex
	subs    map[uint64]chan AuthState
	nextSub uint64

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	now       func() time.Time
}

func newSessionManager(
	cfg SessionConfig,
	provider IdentityProvider,
	credsAdapter *creds.Adapter,
	oracle ConnectivityOracle,
	auditDispatcher *internalaudit.Dispatcher,
	m *internalmetrics.Metrics,
	log *zap.Logger,
) *SessionManager {
	return &SessionManager{
		cfg:         cfg,
		provider:    provider,
		creds:       credsAdapter,
		oracle:      oracle,
		audit:       auditDispatcher,
		metrics:     m,
		log:         log,
		refreshLock: waitlock.New(cfg.RefreshLockWait.Std()),
		state:       StateUnauthenticated,
		subs:        make(map[uint64]chan AuthState),
		done:        make(chan struct{}),
		now:         time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// start restores any persisted session and launches the refresh loop. It
// performs no network call; a background refresh is triggered only when a
// persisted identity was adopted while online, and its failure is
// tolerated.
func (m *SessionManager) start(ctx context.Context) error {
	m.restore(ctx)

	m.wg.Add(1)
	go m.run()
	return nil
}

// restore implements the startup protocol: adopt the provider's live local
// session if present, else fall back to the persisted identity blob
// without touching the network.
func (m *SessionManager) restore(ctx context.Context) {
	if m.provider != nil {
		ps, err := m.provider.CurrentSession(ctx)
		if err == nil && ps != nil {
			m.adopt(ps)
			m.persistCurrent(ctx)
			m.metrics.Inc(internalmetrics.MetricIdentityRestored)
			m.emitAudit(ctx, internalaudit.EventIdentityRestored, true, nil, map[string]string{"source": "provider"})
			return
		}
	}

	record, err := m.loadPersisted(ctx)
	if err != nil || record == nil {
		return
	}

	m.mu.Lock()
	m.identity = record.Identity.Clone()
	m.expiryHint = record.ExpiryHint
	m.state = StateAuthenticated
	m.mu.Unlock()
	m.publishState(StateAuthenticated)

	m.metrics.Inc(internalmetrics.MetricIdentityRestored)
	m.emitAudit(ctx, internalaudit.EventIdentityRestored, true, nil, map[string]string{"source": "storage"})

	if m.oracle != nil && m.oracle.Online() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			refreshCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = m.Refresh(refreshCtx)
		}()
	}
}

func (m *SessionManager) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.RefreshInterval.Std())
	defer ticker.Stop()

	var changes <-chan bool
	if m.oracle != nil {
		changes = m.oracle.Changes()
	}

	for {
		select {
		case <-ticker.C:
			m.backgroundRefresh()
		case online, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if online {
				m.backgroundRefresh()
			}
		case <-m.done:
			return
		}
	}
}

func (m *SessionManager) backgroundRefresh() {
	if !m.IsAuthenticated() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Failure is logged inside Refresh and never surfaces as a logout.
	_ = m.Refresh(ctx)
}

// adopt installs the provider session as the current identity and derives
// the expiry hint from the ID token when one is present.
func (m *SessionManager) adopt(ps *ProviderSession) {
	identity := ps.Identity.Clone()
	if identity.LastLogin.IsZero() {
		identity.LastLogin = m.now()
	}

	hint := idtoken.ExpiryHint(ps.IDToken)
	if hint.IsZero() {
		hint = ps.ExpiresAt
	}

	m.mu.Lock()
	m.identity = identity
	m.expiryHint = hint
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.publishState(StateAuthenticated)
}

// CurrentIdentity returns a copy of the active identity, or nil.
func (m *SessionManager) CurrentIdentity() *Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity.Clone()
}

// IsAuthenticated reports whether an identity is active. It holds exactly
// when CurrentIdentity is non-nil.
func (m *SessionManager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity != nil
}

// State returns the current auth state.
func (m *SessionManager) State() AuthState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CurrentSession returns the derived transient session, recomputed from
// identity and provider state.
func (m *SessionManager) CurrentSession() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Session{
		Identity:    m.identity.Clone(),
		ExpiryHint:  m.expiryHint,
		LastRefresh: m.lastRefresh,
	}
}

// AuthStateChanges subscribes to auth state transitions. The returned
// release function must be called when the subscriber is done; deliveries
// to a full subscriber buffer are dropped rather than blocking the
// manager.
func (m *SessionManager) AuthStateChanges() (<-chan AuthState, func()) {
	ch := make(chan AuthState, 8)

	m.subMu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = ch
	m.subMu.Unlock()

	release := func() {
		m.subMu.Lock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
		m.subMu.Unlock()
	}
	return ch, release
}

func (m *SessionManager) publishState(state AuthState) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for _, ch := range m.subs {
		select {
		case ch <- state:
		default:
		}
	}
}

func (m *SessionManager) emitAudit(ctx context.Context, eventType string, success bool, err error, meta map[string]string) {
	if m.audit == nil {
		return
	}

	event := internalaudit.Event{
		Timestamp: m.now(),
		EventType: eventType,
		Success:   success,
		Metadata:  meta,
	}
	if identity := m.CurrentIdentity(); identity != nil {
		event.IdentityID = identity.ID
		event.Email = identity.Email
	}
	if err != nil {
		event.Error = err.Error()
	}
	m.audit.Emit(ctx, event)
}

// close stops the refresh loop and releases all subscribers. Idempotent.
func (m *SessionManager) close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()

		m.subMu.Lock()
		for id, ch := range m.subs {
			delete(m.subs, id)
			close(ch)
		}
		m.subMu.Unlock()
	})
}

// identityRecord is the canonical persisted shape: one versioned JSON blob
// holding the full identity, written identically to both tiers.
type identityRecord struct {
	Version     int       `json:"version"`
	Identity    Identity  `json:"identity"`
	ExpiryHint  time.Time `json:"expiry_hint,omitzero"`
	PersistedAt time.Time `json:"persisted_at"`
}

const identityRecordVersion = 1

// persistCurrent writes the active identity through the credential
// adapter. Failures are recorded and logged; the in-memory identity is
// never affected.
func (m *SessionManager) persistCurrent(ctx context.Context) error {
	m.mu.RLock()
	identity := m.identity.Clone()
	hint := m.expiryHint
	m.mu.RUnlock()

	if identity == nil || m.creds == nil {
		return nil
	}

	record := identityRecord{
		Version:     identityRecordVersion,
		Identity:    *identity,
		ExpiryHint:  hint,
		PersistedAt: m.now(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode identity record: %w", err)
	}

	if err := m.creds.Set(ctx, m.cfg.PersistKey, data); err != nil {
		m.log.Warn("identity persistence failed", zap.Error(err))
		m.emitAudit(ctx, internalaudit.EventStorageFault, false, err, nil)
		return err
	}
	return nil
}

func (m *SessionManager) loadPersisted(ctx context.Context) (*identityRecord, error) {
	if m.creds == nil {
		return nil, nil
	}

	data, err := m.creds.Get(ctx, m.cfg.PersistKey)
	if err != nil {
		if !errors.Is(err, creds.ErrMiss) {
			m.log.Warn("identity restore failed", zap.Error(err))
		}
		return nil, err
	}

	var record identityRecord
	if err := json.Unmarshal(data, &record); err != nil {
		m.log.Warn("persisted identity corrupt", zap.Error(err))
		return nil, err
	}
	if record.Version != identityRecordVersion || record.Identity.ID == "" {
		return nil, nil
	}
	return &record, nil
}

func (m *SessionManager) clearPersisted(ctx context.Context) error {
	if m.creds == nil {
		return nil
	}
	return m.creds.Remove(ctx, m.cfg.PersistKey)
}
