package flocksync

import (
	"context"

	"go.uber.org/zap"

	"github.com/hillfarm/flocksync/idtoken"
	internalaudit "github.com/hillfarm/flocksync/internal/audit"
	internalmetrics "github.com/hillfarm/flocksync/internal/metrics"
)

// Refresh revalidates the current identity with the provider.
//
// Concurrent triggers collapse to one in-flight refresh behind a bounded
// lock; a lock timeout degrades to returning the last known state. The
// refresh is skipped entirely while offline. A refresh failure is logged
// and returned for observability, but the identity is always retained:
// refresh can never log the user out.
func (m *SessionManager) Refresh(ctx context.Context) error {
	if m.provider == nil {
		return ErrEngineNotReady
	}

	if !m.refreshLock.Acquire(ctx) {
		// Another refresh is in flight or the bound expired; last known
		// state stands.
		m.log.Debug("refresh lock not acquired, keeping last known state")
		return nil
	}
	defer m.refreshLock.Release()

	if !m.IsAuthenticated() {
		return nil
	}

	if m.oracle != nil && !m.oracle.Online() {
		m.metrics.Inc(internalmetrics.MetricRefreshSkipped)
		return nil
	}

	m.setState(StateReauthenticating)

	ps, err := m.provider.Refresh(ctx)
	if err != nil || ps == nil {
		classified := classifyProvider(err)
		if classified == nil {
			classified = ErrUnknown
		}
		// Identity retained; the session simply returns to Authenticated.
		m.setState(StateAuthenticated)
		m.metrics.Inc(internalmetrics.MetricRefreshFailure)
		m.emitAudit(ctx, internalaudit.EventRefreshFailure, false, classified, nil)
		m.log.Warn("refresh failed, identity retained", zap.Error(classified))
		return classified
	}

	m.applyRefresh(ps)
	_ = m.persistCurrent(ctx)

	m.metrics.Inc(internalmetrics.MetricRefreshSuccess)
	m.emitAudit(ctx, internalaudit.EventRefreshSuccess, true, nil, nil)
	return nil
}

// applyRefresh merges refreshed provider state into the current identity.
// The identity id never changes on refresh.
func (m *SessionManager) applyRefresh(ps *ProviderSession) {
	m.mu.Lock()
	if m.identity == nil {
		m.mu.Unlock()
		return
	}

	if ps.Identity.Email != "" {
		m.identity.Email = normalizeEmail(ps.Identity.Email)
	}
	if ps.Identity.DisplayName != "" {
		m.identity.DisplayName = ps.Identity.DisplayName
	}
	m.identity.Verified = ps.Identity.Verified
	m.lastRefresh = m.now()
	if hint := idtoken.ExpiryHint(ps.IDToken); !hint.IsZero() {
		m.expiryHint = hint
	} else if !ps.ExpiresAt.IsZero() {
		m.expiryHint = ps.ExpiresAt
	}
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.publishState(StateAuthenticated)
}

func (m *SessionManager) setState(state AuthState) {
	m.mu.Lock()
	changed := m.state != state
	m.state = state
	m.mu.Unlock()

	if changed {
		m.publishState(state)
	}
}
