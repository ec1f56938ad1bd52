package flocksync

import (
	"context"
	"time"

	"go.uber.org/zap"

	internalaudit "github.com/hillfarm/flocksync/internal/audit"
	internalmetrics "github.com/hillfarm/flocksync/internal/metrics"
)

// SignInWithPassword authenticates with an email/password pair.
//
// The email is normalized (trimmed, case-folded) before use. While offline
// the call never touches the network: it succeeds immediately when the
// email matches the identity already held (re-entry while disconnected)
// and fails with [ErrOfflineUnknownAccount] otherwise. Online failures are
// classified into the package taxonomy; raw provider text never escapes.
func (m *SessionManager) SignInWithPassword(ctx context.Context, email, password string) (*AuthResult, error) {
	if m.provider == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidCredential
	}

	if m.oracle != nil && !m.oracle.Online() {
		current := m.CurrentIdentity()
		if current != nil && current.Email == email {
			m.metrics.Inc(internalmetrics.MetricSignInOffline)
			m.emitAudit(ctx, internalaudit.EventSignInOffline, true, nil, nil)
			return &AuthResult{
				Identity:             current,
				RequiresVerification: !current.Verified,
			}, nil
		}
		return nil, ErrOfflineUnknownAccount
	}

	ps, err := m.provider.SignIn(ctx, email, password)
	if err != nil || ps == nil {
		classified := classifyProvider(err)
		if classified == nil {
			classified = ErrUnknown
		}
		m.metrics.Inc(internalmetrics.MetricSignInFailure)
		m.emitAudit(ctx, internalaudit.EventSignInFailure, false, classified, map[string]string{"email": email})
		m.log.Warn("sign in failed", zap.String("email", email), zap.Error(classified))
		return nil, classified
	}

	m.adopt(ps)
	// Persistence failure never fails a sign-in: the identity lives in
	// memory and the fault has already been recorded.
	_ = m.persistCurrent(ctx)

	m.metrics.Inc(internalmetrics.MetricSignInSuccess)
	m.emitAudit(ctx, internalaudit.EventSignInSuccess, true, nil, nil)

	identity := m.CurrentIdentity()
	return &AuthResult{
		Identity:             identity,
		RequiresVerification: identity != nil && !identity.Verified,
	}, nil
}

// SignUp registers a new account. It requires the network and fails fast
// with [ErrNetworkUnavailable] otherwise. On success a verification email
// send is triggered best-effort; its failure is non-fatal. A credential
// storage timeout or double-tier fault during sign-up is reported directly
// as [ErrTimeout] or [ErrStorageFault].
func (m *SessionManager) SignUp(ctx context.Context, email, password string) (*AuthResult, error) {
	if m.provider == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidCredential
	}

	if m.oracle != nil && !m.oracle.Online() {
		return nil, ErrNetworkUnavailable
	}

	ps, err := m.provider.SignUp(ctx, email, password)
	if err != nil || ps == nil {
		classified := classifyProvider(err)
		if classified == nil {
			classified = ErrUnknown
		}
		m.metrics.Inc(internalmetrics.MetricSignUpFailure)
		m.emitAudit(ctx, internalaudit.EventSignUpFailure, false, classified, map[string]string{"email": email})
		return nil, classified
	}

	if err := m.provider.SendVerification(ctx); err != nil {
		m.log.Warn("verification email send failed", zap.Error(err))
	}

	m.adopt(ps)
	if err := m.persistCurrent(ctx); err != nil {
		if storageErr := classifyStorage(err); storageErr != nil {
			m.metrics.Inc(internalmetrics.MetricSignUpFailure)
			return nil, storageErr
		}
	}

	m.metrics.Inc(internalmetrics.MetricSignUpSuccess)
	m.emitAudit(ctx, internalaudit.EventSignUpSuccess, true, nil, nil)

	identity := m.CurrentIdentity()
	return &AuthResult{
		Identity:             identity,
		RequiresVerification: identity != nil && !identity.Verified,
	}, nil
}

// SignInWithFederated authenticates through a federated provider token.
// There is no offline re-entry path for federated sign-in; it requires the
// network.
func (m *SessionManager) SignInWithFederated(ctx context.Context, providerID, token string) (*AuthResult, error) {
	if m.provider == nil {
		return nil, ErrEngineNotReady
	}
	if m.oracle != nil && !m.oracle.Online() {
		return nil, ErrNetworkUnavailable
	}

	ps, err := m.provider.FederatedSignIn(ctx, providerID, token)
	if err != nil || ps == nil {
		classified := classifyProvider(err)
		if classified == nil {
			classified = ErrUnknown
		}
		m.metrics.Inc(internalmetrics.MetricSignInFailure)
		m.emitAudit(ctx, internalaudit.EventSignInFailure, false, classified, map[string]string{"provider": providerID})
		return nil, classified
	}

	m.adopt(ps)
	_ = m.persistCurrent(ctx)

	m.metrics.Inc(internalmetrics.MetricSignInSuccess)
	m.emitAudit(ctx, internalaudit.EventSignInSuccess, true, nil, map[string]string{"provider": providerID})

	identity := m.CurrentIdentity()
	return &AuthResult{
		Identity:             identity,
		RequiresVerification: identity != nil && !identity.Verified,
	}, nil
}

// SignOut clears the in-memory identity and both storage tiers
// unconditionally; it is the only path that transitions Authenticated to
// Unauthenticated. The provider is contacted best-effort and only while
// online. Storage timeouts and double-tier faults are reported as
// [ErrTimeout] / [ErrStorageFault] after the local state is already
// cleared.
func (m *SessionManager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	previous := m.identity.Clone()
	m.identity = nil
	m.expiryHint = time.Time{}
	m.state = StateUnauthenticated
	m.mu.Unlock()
	m.publishState(StateUnauthenticated)

	storageErr := m.clearPersisted(ctx)

	if m.provider != nil && (m.oracle == nil || m.oracle.Online()) {
		if err := m.provider.SignOut(ctx); err != nil {
			m.log.Warn("provider sign out failed", zap.Error(err))
		}
	}

	event := internalaudit.Event{
		Timestamp: m.now(),
		EventType: internalaudit.EventSignOut,
		Success:   storageErr == nil,
	}
	if previous != nil {
		event.IdentityID = previous.ID
		event.Email = previous.Email
	}
	if storageErr != nil {
		event.Error = storageErr.Error()
	}
	m.audit.Emit(ctx, event)
	m.metrics.Inc(internalmetrics.MetricSignOut)

	return classifyStorage(storageErr)
}

// SendVerification asks the provider to (re)send the verification email
// for the active identity. Requires the network.
func (m *SessionManager) SendVerification(ctx context.Context) error {
	if m.provider == nil {
		return ErrEngineNotReady
	}
	if !m.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	if m.oracle != nil && !m.oracle.Online() {
		return ErrNetworkUnavailable
	}
	if err := m.provider.SendVerification(ctx); err != nil {
		return classifyProvider(err)
	}
	return nil
}

// SendPasswordReset asks the provider to send a password reset email.
// Requires the network.
func (m *SessionManager) SendPasswordReset(ctx context.Context, email string) error {
	if m.provider == nil {
		return ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if email == "" {
		return ErrInvalidCredential
	}
	if m.oracle != nil && !m.oracle.Online() {
		return ErrNetworkUnavailable
	}
	if err := m.provider.SendPasswordReset(ctx, email); err != nil {
		return classifyProvider(err)
	}
	return nil
}
