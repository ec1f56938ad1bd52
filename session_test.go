package flocksync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hillfarm/flocksync/creds"
)

func TestSignInWithPasswordSuccess(t *testing.T) {
	provider := newFakeProvider()
	provider.addAccount("uid-1", "alice@example.com", "hunter2", true)
	engine := newTestEngine(t, engineOpts{provider: provider})
	mustStart(t, engine)

	identity := mustSignIn(t, engine, "  Alice@Example.COM ", "hunter2")
	if identity.ID != "uid-1" {
		t.Fatalf("identity ID = %q, want uid-1", identity.ID)
	}
	if !engine.Session().IsAuthenticated() {
		t.Fatal("IsAuthenticated() = false after successful sign in")
	}
	if got := engine.Session().State(); got != StateAuthenticated {
		t.Fatalf("State() = %v, want StateAuthenticated", got)
	}
}

func TestSignInWrongPasswordLeavesStateUntouched(t *testing.T) {
	provider := newFakeProvider()
	provider.addAccount("uid-1", "alice@example.com", "hunter2", true)
	engine := newTestEngine(t, engineOpts{provider: provider})
	mustStart(t, engine)
	mustSignIn(t, engine, "alice@example.com", "hunter2")

	_, err := engine.Session().SignInWithPassword(context.Background(), "alice@example.com", "wrong")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("error = %v, want ErrInvalidCredential", err)
	}
	if !engine.Session().IsAuthenticated() {
		t.Fatal("failed sign in attempt cleared the existing identity")
	}
}

func TestSignInUnknownAccount(t *testing.T) {
	engine := newTestEngine(t, engineOpts{})
	mustStart(t, engine)

	_, err := engine.Session().SignInWithPassword(context.Background(), "nobody@example.com", "pw")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("error = %v, want ErrAccountNotFound", err)
	}
}

func TestOfflineSignInReentry(t *testing.T) {
	provider := newFakeProvider()
	provider.addAccount("uid-1", "alice@example.com", "hunter2", true)
	oracle := newFakeOracle(true)
	engine := newTestEngine(t, engineOpts{provider: provider, oracle: oracle})
	mustStart(t, engine)
	mustSignIn(t, engine, "alice@example.com", "hunter2")

	oracle.set(false)
	signIns := provider.signIns

	res, err := engine.Session().SignInWithPassword(context.Background(), "alice@example.com", "anything")
	if err != nil {
		t.Fatalf("offline re-entry failed: %v", err)
	}
	if res.Identity.ID != "uid-1" {
		t.Fatalf("offline re-entry identity = %q, want uid-1", res.Identity.ID)
	}
	if provider.signIns != signIns {
		t.Fatal("offline re-entry touched the network provider")
	}

	_, err = engine.Session().SignInWithPassword(context.Background(), "other@example.com", "pw")
	if !errors.Is(err, ErrOfflineUnknownAccount) {
		t.Fatalf("offline unknown email error = %v, want ErrOfflineUnknownAccount", err)
	}
}

func TestRestartOfflineRetainsIdentity(t *testing.T) {
	strong := creds.NewMemTier()
	provider := newFakeProvider()
	provider.addAccount("uid-1", "alice@example.com", "hunter2", true)
	engine := newTestEngine(t, engineOpts{provider: provider, strong: strong})
	mustStart(t, engine)
	mustSignIn(t, engine, "alice@example.com", "hunter2")
	engine.Close()

	// A fresh process: new provider with no live local session, offline
	// network, same credential storage.
	restarted := newTestEngine(t, engineOpts{
		provider: newFakeProvider(),
		oracle:   newFakeOracle(false),
		strong:   strong,
	})
	mustStart(t, restarted)

	identity := restarted.Session().CurrentIdentity()
	if identity == nil {
		t.Fatal("identity not restored from storage after offline restart")
	}
	if identity.ID != "uid-1" || identity.Email != "alice@example.com" {
		t.Fatalf("restored identity = %+v, want uid-1/alice@example.com", identity)
	}
	if !restarted.Session().IsAuthenticated() {
		t.Fatal("IsAuthenticated() = false after restore")
	}
}

func TestRestartPrefersProviderSession(t *testing.T) {
	strong := creds.NewMemTier()
	provider := newFakeProvider()
	provider.addAccount("uid-1", "alice@example.com", "hunter2", true)
	provider.current = &ProviderSession{Identity: Identity{ID: "uid-1", Email: "alice@example.com", Verified: true}}

	engine := newTestEngine(t, engineOpts{provider: provider, strong: strong})
	mustStart(t, engine)

	if got := engine.Session().CurrentIdentity(); got == nil || got.ID != "uid-1" {
		t.Fatalf("CurrentIdentity() = %+v, want provider session uid-1", got)
	}
}

func TestRefreshFailureRetainsIdentity(t *testing.T) {
	provider := newFakeProvider()
	provider.addAccount("uid-1", "alice@example.com", "hunter2", true)
	engine := newTestEngine(t, engineOpts{provider: provider})
	mustStart(t, engine)
	mustSignIn(t, engine, "alice@example.com", "hunter2")

	provider.mu.Lock()
	provider.refreshErr = errors.New("token revoked upstream")
	provider.mu.Unlock()

	err := engine.Session().Refresh(context.Background())
	if err == nil {
		t.Fatal("Refresh() = nil, want classified error")
	}
	if !engine.Session().IsAuthenticated() {
		t.Fatal("refresh failure logged the user out")
	}
	if got := engine.Session().State(); got != StateAuthenticated {
		t.Fatalf("State() after failed refresh = %v, want StateAuthenticated", got)
	}
}

func TestRefreshSkippedOffline(t *testing.T) {
	provider := newFakeProvider()
	provider.addAccount("uid-1", "alice@example.com", "hunter2", true)
	oracle := newFakeOracle(true)
	engine := newTestEngine(t, engineOpts{provider: provider, oracle: oracle})
	mustStart(t, engine)
	mustSignIn(t, engine, "alice@example.com", "hunter2")

	oracle.set(false)
	refreshes := provider.refreshes
	if err := engine.Session().Refresh(context.Background()); err != nil {
		t.Fatalf("offline Refresh() = %v, want nil", err)
	}
	if provider.refreshes != refreshes {
		t.Fatal("offline refresh contacted the provider")
	}
	if !engine.Session().IsAuthenticated() {
		t.Fatal("offline refresh changed authentication state")
	}
}

func TestSignOutClearsEverything(t *testing.T) {
	strong := creds.NewMemTier()
	provider := newFakeProvider()
	provider.addAccount("uid-1", "alice@example.com", "hunter2", true)
	engine := newTestEngine(t, engineOpts{provider: provider, strong: strong})
	mustStart(t, engine)
	mustSignIn(t, engine, "alice@example.com", "hunter2")

	if err := engine.Session().SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut() failed: %v", err)
	}
	if engine.Session().IsAuthenticated() {
		t.Fatal("still authenticated after SignOut")
	}
	if engine.Session().CurrentIdentity() != nil {
		t.Fatal("identity survived SignOut")
	}

	// A restart must not resurrect the session.
	restarted := newTestEngine(t, engineOpts{
		provider: newFakeProvider(),
		oracle:   newFakeOracle(false),
		strong:   strong,
	})
	mustStart(t, restarted)
	if restarted.Session().IsAuthenticated() {
		t.Fatal("signed-out identity restored after restart")
	}
}

func TestSignOutWorksOffline(t *testing.T) {
	provider := newFakeProvider()
	provider.addAccount("uid-1", "alice@example.com", "hunter2", true)
	oracle := newFakeOracle(true)
	engine := newTestEngine(t, engineOpts{provider: provider, oracle: oracle})
	mustStart(t, engine)
	mustSignIn(t, engine, "alice@example.com", "hunter2")

	oracle.set(false)
	if err := engine.Session().SignOut(context.Background()); err != nil {
		t.Fatalf("offline SignOut() failed: %v", err)
	}
	if engine.Session().IsAuthenticated() {
		t.Fatal("still authenticated after offline SignOut")
	}
	if provider.signOuts != 0 {
		t.Fatal("offline SignOut contacted the provider")
	}
}

func TestSignUpOfflineFailsFast(t *testing.T) {
	engine := newTestEngine(t, engineOpts{oracle: newFakeOracle(false)})
	mustStart(t, engine)

	_, err := engine.Session().SignUp(context.Background(), "new@example.com", "hunter2")
	if !errors.Is(err, ErrNetworkUnavailable) {
		t.Fatalf("offline SignUp error = %v, want ErrNetworkUnavailable", err)
	}
}

func TestSignUpSendsVerification(t *testing.T) {
	provider := newFakeProvider()
	engine := newTestEngine(t, engineOpts{provider: provider})
	mustStart(t, engine)

	res, err := engine.Session().SignUp(context.Background(), "new@example.com", "hunter2")
	if err != nil {
		t.Fatalf("SignUp() failed: %v", err)
	}
	if !res.RequiresVerification {
		t.Fatal("fresh account should require verification")
	}
	if provider.verifies != 1 {
		t.Fatalf("verification sends = %d, want 1", provider.verifies)
	}
	if !engine.Session().IsAuthenticated() {
		t.Fatal("not authenticated after SignUp")
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	provider := newFakeProvider()
	provider.addAccount("uid-1", "alice@example.com", "hunter2", true)
	engine := newTestEngine(t, engineOpts{provider: provider})
	mustStart(t, engine)

	_, err := engine.Session().SignUp(context.Background(), "alice@example.com", "hunter2")
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("duplicate SignUp error = %v, want ErrAccountExists", err)
	}
}

func TestAuthStateChanges(t *testing.T) {
	provider := newFakeProvider()
	provider.addAccount("uid-1", "alice@example.com", "hunter2", true)
	engine := newTestEngine(t, engineOpts{provider: provider})
	mustStart(t, engine)

	states, cancel := engine.Session().AuthStateChanges()
	defer cancel()

	mustSignIn(t, engine, "alice@example.com", "hunter2")
	if got := waitState(t, states); got != StateAuthenticated {
		t.Fatalf("first transition = %v, want StateAuthenticated", got)
	}

	if err := engine.Session().SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut() failed: %v", err)
	}
	if got := waitState(t, states); got != StateUnauthenticated {
		t.Fatalf("second transition = %v, want StateUnauthenticated", got)
	}
}

func waitState(t *testing.T, ch <-chan AuthState) AuthState {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for auth state transition")
		return StateUnauthenticated
	}
}

func TestSendPasswordReset(t *testing.T) {
	provider := newFakeProvider()
	engine := newTestEngine(t, engineOpts{provider: provider})
	mustStart(t, engine)

	if err := engine.Session().SendPasswordReset(context.Background(), " Bob@Example.com "); err != nil {
		t.Fatalf("SendPasswordReset() failed: %v", err)
	}
	if len(provider.resetsSent) != 1 || provider.resetsSent[0] != "bob@example.com" {
		t.Fatalf("resets sent = %v, want [bob@example.com]", provider.resetsSent)
	}
}

func TestSessionExpiryHintFromProvider(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	provider := newFakeProvider()
	provider.current = &ProviderSession{
		Identity:  Identity{ID: "uid-1", Email: "alice@example.com", Verified: true},
		ExpiresAt: exp,
	}
	engine := newTestEngine(t, engineOpts{provider: provider})
	mustStart(t, engine)

	got := engine.Session().CurrentSession()
	if !got.ExpiryHint.Equal(exp) {
		t.Fatalf("ExpiryHint = %v, want %v", got.ExpiryHint, exp)
	}
	// The hint is advisory: a stale hint never invalidates the session.
	if got.Identity == nil {
		t.Fatal("session missing identity")
	}
}
