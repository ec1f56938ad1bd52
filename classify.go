package flocksync

import (
	"context"
	"errors"
	"strings"

	"github.com/hillfarm/flocksync/creds"
	"github.com/hillfarm/flocksync/store"
)

// classifyProvider is the single translation boundary wrapped around every
// identity provider call. Provider-specific failures never escape it: the
// result is always one of the package sentinel errors, so callers can
// switch on errors.Is against a closed set.
func classifyProvider(err error) error {
	if err == nil {
		return nil
	}

	// Providers that already speak the taxonomy pass straight through.
	for _, sentinel := range []error{
		ErrNetworkUnavailable,
		ErrInvalidCredential,
		ErrAccountNotFound,
		ErrAccountExists,
		ErrAccountDisabled,
		ErrWeakPassword,
		ErrRateLimited,
		ErrTimeout,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	// Well-known provider error code substrings, matched case-insensitively.
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "wrong-password", "invalid-credential", "invalid password", "invalid login"):
		return ErrInvalidCredential
	case containsAny(msg, "user-not-found", "no such user", "account not found"):
		return ErrAccountNotFound
	case containsAny(msg, "email-already-in-use", "already exists", "duplicate"):
		return ErrAccountExists
	case containsAny(msg, "user-disabled", "account disabled", "suspended"):
		return ErrAccountDisabled
	case containsAny(msg, "weak-password", "password too short"):
		return ErrWeakPassword
	case containsAny(msg, "too-many-requests", "rate limit", "quota"):
		return ErrRateLimited
	case containsAny(msg, "network", "unreachable", "connection refused", "no route"):
		return ErrNetworkUnavailable
	case containsAny(msg, "timeout", "deadline"):
		return ErrTimeout
	default:
		return ErrUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// classifyStore maps a store failure to the taxonomy for surfaces that
// report errors (the read path largely degrades to empty instead).
func classifyStore(err error) error {
	if err == nil {
		return nil
	}
	switch store.CodeOf(err) {
	case store.CodeNotFound:
		return ErrNotFound
	case store.CodePermissionDenied:
		return ErrPermissionDenied
	case store.CodeDeadlineExceeded:
		return ErrTimeout
	case store.CodeUnavailable:
		return ErrNetworkUnavailable
	default:
		return ErrUnknown
	}
}

// classifyStorage maps credential adapter failures for the sign-up and
// sign-out paths, the only surfaces where storage faults are reported
// directly instead of degrading to last known state.
func classifyStorage(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, creds.ErrLockTimeout):
		return ErrTimeout
	case errors.Is(err, creds.ErrBothTiersFailed):
		return ErrStorageFault
	case errors.Is(err, creds.ErrMiss):
		return nil
	default:
		return ErrStorageFault
	}
}
