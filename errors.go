package flocksync

import "errors"

var (
	// ErrNetworkUnavailable is returned when an operation requires the
	// network and the connectivity oracle reports offline.
	ErrNetworkUnavailable = errors.New("network unavailable")
	// ErrOfflineUnknownAccount is returned by SignInWithPassword while
	// offline when the supplied email does not match the persisted identity.
	ErrOfflineUnknownAccount = errors.New("offline, unknown account")
	// ErrInvalidCredential is returned when the identity provider rejects
	// the supplied email/password pair.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrAccountNotFound is returned when no account exists for the email.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned by SignUp for an already registered email.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountDisabled is returned when the provider reports the account
	// as disabled or suspended.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrWeakPassword is returned by SignUp when the provider rejects the
	// password as too weak.
	ErrWeakPassword = errors.New("password too weak")
	// ErrRateLimited is returned when the provider throttles the request.
	ErrRateLimited = errors.New("rate limited")
	// ErrTimeout is returned when a bounded wait (lock acquisition or
	// storage deadline) expires during an operation that cannot fall back
	// to last known state.
	ErrTimeout = errors.New("operation timed out")
	// ErrPermissionDenied is returned on a cross-owner access attempt.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrStorageFault is returned when both credential storage tiers fail
	// and no in-memory state exists to fall back to.
	ErrStorageFault = errors.New("credential storage fault")
	// ErrNotFound is returned when a document does not exist, is soft
	// deleted, or is owned by a different identity.
	ErrNotFound = errors.New("document not found")
	// ErrNotAuthenticated is returned by document operations when no
	// identity is active.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrListenerClosed is returned when registering on a closed registry.
	ErrListenerClosed = errors.New("listener registry closed")
	// ErrEngineNotReady is returned when a component is used before Build
	// wired its dependencies.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrUnknown is the classification for failures that match no other
	// taxonomy entry.
	ErrUnknown = errors.New("unknown failure")
)
