package flocksync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hillfarm/flocksync/creds"
	"github.com/hillfarm/flocksync/store"
)

func TestClassifyProviderSentinelsPassThrough(t *testing.T) {
	wrapped := fmt.Errorf("provider: %w", ErrAccountDisabled)
	if got := classifyProvider(wrapped); got != ErrAccountDisabled {
		t.Fatalf("classifyProvider(wrapped sentinel) = %v", got)
	}
	if got := classifyProvider(nil); got != nil {
		t.Fatalf("classifyProvider(nil) = %v", got)
	}
}

func TestClassifyProviderMessageMatching(t *testing.T) {
	cases := []struct {
		msg  string
		want error
	}{
		{"auth/wrong-password", ErrInvalidCredential},
		{"INVALID LOGIN credentials", ErrInvalidCredential},
		{"auth/user-not-found", ErrAccountNotFound},
		{"auth/email-already-in-use", ErrAccountExists},
		{"account disabled by administrator", ErrAccountDisabled},
		{"auth/weak-password", ErrWeakPassword},
		{"auth/too-many-requests", ErrRateLimited},
		{"dial tcp: connection refused", ErrNetworkUnavailable},
		{"request timeout", ErrTimeout},
		{"something else entirely", ErrUnknown},
	}
	for _, tc := range cases {
		if got := classifyProvider(errors.New(tc.msg)); got != tc.want {
			t.Errorf("classifyProvider(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

func TestClassifyProviderDeadline(t *testing.T) {
	if got := classifyProvider(context.DeadlineExceeded); got != ErrTimeout {
		t.Fatalf("classifyProvider(DeadlineExceeded) = %v", got)
	}
}

func TestClassifyStore(t *testing.T) {
	cases := []struct {
		code store.Code
		want error
	}{
		{store.CodeNotFound, ErrNotFound},
		{store.CodePermissionDenied, ErrPermissionDenied},
		{store.CodeDeadlineExceeded, ErrTimeout},
		{store.CodeUnavailable, ErrNetworkUnavailable},
		{store.CodeInternal, ErrUnknown},
	}
	for _, tc := range cases {
		err := store.NewError(tc.code, "boom", nil)
		if got := classifyStore(err); got != tc.want {
			t.Errorf("classifyStore(%v) = %v, want %v", tc.code, got, tc.want)
		}
	}
	if got := classifyStore(errors.New("not a store error")); got != ErrUnknown {
		t.Fatalf("classifyStore(plain error) = %v", got)
	}
}

func TestClassifyStorage(t *testing.T) {
	if got := classifyStorage(creds.ErrLockTimeout); got != ErrTimeout {
		t.Fatalf("lock timeout = %v", got)
	}
	if got := classifyStorage(creds.ErrBothTiersFailed); got != ErrStorageFault {
		t.Fatalf("both tiers failed = %v", got)
	}
	if got := classifyStorage(creds.ErrMiss); got != nil {
		t.Fatalf("miss should not be a fault, got %v", got)
	}
	if got := classifyStorage(errors.New("disk on fire")); got != ErrStorageFault {
		t.Fatalf("unknown storage error = %v", got)
	}
}
