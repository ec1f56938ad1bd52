package creds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hillfarm/flocksync/internal/waitlock"
)

var (
	// ErrMiss is returned by a Tier when the key is absent. Adapter treats
	// it as a fall-through signal, not a fault.
	ErrMiss = errors.New("credential key not found")
	// ErrBothTiersFailed is returned when neither tier could serve the
	// operation.
	ErrBothTiersFailed = errors.New("both credential tiers failed")
	// ErrLockTimeout is returned when the adapter's serialization lock
	// could not be acquired within its bound.
	ErrLockTimeout = errors.New("credential storage lock timeout")
)

// Tier is a single key/value persistence layer. Implementations return
// ErrMiss for absent keys and honor ctx deadlines.
type Tier interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Config holds adapter tuning parameters.
type Config struct {
	// OpTimeout bounds every single-tier operation.
	OpTimeout time.Duration
	// LockWait bounds the wait for the per-adapter serialization lock.
	LockWait time.Duration
}

// Adapter implements the two-tier contract over a strong (tier 1) and a
// fallback (tier 2) store. Either tier may be nil; at least one must be
// set.
type Adapter struct {
	strong   Tier
	fallback Tier
	cfg      Config
	lock     *waitlock.Mutex

	// onTierFault, when non-nil, is called with the tier label whenever a
	// tier operation fails but the adapter recovers through the other tier.
	onTierFault func(tier string, err error)
}

// NewAdapter creates an Adapter over the given tiers.
func NewAdapter(strong, fallback Tier, cfg Config, onTierFault func(tier string, err error)) (*Adapter, error) {
	if strong == nil && fallback == nil {
		return nil, errors.New("creds: at least one tier required")
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 3 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	return &Adapter{
		strong:      strong,
		fallback:    fallback,
		cfg:         cfg,
		lock:        waitlock.New(cfg.LockWait),
		onTierFault: onTierFault,
	}, nil
}

func (a *Adapter) fault(tier string, err error) {
	if a.onTierFault != nil {
		a.onTierFault(tier, err)
	}
}

func (a *Adapter) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, a.cfg.OpTimeout)
}

// Set writes tier 1 first; on any tier-1 failure it logs through the fault
// hook and falls through to tier 2. On tier-1 success it still writes
// tier 2 for redundancy. ErrBothTiersFailed is returned only when no tier
// accepted the value.
func (a *Adapter) Set(ctx context.Context, key string, value []byte) error {
	if !a.lock.Acquire(ctx) {
		return ErrLockTimeout
	}
	defer a.lock.Release()

	var strongErr, fallbackErr error

	if a.strong != nil {
		opCtx, cancel := a.bounded(ctx)
		strongErr = a.strong.Set(opCtx, key, value)
		cancel()
		if strongErr != nil {
			a.fault("strong", strongErr)
		}
	} else {
		strongErr = ErrMiss
	}

	if a.fallback != nil {
		opCtx, cancel := a.bounded(ctx)
		fallbackErr = a.fallback.Set(opCtx, key, value)
		cancel()
		if fallbackErr != nil {
			a.fault("fallback", fallbackErr)
		}
	} else {
		fallbackErr = ErrMiss
	}

	if strongErr != nil && fallbackErr != nil {
		return fmt.Errorf("%w: strong: %v; fallback: %v", ErrBothTiersFailed, strongErr, fallbackErr)
	}
	return nil
}

// Get reads tier 1; on miss or failure it reads tier 2. ErrMiss is
// returned when the key exists in neither tier; ErrBothTiersFailed when
// both tiers errored.
func (a *Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	if !a.lock.Acquire(ctx) {
		return nil, ErrLockTimeout
	}
	defer a.lock.Release()

	missed := false

	if a.strong != nil {
		opCtx, cancel := a.bounded(ctx)
		value, err := a.strong.Get(opCtx, key)
		cancel()
		if err == nil {
			return value, nil
		}
		if errors.Is(err, ErrMiss) {
			missed = true
		} else {
			a.fault("strong", err)
		}
	}

	if a.fallback != nil {
		opCtx, cancel := a.bounded(ctx)
		value, err := a.fallback.Get(opCtx, key)
		cancel()
		if err == nil {
			return value, nil
		}
		if errors.Is(err, ErrMiss) {
			return nil, ErrMiss
		}
		a.fault("fallback", err)
		if missed {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrBothTiersFailed, err)
	}

	if missed {
		return nil, ErrMiss
	}
	return nil, ErrBothTiersFailed
}

// Remove clears both tiers independently; a failure on one never blocks
// clearing the other. ErrBothTiersFailed is returned only when every
// configured tier failed.
func (a *Adapter) Remove(ctx context.Context, key string) error {
	if !a.lock.Acquire(ctx) {
		return ErrLockTimeout
	}
	defer a.lock.Release()

	var errs []error

	if a.strong != nil {
		opCtx, cancel := a.bounded(ctx)
		if err := a.strong.Remove(opCtx, key); err != nil && !errors.Is(err, ErrMiss) {
			a.fault("strong", err)
			errs = append(errs, err)
		}
		cancel()
	}
	if a.fallback != nil {
		opCtx, cancel := a.bounded(ctx)
		if err := a.fallback.Remove(opCtx, key); err != nil && !errors.Is(err, ErrMiss) {
			a.fault("fallback", err)
			errs = append(errs, err)
		}
		cancel()
	}

	configured := 0
	if a.strong != nil {
		configured++
	}
	if a.fallback != nil {
		configured++
	}
	if len(errs) == configured {
		return fmt.Errorf("%w: %v", ErrBothTiersFailed, errors.Join(errs...))
	}
	return nil
}
