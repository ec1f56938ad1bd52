// Package retry implements the bounded retry policy applied to remote
// document operations.
//
// Only the fixed transient signatures defined by the store contract
// (unavailable, deadline-exceeded, internal, resource-exhausted) are
// retried; every other failure is surfaced immediately. Backoff is
// exponential with a capped attempt count.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hillfarm/flocksync/store"
)

// Config holds retry tuning parameters.
type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// Policy retries transient store failures with exponential backoff.
type Policy struct {
	cfg     Config
	onRetry func()
}

// New creates a Policy. onRetry, when non-nil, is invoked once per retry
// attempt (not for the initial call) so callers can count attempts.
func New(cfg Config, onRetry func()) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 250 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2
	}
	return &Policy{cfg: cfg, onRetry: onRetry}
}

// Do runs op, retrying transient failures until the attempt budget or ctx
// is exhausted. The last error is returned unwrapped of retry bookkeeping.
func (p *Policy) Do(ctx context.Context, op func() error) error {
	if p == nil {
		return op()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.InitialInterval
	bo.MaxInterval = p.cfg.MaxInterval
	bo.Multiplier = p.cfg.Multiplier
	bo.MaxElapsedTime = 0

	attempts := uint64(p.cfg.MaxAttempts - 1)
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !store.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(error, time.Duration) {
		if p.onRetry != nil {
			p.onRetry()
		}
	}

	return backoff.RetryNotify(
		wrapped,
		backoff.WithContext(backoff.WithMaxRetries(bo, attempts), ctx),
		notify,
	)
}

// DoOnce runs op a single time with no retries. Used while offline, where
// retrying cannot help and durability is the store's own job.
func (p *Policy) DoOnce(_ context.Context, op func() error) error {
	return op()
}
