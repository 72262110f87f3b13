// Package retry applies bounded exponential backoff to remote operations.
//
// The policy is classification-aware: only transient failures are retried;
// terminal failures and conflicts return to the caller immediately, which
// then degrades to the local store or re-resolves respectively. Backoff
// delays run on the background remote path only and never block a local
// write.
package retry

import (
	"context"
	"time"

	"github.com/kastlog/kastlog/internal/store"
)

// DefaultMaxAttempts bounds retries when the policy doesn't override it.
const DefaultMaxAttempts = 3

// DefaultBaseDelay seeds the exponential backoff sequence.
const DefaultBaseDelay = 500 * time.Millisecond

// Policy configures bounded exponential backoff.
type Policy struct {
	// MaxAttempts is the total number of executions, first try included.
	MaxAttempts int

	// BaseDelay is the wait before the first retry; each subsequent
	// retry doubles it.
	BaseDelay time.Duration

	// Sleep waits for the given duration or until ctx is cancelled.
	// Nil uses a timer-backed default. Tests inject their own to run
	// instantly and record the requested delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default returns the standard policy: 3 attempts, 500ms base delay.
func Default() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Do executes fn up to MaxAttempts times.
//
// Transient failures back off BaseDelay * 2^(attempt-1) and retry.
// Terminal and conflict classifications return immediately. After the
// attempts are exhausted the last error is returned; the sync engine then
// falls back to the local store.
//
// Cancellation of ctx aborts the backoff sleep and returns promptly; the
// abandoned operation is not rolled back. Re-issuing it later is safe
// because every remote operation is idempotent at the record level.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepTimer
	}

	var lastErr error
	delay := base
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !store.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
	return lastErr
}

func sleepTimer(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
