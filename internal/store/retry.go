package store

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how often and how long a transient failure is retried.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  5,
		BaseDelay: 20 * time.Millisecond,
		MaxDelay:  1 * time.Second,
	}
}

// Retry runs fn until it succeeds, returns a non-transient error, or the
// policy is exhausted. Delays grow exponentially with jitter.
//
// Exhausting the policy returns a StorageUnavailable error wrapping the last
// transient failure. Cancelling ctx stops the loop with ctx.Err().
func Retry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultRetryPolicy().BaseDelay
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = policy.BaseDelay
	}

	var last error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff(policy, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn(ctx)
		if err == nil || !IsTransient(err) {
			return err
		}
		last = err
	}

	se := &StorageError{Code: ErrCodeStorageUnavailable, Err: last}
	var prev *StorageError
	if asStorageError(last, &prev) {
		se.Path = prev.Path
		se.Evidence = prev.Evidence
	}
	return se
}

// backoff returns base*2^(attempt-1) capped at max, with up to 50% jitter.
func backoff(p RetryPolicy, attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	return time.Duration(half + rand.Int64N(half+1))
}
