package github

import (
	"context"
	"math/rand"
	"time"
)

const (
	// DefaultMaxAttempts is the per-call retry budget.
	DefaultMaxAttempts = 4

	// DefaultBaseDelay is the first backoff interval.
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultMaxDelay caps the exponential backoff.
	DefaultMaxDelay = 8 * time.Second
)

// RetryPolicy wraps a call with bounded retries. Transient errors (network,
// 5xx) back off exponentially with jitter; rate-limit errors wait for the
// quota reset through the limiter instead; everything else returns
// immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	limiter *RateLimiter
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func(d time.Duration) time.Duration
}

// NewRetryPolicy creates a policy with the default bounds. The limiter is
// consulted when a call fails with a rate-limit error.
func NewRetryPolicy(limiter *RateLimiter) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		limiter:     limiter,
		sleep:       sleepCtx,
		jitter:      fullJitter,
	}
}

// fullJitter returns a random duration in [d/2, d).
func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)))
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. It reports how many attempts were made.
func (p *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (attempts int, err error) {
	delay := p.BaseDelay
	for attempts = 1; ; attempts++ {
		err = fn(ctx)
		if err == nil {
			return attempts, nil
		}
		if attempts >= p.MaxAttempts {
			return attempts, err
		}

		switch {
		case IsRateLimited(err):
			// Quota exhaustion: wait for the reset, don't burn the
			// backoff schedule on it.
			if p.limiter != nil {
				if werr := p.limiter.WaitForReset(ctx); werr != nil {
					return attempts, werr
				}
			}
		case IsTransient(err):
			if serr := p.sleep(ctx, p.jitter(delay)); serr != nil {
				return attempts, serr
			}
			delay *= 2
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		default:
			return attempts, err
		}

		if cerr := ctx.Err(); cerr != nil {
			return attempts, cerr
		}
	}
}
