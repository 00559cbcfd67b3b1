package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultQuotaBuffer is the remaining-quota floor below which the
	// limiter waits for the reset instead of issuing further calls.
	DefaultQuotaBuffer = 10

	// DefaultPace is the client-side request pacing (requests per second).
	// GitHub's secondary limits punish bursts well before the hourly
	// quota runs out, so calls are smoothed even when quota is plentiful.
	DefaultPace = 8.0

	// DefaultWaitCeiling bounds how long the limiter will sleep for a
	// quota reset before giving up with ErrRateLimited.
	DefaultWaitCeiling = 30 * time.Minute
)

// RateLimiter tracks the authenticated identity's remaining API quota and
// gates outbound calls. The remote's own counters are authoritative: the
// state is overwritten from every response's rate-limit headers (last
// response wins).
type RateLimiter struct {
	mu        sync.Mutex
	remaining int
	resetAt   time.Time
	known     bool // headers seen at least once

	pacer       *rate.Limiter
	buffer      int
	waitCeiling time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter creates a limiter with the default buffer and pacing.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		pacer:       rate.NewLimiter(rate.Limit(DefaultPace), 1),
		buffer:      DefaultQuotaBuffer,
		waitCeiling: DefaultWaitCeiling,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetPace adjusts the client-side pacing.
func (r *RateLimiter) SetPace(rps float64, burst int) {
	r.pacer = rate.NewLimiter(rate.Limit(rps), burst)
}

// Wait blocks until a call may be issued: first until remaining quota is
// above the safety buffer (or the reset time passes), then through the
// client-side pacer. Returns ErrRateLimited if the required wait exceeds
// the ceiling, or the context error on cancellation.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		wait := time.Duration(0)
		if r.known && r.remaining <= r.buffer {
			if until := r.resetAt.Sub(r.now()); until > 0 {
				wait = until
			} else {
				// Reset time passed; assume the window rolled over.
				r.known = false
			}
		}
		r.mu.Unlock()

		if wait == 0 {
			break
		}
		if wait > r.waitCeiling {
			return fmt.Errorf("%w: reset in %s exceeds wait ceiling %s", ErrRateLimited, wait.Round(time.Second), r.waitCeiling)
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}

	return r.pacer.Wait(ctx)
}

// WaitForReset blocks until the recorded reset time, regardless of the
// remaining counter. Used when the remote has already rejected a call as
// rate-limited.
func (r *RateLimiter) WaitForReset(ctx context.Context) error {
	r.mu.Lock()
	wait := r.resetAt.Sub(r.now())
	r.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	if wait > r.waitCeiling {
		return fmt.Errorf("%w: reset in %s exceeds wait ceiling %s", ErrRateLimited, wait.Round(time.Second), r.waitCeiling)
	}
	return r.sleep(ctx, wait)
}

// Update refreshes the quota state from a response's rate-limit headers.
// Responses without the headers leave the state untouched.
func (r *RateLimiter) Update(h http.Header) {
	rem := h.Get("X-RateLimit-Remaining")
	if rem == "" {
		return
	}
	remaining, err := strconv.Atoi(rem)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = remaining
	r.known = true
	if reset := h.Get("X-RateLimit-Reset"); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			r.resetAt = time.Unix(epoch, 0)
		}
	}
}

// Remaining reports the last-seen remaining quota and its reset time.
// The boolean is false until headers have been observed.
func (r *RateLimiter) Remaining() (int, time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining, r.resetAt, r.known
}
