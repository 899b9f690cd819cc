package telegram

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// Token bucket in front of every outgoing Bot API call. Telegram allows
// roughly 30 messages per second per bot; a 429 carries retry_after, and
// the bucket stays shut for that long.
// ══════════════════════════════════════════════════════════════════════════════

// ErrRateLimitWait is returned when the next token is further away than
// the caller's deadline.
var ErrRateLimitWait = errors.New("telegram: rate limit wait exceeds deadline")

// RateLimiterConfig contains configuration for the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained rate.
	RequestsPerSecond float64

	// Burst is the bucket size.
	Burst int

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// DefaultRateLimiterConfig stays just under the global Bot API limit.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 25,
		Burst:             30,
	}
}

// RateLimiter is a token bucket.
type RateLimiter struct {
	mu sync.Mutex

	rate       float64
	maxTokens  float64
	tokens     float64
	lastRefill time.Time
	pausedTill time.Time
	now        func() time.Time
}

// NewRateLimiter creates a full bucket.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &RateLimiter{
		rate:       cfg.RequestsPerSecond,
		maxTokens:  float64(cfg.Burst),
		tokens:     float64(cfg.Burst),
		lastRefill: cfg.Now(),
		now:        cfg.Now,
	}
}

// Wait blocks until a token is available or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait, ok := rl.reserve()
		if ok {
			return nil
		}
		if deadline, has := ctx.Deadline(); has && time.Until(deadline) < wait {
			return ErrRateLimitWait
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Allow takes a token without blocking.
func (rl *RateLimiter) Allow() bool {
	_, ok := rl.reserve()
	return ok
}

// Pause empties the bucket and refuses tokens for d. Used when the API
// answers 429 with retry_after.
func (rl *RateLimiter) Pause(d time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = 0
	if until := rl.now().Add(d); until.After(rl.pausedTill) {
		rl.pausedTill = until
	}
	rl.lastRefill = rl.pausedTill
}

// reserve consumes a token or reports how long until one is available.
func (rl *RateLimiter) reserve() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.pausedTill) {
		return rl.pausedTill.Sub(now), false
	}
	rl.refill(now)

	if rl.tokens >= 1 {
		rl.tokens--
		return 0, true
	}
	if rl.rate <= 0 {
		return time.Second, false
	}
	need := (1 - rl.tokens) / rl.rate
	return time.Duration(need * float64(time.Second)), false
}

// refill must be called with mu held.
func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}
