// Package exchange implements the rate-limited exchange adapter: a
// thread-safe token bucket with circuit breaker, signed
// request assembly, and the fill/order query abstractions the slot runtime
// and reconciler consume through core.ExchangeAdapter.
package exchange

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pairgrid/internal/core"
)

// hardCeilingQPS bounds raw request rate regardless of the decaying
// budget, so a caller spamming Consume with units=0 still can't exceed a
// sane wire rate.
const hardCeilingQPS = 10

// RateLimiter is a thread-safe token bucket: budget starts at MaxBudget
// and decays at DecayRate tokens/sec. Consume decays first, then waits on
// the circuit breaker, then soft-throttles if the budget is nearly
// exhausted, then deducts, tolerating a brief overdraft down to -2 so
// startup bursts (reconcile's opening fan-out of calls) don't immediately
// trip the breaker.
type RateLimiter struct {
	mu        sync.Mutex
	budget    float64
	maxBudget float64
	decayRate float64
	lastDecay time.Time
	overdraft float64
	breaker   *CircuitBreaker
	softSleep time.Duration
	logger    core.ILogger
	ceiling   *rate.Limiter
}

// RateLimiterConfig carries the token bucket's tunables.
type RateLimiterConfig struct {
	MaxBudget float64
	DecayRate float64
	Overdraft float64
	SoftSleep time.Duration
}

// DefaultRateLimiterConfig is a budget of 15 calls decaying at 1/sec,
// sized for one scheduler loop across a handful of slots.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxBudget: 15,
		DecayRate: 1,
		Overdraft: -2,
		SoftSleep: 200 * time.Millisecond,
	}
}

// NewRateLimiter constructs a limiter with a full budget around the given
// circuit breaker.
func NewRateLimiter(cfg RateLimiterConfig, breaker *CircuitBreaker, logger core.ILogger) *RateLimiter {
	return &RateLimiter{
		budget:    cfg.MaxBudget,
		maxBudget: cfg.MaxBudget,
		decayRate: cfg.DecayRate,
		overdraft: cfg.Overdraft,
		softSleep: cfg.SoftSleep,
		lastDecay: time.Now(),
		breaker:   breaker,
		logger:    logger.WithField("component", "rate_limiter"),
		ceiling:   rate.NewLimiter(rate.Limit(hardCeilingQPS), hardCeilingQPS),
	}
}

func (r *RateLimiter) decayLocked() {
	now := time.Now()
	elapsed := now.Sub(r.lastDecay).Seconds()
	if elapsed <= 0 {
		return
	}
	r.budget = math.Min(r.maxBudget, r.budget+elapsed*r.decayRate)
	r.lastDecay = now
}

// Available reports the current budget without blocking or consuming it.
func (r *RateLimiter) Available() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decayLocked()
	return r.budget
}

// Consume acquires `units` of budget, decaying first, waiting on an open
// circuit breaker, soft-throttling when the budget is nearly exhausted, and
// finally deducting, allowing the budget to go negative down to the
// configured overdraft floor.
func (r *RateLimiter) Consume(ctx context.Context, units float64) error {
	if err := r.ceiling.Wait(ctx); err != nil {
		return err
	}
	if r.breaker != nil {
		if err := r.breaker.WaitUntilClosed(ctx); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.decayLocked()
	if r.budget <= 1 {
		r.mu.Unlock()
		select {
		case <-time.After(r.softSleep):
		case <-ctx.Done():
			return ctx.Err()
		}
		r.mu.Lock()
		r.decayLocked()
	}
	r.budget -= units
	if r.budget < r.overdraft {
		r.budget = r.overdraft
	}
	r.mu.Unlock()
	return nil
}
