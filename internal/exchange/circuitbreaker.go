package exchange

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"pairgrid/internal/core"
)

// CircuitBreaker wraps failsafe-go's circuit breaker with an escalating
// lockout: ReportRateError opens the circuit for
// min(60, 5*2^(n-1)) seconds where n is the consecutive-error count;
// ReportSuccess resets it. failsafe-go's own failure-ratio machinery is not
// used for tripping: the adapter calls ReportRateError after every failed
// private call, whatever the error's class (a rejected order counts the
// same as a rate-limit response), and ReportSuccess after every successful
// one. The breaker object itself (open/half-open/closed state,
// RemainingDelay) is real.
type CircuitBreaker struct {
	mu              sync.Mutex
	cb              circuitbreaker.CircuitBreaker[any]
	consecutiveErrs int
	logger          core.ILogger
}

// NewCircuitBreaker constructs a closed circuit breaker.
func NewCircuitBreaker(logger core.ILogger) *CircuitBreaker {
	cb := circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return err != nil }).
		WithDelay(5 * time.Second).
		Build()
	return &CircuitBreaker{
		cb:     cb,
		logger: logger.WithField("component", "circuit_breaker"),
	}
}

// lockoutDuration escalates 5s, 10s, 20s, 40s, then caps at 60s.
func lockoutDuration(n int) time.Duration {
	secs := math.Min(60, 5*math.Pow(2, float64(n-1)))
	return time.Duration(secs * float64(time.Second))
}

// ReportRateError increments the consecutive-error count and opens the
// circuit for the formula's duration.
func (c *CircuitBreaker) ReportRateError() {
	c.mu.Lock()
	c.consecutiveErrs++
	n := c.consecutiveErrs
	c.mu.Unlock()

	delay := lockoutDuration(n)
	c.cb.Open()
	c.logger.Warn("circuit opened after rate error", "consecutive_errors", n, "delay", delay.String())
	go func(d time.Duration) {
		timer := time.NewTimer(d)
		defer timer.Stop()
		<-timer.C
		c.cb.HalfOpen()
	}(delay)
}

// ReportSuccess resets the consecutive-error count and closes the circuit.
func (c *CircuitBreaker) ReportSuccess() {
	c.mu.Lock()
	c.consecutiveErrs = 0
	c.mu.Unlock()
	c.cb.Close()
}

// IsOpen reports whether the breaker is currently blocking calls.
func (c *CircuitBreaker) IsOpen() bool {
	return c.cb.IsOpen()
}

// WaitUntilClosed blocks (respecting ctx) until the breaker leaves the open
// state, polling at a short interval; failsafe-go's open-to-half-open
// transition is itself timer-driven, so a condition variable would still
// need a timer behind it.
func (c *CircuitBreaker) WaitUntilClosed(ctx context.Context) error {
	if !c.cb.IsOpen() {
		return nil
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !c.cb.IsOpen() {
				return nil
			}
		}
	}
}
