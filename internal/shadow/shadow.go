// Package shadow implements the cross-backend shadow check: an optional,
// env-var-gated second reducer run alongside the
// authoritative one on every event, comparing a focused projection and
// recording divergence metrics without ever influencing the authoritative
// path.
package shadow

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pairgrid/internal/core"
)

const shadowEnvVar = "PAIRGRID_SHADOW_ENABLED"

// Metrics is the counters the shadow checker exposes for the
// status/metrics surface.
type Metrics struct {
	Enabled               bool
	TransitionChecks      int64
	TransitionDivergences int64
	ShadowFailures        int64
	LastDivergenceAt      time.Time
	LastDivergenceKind    string
	LastShadowError       string
}

// Checker runs the alternate reducer beside the authoritative one and
// records any divergence. It never returns a state or action list: the
// authoritative Transition result the caller already computed is always
// what gets applied.
type Checker struct {
	enabled bool
	mu      sync.Mutex
	metrics Metrics
}

// NewChecker reads PAIRGRID_SHADOW_ENABLED from the environment once at
// construction; flipping the variable mid-process has no effect.
func NewChecker() *Checker {
	enabled, _ := strconv.ParseBool(os.Getenv(shadowEnvVar))
	return &Checker{enabled: enabled, metrics: Metrics{Enabled: enabled}}
}

// Enabled reports whether the shadow path runs at all.
func (c *Checker) Enabled() bool {
	return c.enabled
}

// focusProjection is the narrow slice of state the two reducers are
// compared on: completed_cycles count, total settled profit, and total fees.
type focusProjection struct {
	completedCycles int
	totalProfit     decimal.Decimal
	totalFees       decimal.Decimal
}

func projectFocus(state core.PairState, actions []core.Action) focusProjection {
	return focusProjection{
		completedCycles: len(state.CompletedCycles),
		totalProfit:     state.TotalProfit,
		totalFees:       state.TotalFees,
	}
}

// Check runs the alternate reducer against the same (state, event, cfg) the
// authoritative Transition already consumed, compares focused projections,
// and records divergence. Panics from the alternate path are recovered and
// counted as shadow failures, never propagated.
func (c *Checker) Check(state core.PairState, event core.Event, cfg core.EngineConfig, orderSizeUSD decimal.Decimal, authNext core.PairState, authActions []core.Action) {
	if !c.enabled {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.mu.Lock()
			c.metrics.ShadowFailures++
			c.metrics.LastShadowError = fmtRecover(r)
			c.mu.Unlock()
		}
	}()

	altNext, altActions := altTransition(state, event, cfg, orderSizeUSD)
	authFocus := projectFocus(authNext, authActions)
	altFocus := projectFocus(altNext, altActions)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.TransitionChecks++

	if focusDiverges(authFocus, altFocus) {
		c.metrics.TransitionDivergences++
		c.metrics.LastDivergenceAt = time.Now()
		c.metrics.LastDivergenceKind = eventKindName(event)
	}
}

// focusDiverges compares two projections field by field; decimal.Decimal
// wraps a *big.Int, so a plain == would compare pointer identity instead of
// value.
func focusDiverges(a, b focusProjection) bool {
	if a.completedCycles != b.completedCycles {
		return true
	}
	if !a.totalProfit.Equal(b.totalProfit) {
		return true
	}
	if !a.totalFees.Equal(b.totalFees) {
		return true
	}
	return false
}

func eventKindName(event core.Event) string {
	switch event.(type) {
	case core.PriceTick:
		return "PriceTick"
	case core.TimerTick:
		return "TimerTick"
	case core.FillEvent:
		return "FillEvent"
	case core.RecoveryFillEvent:
		return "RecoveryFillEvent"
	case core.RecoveryCancelEvent:
		return "RecoveryCancelEvent"
	default:
		return "Unknown"
	}
}

func fmtRecover(r interface{}) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return "panic: unknown"
}

// Snapshot returns a copy of the current metrics for the status endpoint.
func (c *Checker) Snapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}
