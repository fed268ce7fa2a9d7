// Package reconcile implements the startup reconciliation pass: fetch live
// exchange state once, replay missed fills into each slot, then adopt or
// cancel every order the exchange holds that no slot claims.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pairgrid/internal/core"
	"pairgrid/internal/slot"
)

// SlotRuntime is the subset of *slot.Runtime the reconciler depends on, kept
// narrow so tests can substitute a fake.
type SlotRuntime interface {
	ReconcileOnStartup(ctx context.Context, liveOrders map[string]core.OpenOrder, recentTrades map[string]core.TradeRecord) (int, error)
	OwnedTxids() map[string]bool
	ExpectedFreeEntry(side core.Side) (decimal.Decimal, bool)
	AdoptEntryOrder(ctx context.Context, order core.OpenOrder, tradeID core.TradeId) error
}

var _ SlotRuntime = (*slot.Runtime)(nil)

// Result is the outcome of one reconciliation pass, returned for logging
// and for the status endpoint.
type Result struct {
	RunID          string
	StartedAt      time.Time
	CompletedAt    time.Time
	ReplayedFills  int
	AdoptedOrders  int
	CanceledGhosts int
	Errors         []string
}

// Reconciler orchestrates startup reconciliation across every slot in a
// process.
type Reconciler struct {
	Adapter              core.ExchangeAdapter
	Pair                 string
	Slots                map[int64]SlotRuntime
	Logger               core.ILogger
	SafetyWindowSec      float64
	AdoptionTolerancePct decimal.Decimal

	mu         sync.Mutex
	lastResult *Result
}

// NewReconciler constructs a reconciler with the default 30% adoption
// tolerance and a safety window wide enough to cover one missed scheduler
// cycle plus clock skew.
func NewReconciler(adapter core.ExchangeAdapter, pair string, slots map[int64]SlotRuntime, logger core.ILogger) *Reconciler {
	return &Reconciler{
		Adapter:              adapter,
		Pair:                 pair,
		Slots:                slots,
		Logger:               logger.WithField("component", "reconciler"),
		SafetyWindowSec:      300,
		AdoptionTolerancePct: decimal.NewFromFloat(0.30),
	}
}

// Reconcile runs one full pass: replay missed fills into every slot, then
// adopt or cancel whatever the exchange holds that no slot claims.
func (rc *Reconciler) Reconcile(ctx context.Context, snapshotTs float64) (*Result, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	res := &Result{RunID: uuid.NewString(), StartedAt: time.Now()}
	rc.Logger.Info("starting reconciliation pass", "run_id", res.RunID)

	liveOrders, err := rc.Adapter.GetOpenOrders(ctx, rc.Pair)
	if err != nil {
		return res, fmt.Errorf("reconcile: fetch open orders: %w", err)
	}

	sinceTs := snapshotTs - rc.SafetyWindowSec
	recentTrades, err := rc.Adapter.GetTradesHistory(ctx, sinceTs)
	if err != nil {
		return res, fmt.Errorf("reconcile: fetch trade history: %w", err)
	}

	for slotID, sl := range rc.Slots {
		n, err := sl.ReconcileOnStartup(ctx, liveOrders, recentTrades)
		res.ReplayedFills += n
		if err != nil {
			msg := fmt.Sprintf("slot %d: %v", slotID, err)
			res.Errors = append(res.Errors, msg)
			rc.Logger.Error("slot reconciliation failed", "slot_id", slotID, "error", err)
			continue
		}
	}

	owned := make(map[string]bool, len(liveOrders))
	for _, sl := range rc.Slots {
		for txid := range sl.OwnedTxids() {
			owned[txid] = true
		}
	}

	for txid, order := range liveOrders {
		if order.Pair != rc.Pair {
			continue
		}
		if owned[txid] {
			continue
		}
		if rc.adoptOrCancel(ctx, txid, order, res) {
			res.AdoptedOrders++
		} else {
			res.CanceledGhosts++
		}
	}

	res.CompletedAt = time.Now()
	rc.lastResult = res
	rc.Logger.Info("reconciliation pass completed", "run_id", res.RunID,
		"replayed_fills", res.ReplayedFills, "adopted", res.AdoptedOrders, "canceled_ghosts", res.CanceledGhosts)
	return res, nil
}

// adoptOrCancel places an unclaimed live order into a slot with a matching
// free entry, or cancels it. It returns true if the order was adopted,
// false if it was canceled (or the cancel attempt itself failed, which is
// logged but not fatal; the next reconcile pass will retry).
func (rc *Reconciler) adoptOrCancel(ctx context.Context, txid string, order core.OpenOrder, res *Result) bool {
	tradeID := core.TradeA
	if order.Side == core.SideBuy {
		tradeID = core.TradeB
	}

	for slotID, sl := range rc.Slots {
		expected, ok := sl.ExpectedFreeEntry(order.Side)
		if !ok {
			continue
		}
		if !withinTolerance(order.Price, expected, rc.AdoptionTolerancePct) {
			continue
		}
		if err := sl.AdoptEntryOrder(ctx, order, tradeID); err != nil {
			rc.Logger.Warn("adoption attempt failed, falling through to cancel", "slot_id", slotID, "txid", txid, "error", err)
			continue
		}
		return true
	}

	rc.Logger.Warn("canceling unrecognized ghost exchange order", "txid", txid, "side", order.Side, "price", order.Price)
	if _, err := rc.Adapter.CancelOrder(ctx, txid); err != nil {
		rc.Logger.Error("failed to cancel ghost exchange order", "txid", txid, "error", err)
	}
	return false
}

// withinTolerance reports whether price sits within pct of the expected
// grid level.
func withinTolerance(price, expected, pct decimal.Decimal) bool {
	if expected.Sign() == 0 {
		return false
	}
	diff := price.Sub(expected).Abs()
	return diff.LessThanOrEqual(expected.Abs().Mul(pct))
}

// LastResult returns the most recent reconciliation outcome, or nil if none
// has run yet.
func (rc *Reconciler) LastResult() *Result {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.lastResult
}
