package reconcile

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairgrid/internal/core"
	"pairgrid/internal/eventlog"
	"pairgrid/internal/exchange"
	"pairgrid/internal/slot"
	"pairgrid/pkg/logging"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testConfig() core.EngineConfig {
	return core.EngineConfig{
		EntryPct: 0.2, ProfitPct: 1.0, RefreshPct: 1.0, OrderSizeUSD: 2.0,
		PriceDecimals: 6, VolumeDecimals: 0, MinVolume: 13, MakerFeePct: 0.25,
		StalePriceMaxAgeSec: 60, S1OrphanAfterSec: 600, S2OrphanAfterSec: 1800,
		LossBackoffStart: 3, LossCooldownStart: 5, LossCooldownSec: 900,
		BackoffFactor: 0.5, BackoffMaxMultiplier: 5,
		MaxConsecutiveRefreshes: 3, RefreshCooldownSec: 300,
	}
}

func newSlot(t *testing.T, id int64, adapter core.ExchangeAdapter) *slot.Runtime {
	t.Helper()
	store := eventlog.NewMemoryStore()
	rt := slot.NewRuntime(id, "DOGEUSD", testConfig(), d("2.0"),
		core.NewPairState(d("0.1"), 0), adapter, store, store, store, slot.NewEventIDGenerator(0), logging.Nop())
	return rt
}

func TestReconcileAdoptsOrphanWithinTolerance(t *testing.T) {
	adapter := exchange.NewMockAdapter(d("0.1"))
	empty := newSlot(t, 1, adapter)

	// Place an order directly against the exchange, bypassing the slot, so
	// it looks like an orphaned order left over from a previous process.
	txid, err := adapter.PlaceLimitOrder(context.Background(), "DOGEUSD", core.SideBuy, d("20"), d("0.0998"), true)
	require.NoError(t, err)

	slots := map[int64]SlotRuntime{1: empty}
	rc := NewReconciler(adapter, "DOGEUSD", slots, logging.Nop())

	res, err := rc.Reconcile(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AdoptedOrders)
	assert.Equal(t, 0, res.CanceledGhosts)

	owned := empty.OwnedTxids()
	assert.True(t, owned[txid])
}

func TestReconcileCancelsGhostOutsideTolerance(t *testing.T) {
	adapter := exchange.NewMockAdapter(d("0.1"))
	empty := newSlot(t, 1, adapter)

	// Far outside the 30% adoption tolerance around the expected S0 grid
	// price, so no slot should claim it.
	txid, err := adapter.PlaceLimitOrder(context.Background(), "DOGEUSD", core.SideBuy, d("20"), d("0.01"), true)
	require.NoError(t, err)

	slots := map[int64]SlotRuntime{1: empty}
	rc := NewReconciler(adapter, "DOGEUSD", slots, logging.Nop())

	res, err := rc.Reconcile(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, 0, res.AdoptedOrders)
	assert.Equal(t, 1, res.CanceledGhosts)

	open, err := adapter.GetOpenOrders(context.Background(), "DOGEUSD")
	require.NoError(t, err)
	_, stillOpen := open[txid]
	assert.False(t, stillOpen, "a ghost order outside tolerance must be canceled")
}

func TestReconcileReplaysMissedFillsPerSlot(t *testing.T) {
	adapter := exchange.NewMockAdapter(d("0.1"))
	rt := newSlot(t, 1, adapter)
	_, err := rt.Bootstrap(context.Background())
	require.NoError(t, err)

	var buyTxid string
	var buyOrder core.OrderState
	for _, o := range rt.State().Orders {
		if o.Side == core.SideBuy {
			buyOrder = o
			buyTxid = o.Txid
		}
	}
	// Inside the window Reconcile(ctx, 1000) reads: trades since 1000 minus
	// the 300s safety window.
	adapter.Fill("trade-missed", buyTxid, buyOrder.Volume, buyOrder.Volume.Mul(buyOrder.Price), d("0.002"), 900)

	slots := map[int64]SlotRuntime{1: rt}
	rc := NewReconciler(adapter, "DOGEUSD", slots, logging.Nop())

	res, err := rc.Reconcile(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ReplayedFills)
	assert.Equal(t, int64(0), rt.State().TotalRoundTrips, "a replayed entry fill opens the exit leg and books no round trip")
}

func TestWithinToleranceRejectsZeroExpected(t *testing.T) {
	assert.False(t, withinTolerance(d("1"), decimal.Zero, d("0.3")))
}
