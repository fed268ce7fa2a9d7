package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairgrid/internal/core"
	"pairgrid/internal/eventlog"
	"pairgrid/internal/exchange"
	"pairgrid/internal/slot"
	"pairgrid/pkg/concurrency"
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

func newSchedulerFixture(t *testing.T) (*Scheduler, *exchange.MockAdapter, *slot.Runtime) {
	t.Helper()
	adapter := exchange.NewMockAdapter(d("0.1"))
	store := eventlog.NewMemoryStore()
	rt := slot.NewRuntime(1, "DOGEUSD", testConfig(), d("2.0"),
		core.NewPairState(d("0.1"), 0), adapter, store, store, store, slot.NewEventIDGenerator(0), logging.Nop())
	_, err := rt.Bootstrap(context.Background())
	require.NoError(t, err)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "test", MaxWorkers: 2}, logging.Nop())
	t.Cleanup(pool.Stop)

	sched := NewScheduler(adapter, "DOGEUSD", map[int64]*slot.Runtime{1: rt}, pool, 15, 300, logging.Nop())
	return sched, adapter, rt
}

func TestRunOnceAppliesPriceAndTimerTicksAcrossSlots(t *testing.T) {
	sched, _, rt := newSchedulerFixture(t)
	require.NoError(t, sched.RunOnce(context.Background()))
	assert.True(t, rt.State().MarketPrice.Equal(d("0.1")))
}

func TestRunOnceSynthesizesFillFromSharedTradeHistory(t *testing.T) {
	sched, adapter, rt := newSchedulerFixture(t)

	var buyOrder core.OrderState
	for _, o := range rt.State().Orders {
		if o.Side == core.SideBuy {
			buyOrder = o
		}
	}
	// RunOnce reads trade history from wall-clock now minus the snapshot
	// interval, so the trade is stamped now.
	adapter.Fill("trade-1", buyOrder.Txid, buyOrder.Volume, buyOrder.Volume.Mul(buyOrder.Price), d("0.002"), float64(time.Now().Unix()))

	require.NoError(t, sched.RunOnce(context.Background()))

	foundExit := false
	for _, o := range rt.State().Orders {
		if o.Role == core.RoleExit && o.TradeID == buyOrder.TradeID {
			foundExit = true
		}
	}
	assert.True(t, foundExit, "a closed entry order's matching trade should synthesize a FillEvent and open the exit leg")
}

func TestRunOnceCapsSlotsProcessedPerLoopBudget(t *testing.T) {
	sched, _, _ := newSchedulerFixture(t)
	sched.MaxAPICallsPerLoop = 1
	require.NoError(t, sched.RunOnce(context.Background()), "a loop that can't afford any slot this tick must still complete cleanly")
}

func TestChunkStringsSplitsIntoBoundedBatches(t *testing.T) {
	in := make([]string, 120)
	for i := range in {
		in[i] = "x"
	}
	batches := chunkStrings(in, 50)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 50)
	assert.Len(t, batches[2], 20)
}
