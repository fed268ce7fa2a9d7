package shadow

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairgrid/internal/core"
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

func TestNewCheckerReadsEnvVar(t *testing.T) {
	t.Setenv(shadowEnvVar, "true")
	c := NewChecker()
	assert.True(t, c.Enabled())

	t.Setenv(shadowEnvVar, "")
	c = NewChecker()
	assert.False(t, c.Enabled())
}

func TestCheckNoopWhenDisabled(t *testing.T) {
	c := &Checker{enabled: false}
	c.Check(core.PairState{}, core.TimerTick{}, testConfig(), d("2.0"), core.PairState{}, nil)
	snap := c.Snapshot()
	assert.Equal(t, int64(0), snap.TransitionChecks)
}

func TestCheckAgreesOnExitFill(t *testing.T) {
	c := &Checker{enabled: true}

	exit := core.OrderState{
		LocalID: 1, Side: core.SideSell, Role: core.RoleExit,
		Price: d("0.1012"), Volume: d("20"), TradeID: core.TradeB, Cycle: 1,
		EntryPrice: d("0.0998"), EntryFee: decimal.Zero,
	}
	state := core.PairState{Orders: []core.OrderState{exit}, TotalFees: decimal.Zero, TotalProfit: decimal.Zero}

	fill := core.FillEvent{OrderLocalID: 1, Side: core.SideSell, Price: d("0.1012"), Volume: d("20"), Fee: d("0.0003"), Timestamp: 50}

	authNext, authActions := core.Transition(state, fill, testConfig(), d("2.0"))

	c.Check(state, fill, testConfig(), d("2.0"), authNext, authActions)

	snap := c.Snapshot()
	require.Equal(t, int64(1), snap.TransitionChecks)
	assert.Equal(t, int64(0), snap.TransitionDivergences, "a straightforward exit fill should project identically on both reducers")
}

func TestFocusDivergesComparesDecimalByValue(t *testing.T) {
	a := focusProjection{completedCycles: 1, totalProfit: d("1.00"), totalFees: d("0.01")}
	b := focusProjection{completedCycles: 1, totalProfit: d("1.00"), totalFees: d("0.01")}
	assert.False(t, focusDiverges(a, b), "equal decimal values from distinct parses must not diverge")

	b.completedCycles = 2
	assert.True(t, focusDiverges(a, b))
}

func TestCheckToleratesMissingRecoveryOrder(t *testing.T) {
	c := &Checker{enabled: true}
	fill := core.RecoveryFillEvent{RecoveryID: 99, Price: d("0.1"), Volume: d("1"), Fee: d("0.0001"), Timestamp: 10}
	assert.NotPanics(t, func() {
		c.Check(core.PairState{}, fill, testConfig(), d("2.0"), core.PairState{}, nil)
	})
	snap := c.Snapshot()
	assert.Equal(t, int64(0), snap.ShadowFailures)
}
