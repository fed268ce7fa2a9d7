// Package core implements the pair trading state machine: a pure reducer
// mapping (state, event, config) to (next_state, actions) with strict phase
// invariants, orphan/recovery handling, loss-triggered backoff, and
// anti-chase refresh limiting. Nothing in this package performs I/O, reads
// the clock, or uses randomness; all time and randomness enter as event
// fields supplied by the caller.
package core

import "github.com/shopspring/decimal"

// Side is which direction an order trades.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Role distinguishes an order that opens a position from one that closes it.
type Role string

const (
	RoleEntry Role = "entry"
	RoleExit  Role = "exit"
)

// TradeId names one of the two conceptual positions in a slot. A is the
// short side (sell entry, buy exit); B is the long side (buy entry, sell
// exit).
type TradeId string

const (
	TradeA TradeId = "A"
	TradeB TradeId = "B"
)

// Phase is the phase label derived from order composition.
type Phase string

const (
	PhaseS0  Phase = "S0"
	PhaseS1a Phase = "S1a"
	PhaseS1b Phase = "S1b"
	PhaseS2  Phase = "S2"
)

// EngineConfig is immutable for the lifetime of a single Transition call.
type EngineConfig struct {
	EntryPct                float64 `json:"entry_pct"`
	ProfitPct               float64 `json:"profit_pct"`
	RefreshPct              float64 `json:"refresh_pct"`
	OrderSizeUSD            float64 `json:"order_size_usd"`
	PriceDecimals           int32   `json:"price_decimals"`
	VolumeDecimals          int32   `json:"volume_decimals"`
	MinVolume               float64 `json:"min_volume"`
	MinCostUSD              float64 `json:"min_cost_usd"`
	MakerFeePct             float64 `json:"maker_fee_pct"`
	StalePriceMaxAgeSec     float64 `json:"stale_price_max_age_sec"`
	S1OrphanAfterSec        float64 `json:"s1_orphan_after_sec"`
	S2OrphanAfterSec        float64 `json:"s2_orphan_after_sec"`
	LossBackoffStart        int     `json:"loss_backoff_start"`
	LossCooldownStart       int     `json:"loss_cooldown_start"`
	LossCooldownSec         float64 `json:"loss_cooldown_sec"`
	BackoffFactor           float64 `json:"backoff_factor"`
	BackoffMaxMultiplier    float64 `json:"backoff_max_multiplier"`
	MaxConsecutiveRefreshes int     `json:"max_consecutive_refreshes"`
	RefreshCooldownSec      float64 `json:"refresh_cooldown_sec"`
}

// DefaultEngineConfig returns the baseline tuning. Callers should override
// fields explicitly rather than relying on this for production slots.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		EntryPct:                0.2,
		ProfitPct:               1.0,
		RefreshPct:              1.0,
		OrderSizeUSD:            2.0,
		PriceDecimals:           6,
		VolumeDecimals:          0,
		MinVolume:               13.0,
		MinCostUSD:              0.0,
		MakerFeePct:             0.25,
		StalePriceMaxAgeSec:     60.0,
		S1OrphanAfterSec:        600.0,
		S2OrphanAfterSec:        1800.0,
		LossBackoffStart:        3,
		LossCooldownStart:       5,
		LossCooldownSec:         900.0,
		BackoffFactor:           0.5,
		BackoffMaxMultiplier:    5.0,
		MaxConsecutiveRefreshes: 3,
		RefreshCooldownSec:      300.0,
	}
}

// OrderState is a single resting order owned by a slot.
type OrderState struct {
	LocalID       int64
	Side          Side
	Role          Role
	Price         decimal.Decimal
	Volume        decimal.Decimal
	TradeID       TradeId
	Cycle         int64
	Txid          string
	PlacedAt      float64
	EntryPrice    decimal.Decimal
	EntryFee      decimal.Decimal
	EntryFilledAt float64
}

// RecoveryOrder is an exit that aged out of its phase window and was moved
// to a side channel awaiting fill or external cancellation.
type RecoveryOrder struct {
	RecoveryID int64
	Side       Side
	Price      decimal.Decimal
	Volume     decimal.Decimal
	TradeID    TradeId
	Cycle      int64
	EntryPrice decimal.Decimal
	OrphanedAt float64
	Txid       string
	Reason     string
}

// CycleRecord is one closed round-trip. Records are append-only and never
// modified after creation.
type CycleRecord struct {
	TradeID      TradeId
	Cycle        int64
	EntryPrice   decimal.Decimal
	ExitPrice    decimal.Decimal
	Volume       decimal.Decimal
	GrossProfit  decimal.Decimal
	Fees         decimal.Decimal
	NetProfit    decimal.Decimal
	EntryTime    float64
	ExitTime     float64
	FromRecovery bool
}

// PairState is the full reducer state for one slot.
type PairState struct {
	MarketPrice     decimal.Decimal
	Now             float64
	Orders          []OrderState
	RecoveryOrders  []RecoveryOrder
	CompletedCycles []CycleRecord

	CycleA int64
	CycleB int64

	NextOrderID    int64
	NextRecoveryID int64

	TotalProfit       decimal.Decimal
	TotalFees         decimal.Decimal
	TodayRealizedLoss decimal.Decimal
	TotalRoundTrips   int64

	S2EnteredAt        *float64
	LastPriceUpdateAt  *float64
	ConsecutiveLossesA int64
	ConsecutiveLossesB int64
	CooldownUntilA     float64
	CooldownUntilB     float64
	LongOnly           bool
	ShortOnly          bool

	ConsecutiveRefreshesA int64
	ConsecutiveRefreshesB int64
	LastRefreshDirectionA *string
	LastRefreshDirectionB *string
	RefreshCooldownUntilA float64
	RefreshCooldownUntilB float64

	ProfitPctRuntime float64
}

// NewPairState constructs an empty PairState with cycle counters and ID
// generators at their starting values.
func NewPairState(marketPrice decimal.Decimal, now float64) PairState {
	return PairState{
		MarketPrice:       marketPrice,
		Now:               now,
		CycleA:            1,
		CycleB:            1,
		NextOrderID:       1,
		NextRecoveryID:    1,
		TotalProfit:       decimal.Zero,
		TotalFees:         decimal.Zero,
		TodayRealizedLoss: decimal.Zero,
		ProfitPctRuntime:  1.0,
	}
}
