package core

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// orderStateJSON, recoveryOrderJSON and cycleRecordJSON pin the stable
// field names; they are part of the on-disk event log and snapshot format
// as well as the scenario fixture format, so renaming a Go field must not
// change them.
type orderStateJSON struct {
	LocalID       int64           `json:"local_id"`
	Side          Side            `json:"side"`
	Role          Role            `json:"role"`
	Price         decimal.Decimal `json:"price"`
	Volume        decimal.Decimal `json:"volume"`
	TradeID       TradeId         `json:"trade_id"`
	Cycle         int64           `json:"cycle"`
	Txid          string          `json:"txid"`
	PlacedAt      float64         `json:"placed_at"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	EntryFee      decimal.Decimal `json:"entry_fee"`
	EntryFilledAt float64         `json:"entry_filled_at"`
}

type recoveryOrderJSON struct {
	RecoveryID int64           `json:"recovery_id"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Volume     decimal.Decimal `json:"volume"`
	TradeID    TradeId         `json:"trade_id"`
	Cycle      int64           `json:"cycle"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	OrphanedAt float64         `json:"orphaned_at"`
	Txid       string          `json:"txid"`
	Reason     string          `json:"reason"`
}

type cycleRecordJSON struct {
	TradeID      TradeId         `json:"trade_id"`
	Cycle        int64           `json:"cycle"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	ExitPrice    decimal.Decimal `json:"exit_price"`
	Volume       decimal.Decimal `json:"volume"`
	GrossProfit  decimal.Decimal `json:"gross_profit"`
	Fees         decimal.Decimal `json:"fees"`
	NetProfit    decimal.Decimal `json:"net_profit"`
	EntryTime    float64         `json:"entry_time"`
	ExitTime     float64         `json:"exit_time"`
	FromRecovery bool            `json:"from_recovery"`
}

type pairStateJSON struct {
	MarketPrice     decimal.Decimal     `json:"market_price"`
	Now             float64             `json:"now"`
	Orders          []orderStateJSON    `json:"orders"`
	RecoveryOrders  []recoveryOrderJSON `json:"recovery_orders"`
	CompletedCycles []cycleRecordJSON   `json:"completed_cycles"`

	CycleA int64 `json:"cycle_a"`
	CycleB int64 `json:"cycle_b"`

	NextOrderID    int64 `json:"next_order_id"`
	NextRecoveryID int64 `json:"next_recovery_id"`

	TotalProfit       decimal.Decimal `json:"total_profit"`
	TotalFees         decimal.Decimal `json:"total_fees"`
	TodayRealizedLoss decimal.Decimal `json:"today_realized_loss"`
	TotalRoundTrips   int64           `json:"total_round_trips"`

	S2EnteredAt           *float64 `json:"s2_entered_at"`
	LastPriceUpdateAt     *float64 `json:"last_price_update_at"`
	ConsecutiveLossesA    int64    `json:"consecutive_losses_a"`
	ConsecutiveLossesB    int64    `json:"consecutive_losses_b"`
	CooldownUntilA        float64  `json:"cooldown_until_a"`
	CooldownUntilB        float64  `json:"cooldown_until_b"`
	LongOnly              bool     `json:"long_only"`
	ShortOnly             bool     `json:"short_only"`
	ConsecutiveRefreshesA int64    `json:"consecutive_refreshes_a"`
	ConsecutiveRefreshesB int64    `json:"consecutive_refreshes_b"`
	LastRefreshDirectionA *string  `json:"last_refresh_direction_a"`
	LastRefreshDirectionB *string  `json:"last_refresh_direction_b"`
	RefreshCooldownUntilA float64  `json:"refresh_cooldown_until_a"`
	RefreshCooldownUntilB float64  `json:"refresh_cooldown_until_b"`

	ProfitPctRuntime float64 `json:"profit_pct_runtime"`
}

// MarshalJSON produces the stable on-disk / fixture representation.
func (s PairState) MarshalJSON() ([]byte, error) {
	out := pairStateJSON{
		MarketPrice:           s.MarketPrice,
		Now:                   s.Now,
		CycleA:                s.CycleA,
		CycleB:                s.CycleB,
		NextOrderID:           s.NextOrderID,
		NextRecoveryID:        s.NextRecoveryID,
		TotalProfit:           s.TotalProfit,
		TotalFees:             s.TotalFees,
		TodayRealizedLoss:     s.TodayRealizedLoss,
		TotalRoundTrips:       s.TotalRoundTrips,
		S2EnteredAt:           s.S2EnteredAt,
		LastPriceUpdateAt:     s.LastPriceUpdateAt,
		ConsecutiveLossesA:    s.ConsecutiveLossesA,
		ConsecutiveLossesB:    s.ConsecutiveLossesB,
		CooldownUntilA:        s.CooldownUntilA,
		CooldownUntilB:        s.CooldownUntilB,
		LongOnly:              s.LongOnly,
		ShortOnly:             s.ShortOnly,
		ConsecutiveRefreshesA: s.ConsecutiveRefreshesA,
		ConsecutiveRefreshesB: s.ConsecutiveRefreshesB,
		LastRefreshDirectionA: s.LastRefreshDirectionA,
		LastRefreshDirectionB: s.LastRefreshDirectionB,
		RefreshCooldownUntilA: s.RefreshCooldownUntilA,
		RefreshCooldownUntilB: s.RefreshCooldownUntilB,
		ProfitPctRuntime:      s.ProfitPctRuntime,
	}
	for _, o := range s.Orders {
		out.Orders = append(out.Orders, orderStateJSON{
			LocalID: o.LocalID, Side: o.Side, Role: o.Role, Price: o.Price, Volume: o.Volume,
			TradeID: o.TradeID, Cycle: o.Cycle, Txid: o.Txid, PlacedAt: o.PlacedAt,
			EntryPrice: o.EntryPrice, EntryFee: o.EntryFee, EntryFilledAt: o.EntryFilledAt,
		})
	}
	for _, r := range s.RecoveryOrders {
		out.RecoveryOrders = append(out.RecoveryOrders, recoveryOrderJSON{
			RecoveryID: r.RecoveryID, Side: r.Side, Price: r.Price, Volume: r.Volume,
			TradeID: r.TradeID, Cycle: r.Cycle, EntryPrice: r.EntryPrice,
			OrphanedAt: r.OrphanedAt, Txid: r.Txid, Reason: r.Reason,
		})
	}
	for _, c := range s.CompletedCycles {
		out.CompletedCycles = append(out.CompletedCycles, cycleRecordJSON{
			TradeID: c.TradeID, Cycle: c.Cycle, EntryPrice: c.EntryPrice, ExitPrice: c.ExitPrice,
			Volume: c.Volume, GrossProfit: c.GrossProfit, Fees: c.Fees, NetProfit: c.NetProfit,
			EntryTime: c.EntryTime, ExitTime: c.ExitTime, FromRecovery: c.FromRecovery,
		})
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON; from_dict(to_dict(s)) == s
// for all reachable states.
func (s *PairState) UnmarshalJSON(data []byte) error {
	var in pairStateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	out := PairState{
		MarketPrice:           in.MarketPrice,
		Now:                   in.Now,
		CycleA:                in.CycleA,
		CycleB:                in.CycleB,
		NextOrderID:           in.NextOrderID,
		NextRecoveryID:        in.NextRecoveryID,
		TotalProfit:           in.TotalProfit,
		TotalFees:             in.TotalFees,
		TodayRealizedLoss:     in.TodayRealizedLoss,
		TotalRoundTrips:       in.TotalRoundTrips,
		S2EnteredAt:           in.S2EnteredAt,
		LastPriceUpdateAt:     in.LastPriceUpdateAt,
		ConsecutiveLossesA:    in.ConsecutiveLossesA,
		ConsecutiveLossesB:    in.ConsecutiveLossesB,
		CooldownUntilA:        in.CooldownUntilA,
		CooldownUntilB:        in.CooldownUntilB,
		LongOnly:              in.LongOnly,
		ShortOnly:             in.ShortOnly,
		ConsecutiveRefreshesA: in.ConsecutiveRefreshesA,
		ConsecutiveRefreshesB: in.ConsecutiveRefreshesB,
		LastRefreshDirectionA: in.LastRefreshDirectionA,
		LastRefreshDirectionB: in.LastRefreshDirectionB,
		RefreshCooldownUntilA: in.RefreshCooldownUntilA,
		RefreshCooldownUntilB: in.RefreshCooldownUntilB,
		ProfitPctRuntime:      in.ProfitPctRuntime,
	}
	if out.CycleA == 0 {
		out.CycleA = 1
	}
	if out.CycleB == 0 {
		out.CycleB = 1
	}
	if out.NextOrderID == 0 {
		out.NextOrderID = 1
	}
	if out.NextRecoveryID == 0 {
		out.NextRecoveryID = 1
	}
	for _, o := range in.Orders {
		out.Orders = append(out.Orders, OrderState{
			LocalID: o.LocalID, Side: o.Side, Role: o.Role, Price: o.Price, Volume: o.Volume,
			TradeID: o.TradeID, Cycle: o.Cycle, Txid: o.Txid, PlacedAt: o.PlacedAt,
			EntryPrice: o.EntryPrice, EntryFee: o.EntryFee, EntryFilledAt: o.EntryFilledAt,
		})
	}
	for _, r := range in.RecoveryOrders {
		out.RecoveryOrders = append(out.RecoveryOrders, RecoveryOrder{
			RecoveryID: r.RecoveryID, Side: r.Side, Price: r.Price, Volume: r.Volume,
			TradeID: r.TradeID, Cycle: r.Cycle, EntryPrice: r.EntryPrice,
			OrphanedAt: r.OrphanedAt, Txid: r.Txid, Reason: r.Reason,
		})
	}
	for _, c := range in.CompletedCycles {
		out.CompletedCycles = append(out.CompletedCycles, CycleRecord{
			TradeID: c.TradeID, Cycle: c.Cycle, EntryPrice: c.EntryPrice, ExitPrice: c.ExitPrice,
			Volume: c.Volume, GrossProfit: c.GrossProfit, Fees: c.Fees, NetProfit: c.NetProfit,
			EntryTime: c.EntryTime, ExitTime: c.ExitTime, FromRecovery: c.FromRecovery,
		})
	}
	*s = out
	return nil
}
