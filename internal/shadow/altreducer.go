package shadow

import (
	"github.com/shopspring/decimal"

	"pairgrid/internal/core"
	"pairgrid/pkg/tradingutils"
)

// altTransition is a deliberately simplified second reducer: it books exit
// and recovery fills with plain profit - fees, taking gross as the absolute
// price difference times volume, and returns the state unchanged for every
// other event (PriceTick, TimerTick, RecoveryCancelEvent and entry fills).
// No second production implementation ships in this repo, so this stub
// exists only to give the shadow checker something real to diverge
// against: a losing cycle books a positive gross here, and the fee an entry
// fill adds to total_fees is not applied here.
func altTransition(state core.PairState, event core.Event, cfg core.EngineConfig, orderSizeUSD decimal.Decimal) (core.PairState, []core.Action) {
	switch ev := event.(type) {
	case core.FillEvent:
		return altApplyFill(state, ev)
	case core.RecoveryFillEvent:
		return altApplyRecoveryFill(state, ev)
	default:
		// PriceTick, TimerTick, RecoveryCancelEvent: the authoritative
		// reducer's behavior here (refresh/orphan timers, market price
		// bookkeeping) isn't worth reimplementing for a divergence probe; echo
		// state unchanged so only fill-driven cycle booking is compared.
		return state, nil
	}
}

func altApplyFill(state core.PairState, ev core.FillEvent) (core.PairState, []core.Action) {
	idx := -1
	for i, o := range state.Orders {
		if o.LocalID == ev.OrderLocalID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return state, nil
	}
	order := state.Orders[idx]
	if order.Role != core.RoleExit {
		// Entry fills: the authoritative reducer creates an exit order here.
		// Not modeled in the shadow stub.
		return state, nil
	}

	gross := ev.Price.Sub(order.EntryPrice).Mul(ev.Volume).Abs()
	fees := ev.Fee.Add(order.EntryFee)
	net := tradingutils.NetProfit(gross, order.EntryFee, ev.Fee)

	state.Orders = append(append([]core.OrderState{}, state.Orders[:idx]...), state.Orders[idx+1:]...)
	state.TotalProfit = state.TotalProfit.Add(net)
	// Mirrors bookCycle: only the exit fill's own fee feeds the running
	// TotalFees total. The entry fee was already folded in when the entry
	// fill was booked, so adding it again here would double-count it.
	state.TotalFees = state.TotalFees.Add(ev.Fee)
	state.TotalRoundTrips++
	state.CompletedCycles = append(state.CompletedCycles, core.CycleRecord{
		TradeID: order.TradeID, Cycle: order.Cycle,
		EntryPrice: order.EntryPrice, ExitPrice: ev.Price, Volume: ev.Volume,
		GrossProfit: gross, Fees: fees, NetProfit: net,
		EntryTime: order.EntryFilledAt, ExitTime: ev.Timestamp,
	})

	action := core.BookCycleAction{
		TradeID: order.TradeID, Cycle: order.Cycle,
		NetProfit: net, GrossProfit: gross, Fees: fees,
	}
	return state, []core.Action{action}
}

func altApplyRecoveryFill(state core.PairState, ev core.RecoveryFillEvent) (core.PairState, []core.Action) {
	idx := -1
	for i, r := range state.RecoveryOrders {
		if r.RecoveryID == ev.RecoveryID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return state, nil
	}
	rec := state.RecoveryOrders[idx]
	gross := ev.Price.Sub(rec.EntryPrice).Mul(ev.Volume).Abs()
	fees := ev.Fee
	net := tradingutils.NetProfit(gross, decimal.Zero, ev.Fee)

	state.RecoveryOrders = append(append([]core.RecoveryOrder{}, state.RecoveryOrders[:idx]...), state.RecoveryOrders[idx+1:]...)
	state.TotalProfit = state.TotalProfit.Add(net)
	state.TotalFees = state.TotalFees.Add(fees)
	state.TotalRoundTrips++
	state.CompletedCycles = append(state.CompletedCycles, core.CycleRecord{
		TradeID: rec.TradeID, Cycle: rec.Cycle,
		EntryPrice: rec.EntryPrice, ExitPrice: ev.Price, Volume: ev.Volume,
		GrossProfit: gross, Fees: fees, NetProfit: net,
		EntryTime: rec.OrphanedAt, ExitTime: ev.Timestamp, FromRecovery: true,
	})

	action := core.BookCycleAction{
		TradeID: rec.TradeID, Cycle: rec.Cycle,
		NetProfit: net, GrossProfit: gross, Fees: fees, FromRecovery: true,
	}
	return state, []core.Action{action}
}
