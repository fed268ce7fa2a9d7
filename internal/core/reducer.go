package core

import (
	"github.com/shopspring/decimal"

	"pairgrid/pkg/tradingutils"
)

func findOrder(state PairState, localID int64) (OrderState, bool) {
	for _, o := range state.Orders {
		if o.LocalID == localID {
			return o, true
		}
	}
	return OrderState{}, false
}

func removeOrderAt(orders []OrderState, localID int64) []OrderState {
	out := make([]OrderState, 0, len(orders))
	for _, o := range orders {
		if o.LocalID != localID {
			out = append(out, o)
		}
	}
	return out
}

func bindOrderTxid(state PairState, localID int64, txid string) PairState {
	for i := range state.Orders {
		if state.Orders[i].LocalID == localID {
			state.Orders[i].Txid = txid
		}
	}
	return state
}

func bindRecoveryTxid(state PairState, recoveryID int64, txid string) PairState {
	for i, r := range state.RecoveryOrders {
		if r.RecoveryID == recoveryID {
			state.RecoveryOrders[i].Txid = txid
		}
	}
	return state
}

// newEntryOrder builds a backoff-adjusted entry order. It returns ok=false
// (with the state unchanged) when ComputeOrderVolume declines to size the
// order.
func newEntryOrder(state PairState, cfg EngineConfig, side Side, tradeID TradeId, cycle int64, orderSizeUSD float64, reason string) (PairState, OrderState, PlaceOrderAction, bool) {
	buyPrice, sellPrice := entryPrices(state.MarketPrice, cfg.EntryPct, cfg)

	var price decimal.Decimal
	if side == SideBuy {
		lossCount := state.ConsecutiveLossesA
		if tradeID == TradeB {
			lossCount = state.ConsecutiveLossesB
		}
		mult := entryBackoffMultiplier(lossCount, cfg)
		price = roundPrice(state.MarketPrice.Mul(decimal.NewFromInt(1).Sub(pct(cfg.EntryPct*mult))), cfg)
	} else {
		lossCount := state.ConsecutiveLossesB
		if tradeID == TradeA {
			lossCount = state.ConsecutiveLossesA
		}
		mult := entryBackoffMultiplier(lossCount, cfg)
		price = roundPrice(state.MarketPrice.Mul(decimal.NewFromInt(1).Add(pct(cfg.EntryPct*mult))), cfg)
	}
	if price.Sign() <= 0 {
		if side == SideBuy {
			price = buyPrice
		} else {
			price = sellPrice
		}
	}

	vol := ComputeOrderVolume(price, cfg, orderSizeUSD)
	if vol == nil {
		return state, OrderState{}, PlaceOrderAction{}, false
	}

	localID := state.NextOrderID
	order := OrderState{
		LocalID:  localID,
		Side:     side,
		Role:     RoleEntry,
		Price:    price,
		Volume:   *vol,
		TradeID:  tradeID,
		Cycle:    cycle,
		PlacedAt: state.Now,
	}
	action := PlaceOrderAction{
		LocalID:  localID,
		Side:     side,
		Role:     RoleEntry,
		Price:    price,
		Volume:   *vol,
		TradeID:  tradeID,
		Cycle:    cycle,
		PostOnly: true,
		Reason:   reason,
	}
	state.NextOrderID = localID + 1
	return state, order, action, true
}

// BootstrapOrders builds fresh S0-style entries for a slot. The runtime
// selects allowLongOnly/allowShortOnly based on account balance checks the
// core does not perform.
func BootstrapOrders(state PairState, cfg EngineConfig, orderSizeUSD float64, allowLongOnly, allowShortOnly bool) (PairState, []Action) {
	var actions []Action
	st := state

	st, buyOrder, buyAction, buyOK := newEntryOrder(st, cfg, SideBuy, TradeB, st.CycleB, orderSizeUSD, "bootstrap")
	if buyOK {
		st.Orders = append(st.Orders, buyOrder)
		actions = append(actions, buyAction)
	}

	st, sellOrder, sellAction, sellOK := newEntryOrder(st, cfg, SideSell, TradeA, st.CycleA, orderSizeUSD, "bootstrap")
	if sellOK {
		st.Orders = append(st.Orders, sellOrder)
		actions = append(actions, sellAction)
	}

	switch {
	case allowLongOnly && buyOK && !sellOK:
		st.LongOnly, st.ShortOnly = true, false
	case allowShortOnly && sellOK && !buyOK:
		st.ShortOnly, st.LongOnly = true, false
	default:
		st.LongOnly, st.ShortOnly = false, false
	}

	return st, actions
}

func bookCycle(state PairState, order OrderState, fillPrice, fillFee decimal.Decimal, ts float64, fromRecovery bool) (PairState, CycleRecord, BookCycleAction) {
	volume := order.Volume
	var gross decimal.Decimal
	if order.TradeID == TradeA {
		gross = order.EntryPrice.Sub(fillPrice).Mul(volume)
	} else {
		gross = fillPrice.Sub(order.EntryPrice).Mul(volume)
	}
	fees := order.EntryFee.Add(fillFee)
	net := gross.Sub(fees)

	rec := CycleRecord{
		TradeID:      order.TradeID,
		Cycle:        order.Cycle,
		EntryPrice:   order.EntryPrice,
		ExitPrice:    fillPrice,
		Volume:       volume,
		GrossProfit:  gross,
		Fees:         fees,
		NetProfit:    net,
		EntryTime:    order.EntryFilledAt,
		ExitTime:     ts,
		FromRecovery: fromRecovery,
	}

	st := state
	st.TotalProfit = st.TotalProfit.Add(net)
	st.TotalFees = st.TotalFees.Add(fillFee)
	if net.Sign() < 0 {
		st.TodayRealizedLoss = st.TodayRealizedLoss.Add(net.Abs())
	}
	st.TotalRoundTrips++
	st.CompletedCycles = append(st.CompletedCycles, rec)

	act := BookCycleAction{
		TradeID:      order.TradeID,
		Cycle:        order.Cycle,
		NetProfit:    net,
		GrossProfit:  gross,
		Fees:         fees,
		FromRecovery: fromRecovery,
	}
	return st, rec, act
}

func updateLossCounters(state PairState, tradeID TradeId, netProfit decimal.Decimal, cfg EngineConfig) PairState {
	st := state
	if tradeID == TradeA {
		if netProfit.Sign() < 0 {
			st.ConsecutiveLossesA++
		} else {
			st.ConsecutiveLossesA = 0
		}
		if st.ConsecutiveLossesA >= int64(cfg.LossCooldownStart) {
			candidate := st.Now + cfg.LossCooldownSec
			if candidate > st.CooldownUntilA {
				st.CooldownUntilA = candidate
			}
		}
	} else {
		if netProfit.Sign() < 0 {
			st.ConsecutiveLossesB++
		} else {
			st.ConsecutiveLossesB = 0
		}
		if st.ConsecutiveLossesB >= int64(cfg.LossCooldownStart) {
			candidate := st.Now + cfg.LossCooldownSec
			if candidate > st.CooldownUntilB {
				st.CooldownUntilB = candidate
			}
		}
	}
	return st
}

func placeFollowupEntryAfterCycle(state PairState, cfg EngineConfig, tradeID TradeId, orderSizeUSD float64, reason string) (PairState, []Action) {
	var actions []Action
	st := state

	if tradeID == TradeA {
		if st.LongOnly || st.Now < st.CooldownUntilA {
			return st, actions
		}
		var order OrderState
		var action PlaceOrderAction
		var ok bool
		st, order, action, ok = newEntryOrder(st, cfg, SideSell, TradeA, st.CycleA, orderSizeUSD, reason)
		if ok {
			st.Orders = append(st.Orders, order)
			actions = append(actions, action)
		}
		return st, actions
	}

	if st.ShortOnly || st.Now < st.CooldownUntilB {
		return st, actions
	}
	st, order, action, ok := newEntryOrder(st, cfg, SideBuy, TradeB, st.CycleB, orderSizeUSD, reason)
	if ok {
		st.Orders = append(st.Orders, order)
		actions = append(actions, action)
	}
	return st, actions
}

func orphanExit(state PairState, cfg EngineConfig, order OrderState, reason string, orderSizeUSD float64) (PairState, []Action) {
	var actions []Action
	st := state

	recoveryID := st.NextRecoveryID
	recovery := RecoveryOrder{
		RecoveryID: recoveryID,
		Side:       order.Side,
		Price:      order.Price,
		Volume:     order.Volume,
		TradeID:    order.TradeID,
		Cycle:      order.Cycle,
		EntryPrice: order.EntryPrice,
		OrphanedAt: st.Now,
		Txid:       order.Txid,
		Reason:     reason,
	}
	st.Orders = removeOrderAt(st.Orders, order.LocalID)
	st.RecoveryOrders = append(st.RecoveryOrders, recovery)
	st.NextRecoveryID = recoveryID + 1
	actions = append(actions, OrphanOrderAction{LocalID: order.LocalID, RecoveryID: recoveryID, Reason: reason})

	var followActions []Action
	if order.TradeID == TradeA {
		st.CycleA++
		st, followActions = placeFollowupEntryAfterCycle(st, cfg, TradeA, orderSizeUSD, "orphan_A")
	} else {
		st.CycleB++
		st, followActions = placeFollowupEntryAfterCycle(st, cfg, TradeB, orderSizeUSD, "orphan_B")
	}
	actions = append(actions, followActions...)
	return st, actions
}

// refreshStaleEntries replaces at most one drifted entry per price tick.
// Consecutive same-direction replacements are counted and capped so a
// trending market cannot make an entry chase price indefinitely.
func refreshStaleEntries(state PairState, cfg EngineConfig, orderSizeUSD float64) (PairState, []Action) {
	var actions []Action
	st := state

	for _, o := range st.Orders {
		if o.Role != RoleEntry {
			continue
		}
		if st.MarketPrice.Sign() <= 0 {
			continue
		}
		drift := tradingutils.DriftPct(o.Price, st.MarketPrice)
		if drift.LessThanOrEqual(decimal.NewFromFloat(cfg.RefreshPct)) {
			continue
		}

		isA := o.TradeID == TradeA
		cooldownUntil := st.RefreshCooldownUntilA
		if !isA {
			cooldownUntil = st.RefreshCooldownUntilB
		}
		if st.Now < cooldownUntil {
			continue
		}

		prevCountCheck := st.ConsecutiveRefreshesA
		if !isA {
			prevCountCheck = st.ConsecutiveRefreshesB
		}
		if prevCountCheck >= int64(cfg.MaxConsecutiveRefreshes) && cooldownUntil > 0 {
			if isA {
				st.ConsecutiveRefreshesA = 0
				st.RefreshCooldownUntilA = 0
			} else {
				st.ConsecutiveRefreshesB = 0
				st.RefreshCooldownUntilB = 0
			}
		}

		var direction string
		if o.Side == SideBuy {
			if st.MarketPrice.LessThan(o.Price) {
				direction = "down"
			} else {
				direction = "up"
			}
		} else {
			if st.MarketPrice.GreaterThan(o.Price) {
				direction = "up"
			} else {
				direction = "down"
			}
		}

		var prevDir *string
		var prevCount int64
		if isA {
			prevDir = st.LastRefreshDirectionA
			prevCount = st.ConsecutiveRefreshesA
		} else {
			prevDir = st.LastRefreshDirectionB
			prevCount = st.ConsecutiveRefreshesB
		}
		count := int64(1)
		if prevDir != nil && *prevDir == direction {
			count = prevCount + 1
		}

		if count >= int64(cfg.MaxConsecutiveRefreshes) {
			d := direction
			if isA {
				st.ConsecutiveRefreshesA = count
				st.LastRefreshDirectionA = &d
				st.RefreshCooldownUntilA = st.Now + cfg.RefreshCooldownSec
			} else {
				st.ConsecutiveRefreshesB = count
				st.LastRefreshDirectionB = &d
				st.RefreshCooldownUntilB = st.Now + cfg.RefreshCooldownSec
			}
			break
		}

		st.Orders = removeOrderAt(st.Orders, o.LocalID)
		actions = append(actions, CancelOrderAction{LocalID: o.LocalID, Txid: o.Txid, Reason: "stale_entry"})

		var newOrder OrderState
		var placeAction PlaceOrderAction
		var ok bool
		st, newOrder, placeAction, ok = newEntryOrder(st, cfg, o.Side, o.TradeID, o.Cycle, orderSizeUSD, "refresh_entry")
		if ok {
			st.Orders = append(st.Orders, newOrder)
			actions = append(actions, placeAction)
		}

		d := direction
		if isA {
			st.ConsecutiveRefreshesA = count
			st.LastRefreshDirectionA = &d
		} else {
			st.ConsecutiveRefreshesB = count
			st.LastRefreshDirectionB = &d
		}
		break
	}
	return st, actions
}

// Transition is the pure reducer: a total, deterministic, side-effect-free
// function from (state, event, config, order size) to (next state, actions).
// An event referencing an unknown local_id or recovery_id is ignored; the
// clock still advances to the event's timestamp so duplicate-safe replay
// works.
func Transition(state PairState, event Event, cfg EngineConfig, orderSizeUSD decimal.Decimal) (PairState, []Action) {
	st := state
	sizeUSD, _ := orderSizeUSD.Float64()
	var actions []Action

	switch ev := event.(type) {
	case PriceTick:
		st.Now = ev.Timestamp
		st.MarketPrice = ev.Price
		t := ev.Timestamp
		st.LastPriceUpdateAt = &t
		var a []Action
		st, a = refreshStaleEntries(st, cfg, sizeUSD)
		actions = append(actions, a...)
		return st, actions

	case TimerTick:
		st.Now = ev.Timestamp
		phase := DerivePhase(st)
		if phase != PhaseS2 && st.S2EnteredAt != nil {
			st.S2EnteredAt = nil
		}

		if phase == PhaseS1a || phase == PhaseS1b {
			var exitOrder *OrderState
			for i := range st.Orders {
				if st.Orders[i].Role == RoleExit {
					exitOrder = &st.Orders[i]
					break
				}
			}
			if exitOrder != nil {
				ex := *exitOrder
				anchor := ex.EntryFilledAt
				if anchor == 0 {
					anchor = ex.PlacedAt
				}
				if anchor == 0 {
					anchor = st.Now
				}
				age := st.Now - anchor
				movedAway := (ex.Side == SideSell && st.MarketPrice.LessThan(ex.Price)) ||
					(ex.Side == SideBuy && st.MarketPrice.GreaterThan(ex.Price))
				if age >= cfg.S1OrphanAfterSec && movedAway {
					var a []Action
					st, a = orphanExit(st, cfg, ex, "s1_timeout", sizeUSD)
					actions = append(actions, a...)
					return st, actions
				}
			}
		}

		if phase == PhaseS2 {
			if st.S2EnteredAt == nil {
				t := st.Now
				st.S2EnteredAt = &t
				return st, actions
			}
			if st.Now-*st.S2EnteredAt >= cfg.S2OrphanAfterSec {
				var buyExit, sellExit *OrderState
				for i := range st.Orders {
					if st.Orders[i].Role == RoleExit && st.Orders[i].Side == SideBuy {
						buyExit = &st.Orders[i]
					}
					if st.Orders[i].Role == RoleExit && st.Orders[i].Side == SideSell {
						sellExit = &st.Orders[i]
					}
				}
				if buyExit != nil && sellExit != nil && st.MarketPrice.Sign() > 0 {
					buyDist := tradingutils.DriftPct(buyExit.Price, st.MarketPrice)
					sellDist := tradingutils.DriftPct(sellExit.Price, st.MarketPrice)
					// Orphan the leg farther from market; ties go to the buy leg.
					worse := *buyExit
					if sellDist.GreaterThan(buyDist) {
						worse = *sellExit
					}
					var a []Action
					st, a = orphanExit(st, cfg, worse, "s2_timeout", sizeUSD)
					st.S2EnteredAt = nil
					actions = append(actions, a...)
					return st, actions
				}
			}
		} else if st.S2EnteredAt != nil {
			st.S2EnteredAt = nil
		}
		return st, actions

	case FillEvent:
		st.Now = ev.Timestamp
		order, ok := findOrder(st, ev.OrderLocalID)
		if !ok {
			return st, actions
		}
		st.Orders = removeOrderAt(st.Orders, order.LocalID)

		if order.Role == RoleEntry {
			st.TotalFees = st.TotalFees.Add(ev.Fee)
			exitSide := SideSell
			if order.Side == SideSell {
				exitSide = SideBuy
			}
			exitLocal := st.NextOrderID
			profitPct := st.ProfitPctRuntime
			if profitPct == 0 {
				profitPct = cfg.ProfitPct
			}
			exitOrder := OrderState{
				LocalID:       exitLocal,
				Side:          exitSide,
				Role:          RoleExit,
				Price:         exitPrice(ev.Price, st.MarketPrice, exitSide, cfg, profitPct),
				Volume:        ev.Volume,
				TradeID:       order.TradeID,
				Cycle:         order.Cycle,
				PlacedAt:      ev.Timestamp,
				EntryPrice:    ev.Price,
				EntryFee:      ev.Fee,
				EntryFilledAt: ev.Timestamp,
			}
			st.Orders = append(st.Orders, exitOrder)
			st.NextOrderID = exitLocal + 1
			actions = append(actions, PlaceOrderAction{
				LocalID:  exitLocal,
				Side:     exitSide,
				Role:     RoleExit,
				Price:    exitOrder.Price,
				Volume:   exitOrder.Volume,
				TradeID:  exitOrder.TradeID,
				Cycle:    exitOrder.Cycle,
				PostOnly: true,
				Reason:   "entry_fill_exit",
			})
			st = clearS2FlagIfNotS2(st)
			return st, actions
		}

		var cycleRecord CycleRecord
		var bookAction BookCycleAction
		st, cycleRecord, bookAction = bookCycle(st, order, ev.Price, ev.Fee, ev.Timestamp, false)
		st = updateLossCounters(st, order.TradeID, cycleRecord.NetProfit, cfg)
		actions = append(actions, bookAction)

		if order.TradeID == TradeA {
			if order.Cycle+1 > st.CycleA {
				st.CycleA = order.Cycle + 1
			}
		} else {
			if order.Cycle+1 > st.CycleB {
				st.CycleB = order.Cycle + 1
			}
		}
		var followActions []Action
		st, followActions = placeFollowupEntryAfterCycle(st, cfg, order.TradeID, sizeUSD, "cycle_complete")
		actions = append(actions, followActions...)
		st = clearS2FlagIfNotS2(st)
		return st, actions

	case RecoveryFillEvent:
		st.Now = ev.Timestamp
		var rec RecoveryOrder
		found := false
		var remaining []RecoveryOrder
		for _, r := range st.RecoveryOrders {
			if r.RecoveryID == ev.RecoveryID && !found {
				rec = r
				found = true
				continue
			}
			remaining = append(remaining, r)
		}
		if !found {
			return st, actions
		}
		st.RecoveryOrders = remaining

		pseudoOrder := OrderState{
			LocalID:       -1,
			Side:          rec.Side,
			Role:          RoleExit,
			Price:         rec.Price,
			Volume:        rec.Volume,
			TradeID:       rec.TradeID,
			Cycle:         rec.Cycle,
			EntryPrice:    rec.EntryPrice,
			EntryFee:      decimal.Zero,
			EntryFilledAt: rec.OrphanedAt,
		}
		var cycleRecord CycleRecord
		var bookAction BookCycleAction
		st, cycleRecord, bookAction = bookCycle(st, pseudoOrder, ev.Price, ev.Fee, ev.Timestamp, true)
		st = updateLossCounters(st, rec.TradeID, cycleRecord.NetProfit, cfg)
		actions = append(actions, bookAction)

		if rec.TradeID == TradeA {
			if rec.Cycle+1 > st.CycleA {
				st.CycleA = rec.Cycle + 1
			}
		} else {
			if rec.Cycle+1 > st.CycleB {
				st.CycleB = rec.Cycle + 1
			}
		}
		var followActions []Action
		st, followActions = placeFollowupEntryAfterCycle(st, cfg, rec.TradeID, sizeUSD, "recovery_cycle_complete")
		actions = append(actions, followActions...)
		st = clearS2FlagIfNotS2(st)
		return st, actions

	case RecoveryCancelEvent:
		st.Now = ev.Timestamp
		var remaining []RecoveryOrder
		for _, r := range st.RecoveryOrders {
			if r.RecoveryID != ev.RecoveryID {
				remaining = append(remaining, r)
			}
		}
		st.RecoveryOrders = remaining
		st = clearS2FlagIfNotS2(st)
		return st, actions
	}

	return st, actions
}

// ApplyOrderTxid binds an exchange txid to a resting order. Runtime-only
// helper, not part of Transition's pure path.
func ApplyOrderTxid(state PairState, localID int64, txid string) PairState {
	return bindOrderTxid(state, localID, txid)
}

// ApplyRecoveryTxid binds an exchange txid to a recovery order.
func ApplyRecoveryTxid(state PairState, recoveryID int64, txid string) PairState {
	return bindRecoveryTxid(state, recoveryID, txid)
}

// AddEntryOrder is a public helper for runtime bootstrap/reseed paths
// outside the main event dispatch (e.g. manual reseed after a halt).
func AddEntryOrder(state PairState, cfg EngineConfig, side Side, tradeID TradeId, cycle int64, orderSizeUSD float64, reason string) (PairState, *PlaceOrderAction) {
	st, order, action, ok := newEntryOrder(state, cfg, side, tradeID, cycle, orderSizeUSD, reason)
	if !ok {
		return st, nil
	}
	st.Orders = append(st.Orders, order)
	return st, &action
}

// RemoveOrder drops an order by local id without side effects.
func RemoveOrder(state PairState, localID int64) PairState {
	state.Orders = removeOrderAt(state.Orders, localID)
	return state
}

// RemoveRecovery drops a recovery order by recovery id without side effects.
func RemoveRecovery(state PairState, recoveryID int64) PairState {
	var remaining []RecoveryOrder
	for _, r := range state.RecoveryOrders {
		if r.RecoveryID != recoveryID {
			remaining = append(remaining, r)
		}
	}
	state.RecoveryOrders = remaining
	return state
}

// FindOrder looks up an order by local id.
func FindOrder(state PairState, localID int64) (OrderState, bool) {
	return findOrder(state, localID)
}
