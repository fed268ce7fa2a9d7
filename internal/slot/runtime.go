// Package slot implements the slot runtime: it owns one PairState state
// machine, drives it through core.Transition, executes the
// returned actions against an ExchangeAdapter in order, and makes fill
// application idempotent under crash/restart replay.
package slot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"pairgrid/internal/core"
)

// Mode is the operator-visible run state of a slot.
type Mode string

const (
	ModeRunning Mode = "RUNNING"
	ModePaused  Mode = "PAUSED"
	ModeHalted  Mode = "HALTED"
)

// EventIDGenerator is the process-wide monotonic event_id counter,
// constructed once at process init. All slots in a process share one
// generator so event_id remains globally monotonic across slots, not just
// within one.
type EventIDGenerator struct {
	next atomic.Int64
}

// NewEventIDGenerator seeds the counter to resume after the event log's
// highest previously written id.
func NewEventIDGenerator(afterMaxID int64) *EventIDGenerator {
	g := &EventIDGenerator{}
	g.next.Store(afterMaxID + 1)
	return g
}

// Next returns the next event_id and advances the counter.
func (g *EventIDGenerator) Next() int64 {
	return g.next.Add(1) - 1
}

// Last returns the most recently issued event_id without advancing the
// counter.
func (g *EventIDGenerator) Last() int64 {
	return g.next.Load() - 1
}

// StatusPayload is the per-slot status reported to operators.
type StatusPayload struct {
	SlotID             int64  `json:"slot_id"`
	Mode               Mode   `json:"mode"`
	LastError          string `json:"last_error,omitempty"`
	CircuitBreakerOpen bool   `json:"circuit_breaker_open"`
	RecoveryQueueDepth int    `json:"recovery_queue_depth"`
	OpenOrderCount     int    `json:"open_order_count"`
}

// CircuitState lets the runtime report the adapter's breaker state in
// status_payload() without depending on the concrete exchange package.
type CircuitState interface {
	IsOpen() bool
}

// ShadowChecker is the cross-backend shadow check capability, kept as a
// narrow interface here so this package doesn't need to import
// internal/shadow's metrics/env-var plumbing directly.
type ShadowChecker interface {
	Enabled() bool
	Check(state core.PairState, event core.Event, cfg core.EngineConfig, orderSizeUSD decimal.Decimal, authNext core.PairState, authActions []core.Action)
}

// Runtime owns one slot's PairState and drives it from events. Its own
// mutable state is accessed only from the goroutine driving this slot;
// slots may run in parallel but each slot is single-threaded.
type Runtime struct {
	SlotID       int64
	Pair         string
	Cfg          core.EngineConfig
	OrderSizeUSD decimal.Decimal

	Adapter       core.ExchangeAdapter
	EventStore    core.EventStore
	SnapshotStore core.SnapshotStore
	FillSink      core.FillSink
	EventIDs      *EventIDGenerator
	Breaker       CircuitState
	Shadow        ShadowChecker
	Logger        core.ILogger

	mu      sync.Mutex
	state   core.PairState
	seen    *seenTxidSet
	mode    Mode
	lastErr string

	snapshotEveryN int
	eventsSince    int
}

// NewRuntime constructs a slot runtime seeded with an initial state.
func NewRuntime(slotID int64, pair string, cfg core.EngineConfig, orderSizeUSD decimal.Decimal, initial core.PairState, adapter core.ExchangeAdapter, eventStore core.EventStore, snapshotStore core.SnapshotStore, fillSink core.FillSink, eventIDs *EventIDGenerator, logger core.ILogger) *Runtime {
	return &Runtime{
		SlotID:         slotID,
		Pair:           pair,
		Cfg:            cfg,
		OrderSizeUSD:   orderSizeUSD,
		Adapter:        adapter,
		EventStore:     eventStore,
		SnapshotStore:  snapshotStore,
		FillSink:       fillSink,
		EventIDs:       eventIDs,
		Logger:         logger.WithField("component", "slot_runtime").WithField("slot_id", slotID),
		state:          initial,
		seen:           newSeenTxidSet(4096),
		mode:           ModeRunning,
		snapshotEveryN: 50,
	}
}

// State returns a copy of the current PairState.
func (r *Runtime) State() core.PairState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Mode returns the runtime's current operating mode.
func (r *Runtime) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func eventTxid(event core.Event) (string, bool) {
	switch ev := event.(type) {
	case core.FillEvent:
		return ev.Txid, true
	case core.RecoveryFillEvent:
		return ev.Txid, true
	}
	return "", false
}

func eventKind(event core.Event) string {
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

// ApplyEvent drives one event through the reducer, persists the resulting
// transition to the event log, executes the returned actions against the
// exchange adapter in order, and returns the actions taken. A HALTED
// runtime still advances its clock deterministically but refuses to execute
// actions: an invariant violation outside the two allowed transients is
// fatal for the affected slot only.
func (r *Runtime) ApplyEvent(ctx context.Context, event core.Event) ([]core.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if txid, ok := eventTxid(event); ok && txid != "" && r.seen.Contains(txid) {
		return nil, nil
	}

	fromPhase := core.DerivePhase(r.state)
	nextState, actions := core.Transition(r.state, event, r.Cfg, r.OrderSizeUSD)
	toPhase := core.DerivePhase(nextState)

	if r.Shadow != nil && r.Shadow.Enabled() {
		r.Shadow.Check(r.state, event, r.Cfg, r.OrderSizeUSD, nextState, actions)
	}

	if r.EventStore != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("slot: marshal event: %w", err)
		}
		eventID := int64(0)
		if r.EventIDs != nil {
			eventID = r.EventIDs.Next()
		}
		row := core.EventRow{
			EventID: eventID, SlotID: r.SlotID,
			FromPhase: fromPhase, ToPhase: toPhase,
			Kind: eventKind(event), PayloadRaw: payload, Ts: eventTimestamp(event),
		}
		if err := r.EventStore.Append(ctx, []core.EventRow{row}); err != nil {
			return nil, fmt.Errorf("slot: append event log: %w", err)
		}
	}

	r.state = nextState
	if txid, ok := eventTxid(event); ok && txid != "" {
		r.seen.Add(txid)
	}

	if r.mode == ModeRunning {
		r.executeActions(ctx, actions)
	}

	r.normalizeMode()
	r.checkInvariants()
	r.maybeSnapshot(ctx)

	return actions, nil
}

// Bootstrap seeds a freshly-created slot with its initial entry orders via
// core.BootstrapOrders, persists the seeding as a synthetic event row for
// audit/replay purposes, and executes the resulting PlaceOrderActions. The
// runtime calls it once, before any event has reached this slot; Restore
// reconstructs a previously-bootstrapped slot from its event log (re-running
// core.BootstrapOrders on the replayed row) instead of calling this again.
func (r *Runtime) Bootstrap(ctx context.Context) ([]core.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fromPhase := core.DerivePhase(r.state)
	orderSizeUSD, _ := r.OrderSizeUSD.Float64()
	nextState, actions := core.BootstrapOrders(r.state, r.Cfg, orderSizeUSD, !r.state.ShortOnly, !r.state.LongOnly)
	toPhase := core.DerivePhase(nextState)

	if r.EventStore != nil {
		payload, err := json.Marshal(struct {
			OrderSizeUSD float64 `json:"order_size_usd"`
		}{orderSizeUSD})
		if err != nil {
			return nil, fmt.Errorf("slot: marshal bootstrap payload: %w", err)
		}
		eventID := int64(0)
		if r.EventIDs != nil {
			eventID = r.EventIDs.Next()
		}
		row := core.EventRow{
			EventID: eventID, SlotID: r.SlotID,
			FromPhase: fromPhase, ToPhase: toPhase,
			Kind: "Bootstrap", PayloadRaw: payload, Ts: r.state.Now,
		}
		if err := r.EventStore.Append(ctx, []core.EventRow{row}); err != nil {
			return nil, fmt.Errorf("slot: append bootstrap event: %w", err)
		}
	}

	r.state = nextState
	r.executeActions(ctx, actions)
	r.normalizeMode()
	r.checkInvariants()
	return actions, nil
}

func eventTimestamp(event core.Event) float64 {
	switch ev := event.(type) {
	case core.PriceTick:
		return ev.Timestamp
	case core.TimerTick:
		return ev.Timestamp
	case core.FillEvent:
		return ev.Timestamp
	case core.RecoveryFillEvent:
		return ev.Timestamp
	case core.RecoveryCancelEvent:
		return ev.Timestamp
	}
	return 0
}

// executeActions runs the action list strictly in the order the reducer
// returned it. Placing an exit before canceling the stale entry it
// replaced would trip exchange-side balance checks.
func (r *Runtime) executeActions(ctx context.Context, actions []core.Action) {
	for _, action := range actions {
		switch a := action.(type) {
		case core.PlaceOrderAction:
			txid, err := r.Adapter.PlaceLimitOrder(ctx, r.Pair, a.Side, a.Volume, a.Price, a.PostOnly)
			if err != nil {
				r.lastErr = err.Error()
				r.Logger.Warn("place order failed, not retried this tick", "local_id", a.LocalID, "error", err)
				continue
			}
			r.state = core.ApplyOrderTxid(r.state, a.LocalID, txid)

		case core.CancelOrderAction:
			if a.Txid == "" {
				continue
			}
			if _, err := r.Adapter.CancelOrder(ctx, a.Txid); err != nil {
				r.Logger.Warn("cancel order failed, best-effort only", "local_id", a.LocalID, "txid", a.Txid, "error", err)
			}

		case core.OrphanOrderAction:
			txid := r.recoveryTxid(a.RecoveryID)
			if txid == "" {
				continue
			}
			if _, err := r.Adapter.CancelOrder(ctx, txid); err != nil {
				r.Logger.Warn("orphan cancel failed, best-effort only", "recovery_id", a.RecoveryID, "txid", txid, "error", err)
			}

		case core.BookCycleAction:
			if r.FillSink == nil {
				continue
			}
			row := core.FillRow{
				Ts: r.state.Now, SlotID: r.SlotID, TradeID: a.TradeID, Cycle: a.Cycle,
				Price: decimal.Zero, Volume: decimal.Zero,
				Profit: a.NetProfit, Fees: a.Fees,
			}
			if err := r.FillSink.RecordFill(ctx, row); err != nil {
				r.Logger.Warn("record fill failed", "error", err)
			}
		}
	}
}

func (r *Runtime) recoveryTxid(recoveryID int64) string {
	for _, rec := range r.state.RecoveryOrders {
		if rec.RecoveryID == recoveryID {
			return rec.Txid
		}
	}
	return ""
}

// normalizeMode keeps the mode flags consistent with order composition:
// after each apply, a single-sided S0 sets long_only/short_only; both
// sides returning clears both; an empty S0 clears both (resolves a
// bootstrap-pending placement error without halting the process).
func (r *Runtime) normalizeMode() {
	if core.DerivePhase(r.state) != core.PhaseS0 {
		return
	}
	var hasBuy, hasSell bool
	for _, o := range r.state.Orders {
		if o.Role != core.RoleEntry {
			continue
		}
		if o.Side == core.SideBuy {
			hasBuy = true
		} else {
			hasSell = true
		}
	}
	switch {
	case hasBuy && !hasSell:
		r.state.LongOnly, r.state.ShortOnly = true, false
	case hasSell && !hasBuy:
		r.state.ShortOnly, r.state.LongOnly = true, false
	case hasBuy && hasSell:
		r.state.LongOnly, r.state.ShortOnly = false, false
	default:
		r.state.LongOnly, r.state.ShortOnly = false, false
	}
}

// checkInvariants halts the slot on any violation that isn't one of the
// two known-transient patterns (min-size-wait and bootstrap-pending).
func (r *Runtime) checkInvariants() {
	if core.IsTransientViolation(r.state) {
		return
	}
	violations := core.CheckInvariants(r.state)
	if len(violations) == 0 {
		return
	}
	r.mode = ModeHalted
	r.lastErr = fmt.Sprintf("invariant violation: %v", violations)
	r.Logger.Error("slot halted on invariant violation", "violations", violations)
}

func (r *Runtime) maybeSnapshot(ctx context.Context) {
	r.eventsSince++
	if r.SnapshotStore == nil || r.eventsSince < r.snapshotEveryN {
		return
	}
	if err := r.snapshotLocked(ctx); err != nil {
		r.Logger.Warn("periodic snapshot failed, continuing", "error", err)
		return
	}
	r.eventsSince = 0
}

// Snapshot persists the current state, keyed by the latest event_id, so
// restore only has to replay events after this point.
func (r *Runtime) Snapshot(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(ctx)
}

func (r *Runtime) snapshotLocked(ctx context.Context) error {
	if r.SnapshotStore == nil {
		return nil
	}
	stateJSON, err := json.Marshal(r.state)
	if err != nil {
		return fmt.Errorf("slot: marshal snapshot state: %w", err)
	}
	eventID := int64(0)
	if r.EventIDs != nil {
		eventID = r.EventIDs.Last()
	}
	row := core.SnapshotRow{
		SlotID: r.SlotID, EventID: eventID, StateJSON: stateJSON,
		LongOnly: r.state.LongOnly, ShortOnly: r.state.ShortOnly,
		LossCountA: r.state.ConsecutiveLossesA, LossCountB: r.state.ConsecutiveLossesB,
		Ts: r.state.Now,
	}
	return r.SnapshotStore.Put(ctx, row)
}

// Restore reconstructs the slot's state from a snapshot plus every event
// row written after it.
func (r *Runtime) Restore(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	afterEventID := int64(0)
	if r.SnapshotStore != nil {
		if row, ok, err := r.SnapshotStore.Get(ctx, r.SlotID); err != nil {
			return fmt.Errorf("slot: load snapshot: %w", err)
		} else if ok {
			var restored core.PairState
			if err := json.Unmarshal(row.StateJSON, &restored); err != nil {
				return fmt.Errorf("slot: unmarshal snapshot: %w", err)
			}
			r.state = restored
			afterEventID = row.EventID
		}
	}

	if r.EventStore == nil {
		return nil
	}
	rows, err := r.EventStore.ReadSince(ctx, r.SlotID, afterEventID)
	if err != nil {
		return fmt.Errorf("slot: read event log since %d: %w", afterEventID, err)
	}
	for _, row := range rows {
		if row.Kind == "Bootstrap" {
			var payload struct {
				OrderSizeUSD float64 `json:"order_size_usd"`
			}
			if err := json.Unmarshal(row.PayloadRaw, &payload); err != nil {
				return fmt.Errorf("slot: decode bootstrap payload %d: %w", row.EventID, err)
			}
			r.state, _ = core.BootstrapOrders(r.state, r.Cfg, payload.OrderSizeUSD, !r.state.ShortOnly, !r.state.LongOnly)
			continue
		}
		event, err := decodeEventRow(row)
		if err != nil {
			return fmt.Errorf("slot: decode event %d: %w", row.EventID, err)
		}
		if txid, ok := eventTxid(event); ok && txid != "" && r.seen.Contains(txid) {
			continue
		}
		r.state, _ = core.Transition(r.state, event, r.Cfg, r.OrderSizeUSD)
		if txid, ok := eventTxid(event); ok && txid != "" {
			r.seen.Add(txid)
		}
	}
	r.normalizeMode()
	return nil
}

// ReconcileOnStartup replays this slot's missed fills: for every persisted
// order whose txid is no longer in the live open-order set, look for a
// matching trade in recentTrades and synthesize exactly one
// FillEvent (or RecoveryFillEvent, for orders already in the recovery side
// channel) with the aggregated volume/price/fee. The seen_fill_txids guard
// on ApplyEvent prevents double application across repeated startups.
func (r *Runtime) ReconcileOnStartup(ctx context.Context, liveOrders map[string]core.OpenOrder, recentTrades map[string]core.TradeRecord) (int, error) {
	r.mu.Lock()
	orders := append([]core.OrderState(nil), r.state.Orders...)
	recoveries := append([]core.RecoveryOrder(nil), r.state.RecoveryOrders...)
	r.mu.Unlock()

	replayed := 0
	for _, o := range orders {
		if o.Txid == "" {
			continue
		}
		if _, live := liveOrders[o.Txid]; live {
			continue
		}
		fill, ok := aggregateTrades(o.Txid, recentTrades)
		if !ok {
			continue
		}
		event := core.FillEvent{
			OrderLocalID: o.LocalID, Txid: o.Txid, Side: o.Side,
			Price: fill.Price, Volume: fill.Volume, Fee: fill.Fee, Timestamp: fill.Ts,
		}
		if _, err := r.ApplyEvent(ctx, event); err != nil {
			return replayed, fmt.Errorf("slot: replay missed fill for local_id %d: %w", o.LocalID, err)
		}
		replayed++
	}

	for _, rec := range recoveries {
		if rec.Txid == "" {
			continue
		}
		if _, live := liveOrders[rec.Txid]; live {
			continue
		}
		fill, ok := aggregateTrades(rec.Txid, recentTrades)
		if !ok {
			continue
		}
		event := core.RecoveryFillEvent{
			RecoveryID: rec.RecoveryID, Txid: rec.Txid, Side: rec.Side,
			Price: fill.Price, Volume: fill.Volume, Fee: fill.Fee, Timestamp: fill.Ts,
		}
		if _, err := r.ApplyEvent(ctx, event); err != nil {
			return replayed, fmt.Errorf("slot: replay missed recovery fill for recovery_id %d: %w", rec.RecoveryID, err)
		}
		replayed++
	}
	return replayed, nil
}

// FillAggregate is the result of summing every trade row that fills one
// order.
type FillAggregate struct {
	Volume, Price, Fee decimal.Decimal
	Ts                 float64
}

// AggregateFill sums every trade row whose OrderTxid matches txid: volume =
// Σ executed, price = cost/volume, fee = Σ fee, ts = latest trade ts. Used
// both by startup reconciliation and by the per-loop scheduler's fill
// synthesis.
func AggregateFill(txid string, recentTrades map[string]core.TradeRecord) (FillAggregate, bool) {
	return aggregateTrades(txid, recentTrades)
}

func aggregateTrades(txid string, recentTrades map[string]core.TradeRecord) (FillAggregate, bool) {
	volume := decimal.Zero
	cost := decimal.Zero
	fee := decimal.Zero
	var ts float64
	found := false
	for _, t := range recentTrades {
		if t.OrderTxid != txid {
			continue
		}
		found = true
		volume = volume.Add(t.Volume)
		cost = cost.Add(t.Cost)
		fee = fee.Add(t.Fee)
		if t.Time > ts {
			ts = t.Time
		}
	}
	if !found || volume.Sign() <= 0 {
		return FillAggregate{}, false
	}
	return FillAggregate{Volume: volume, Price: cost.Div(volume), Fee: fee, Ts: ts}, true
}

// OwnedTxids returns every live-order txid this slot currently believes it
// owns (resting orders plus orphaned recovery orders), so the top-level
// reconciler can tell owned orders apart from ghost exchange orders.
func (r *Runtime) OwnedTxids() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	owned := make(map[string]bool, len(r.state.Orders)+len(r.state.RecoveryOrders))
	for _, o := range r.state.Orders {
		if o.Txid != "" {
			owned[o.Txid] = true
		}
	}
	for _, rec := range r.state.RecoveryOrders {
		if rec.Txid != "" {
			owned[rec.Txid] = true
		}
	}
	return owned
}

// ExpectedFreeEntry reports whether this slot has a free S0 entry slot for
// side, and the grid price it expects there, for the reconciler's
// adoption-tolerance check. ok is false if the slot already has an entry on
// that side (nothing to adopt into).
func (r *Runtime) ExpectedFreeEntry(side core.Side) (price decimal.Decimal, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if core.DerivePhase(r.state) != core.PhaseS0 {
		return decimal.Zero, false
	}
	for _, o := range r.state.Orders {
		if o.Role == core.RoleEntry && o.Side == side {
			return decimal.Zero, false
		}
	}
	buy, sell := core.ExpectedEntryPrices(r.state.MarketPrice, r.Cfg)
	if side == core.SideBuy {
		return buy, true
	}
	return sell, true
}

// AdoptEntryOrder binds a live orphan order into this slot's free S0
// entry slot without routing through Transition (it is startup state
// surgery, not an event the exchange generated for us).
func (r *Runtime) AdoptEntryOrder(ctx context.Context, order core.OpenOrder, tradeID core.TradeId) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cycle := r.state.CycleA
	if tradeID == core.TradeB {
		cycle = r.state.CycleB
	}
	nextState, action := core.AddEntryOrder(r.state, r.Cfg, order.Side, tradeID, cycle, order.Volume.Mul(order.Price).InexactFloat64(), "adopted_orphan")
	if action == nil {
		return fmt.Errorf("slot: could not adopt orphan order %s into slot %d", order.Txid, r.SlotID)
	}
	r.state = core.ApplyOrderTxid(nextState, action.LocalID, order.Txid)
	r.normalizeMode()
	r.Logger.Info("adopted orphan order", "txid", order.Txid, "side", order.Side, "trade_id", tradeID)
	return nil
}

// StatusPayload reports this slot's operator-visible state.
func (r *Runtime) StatusPayload() StatusPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	breakerOpen := false
	if r.Breaker != nil {
		breakerOpen = r.Breaker.IsOpen()
	}
	return StatusPayload{
		SlotID: r.SlotID, Mode: r.mode, LastError: r.lastErr,
		CircuitBreakerOpen: breakerOpen,
		RecoveryQueueDepth: len(r.state.RecoveryOrders),
		OpenOrderCount:     len(r.state.Orders),
	}
}

// Pause and Resume let an operator halt/restart action execution for a slot
// without losing its state.
func (r *Runtime) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode == ModeRunning {
		r.mode = ModePaused
	}
}

func (r *Runtime) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode == ModePaused {
		r.mode = ModeRunning
	}
}

func decodeEventRow(row core.EventRow) (core.Event, error) {
	switch row.Kind {
	case "PriceTick":
		var e core.PriceTick
		return e, json.Unmarshal(row.PayloadRaw, &e)
	case "TimerTick":
		var e core.TimerTick
		return e, json.Unmarshal(row.PayloadRaw, &e)
	case "FillEvent":
		var e core.FillEvent
		return e, json.Unmarshal(row.PayloadRaw, &e)
	case "RecoveryFillEvent":
		var e core.RecoveryFillEvent
		return e, json.Unmarshal(row.PayloadRaw, &e)
	case "RecoveryCancelEvent":
		var e core.RecoveryCancelEvent
		return e, json.Unmarshal(row.PayloadRaw, &e)
	default:
		return nil, fmt.Errorf("unknown event kind %q", row.Kind)
	}
}
