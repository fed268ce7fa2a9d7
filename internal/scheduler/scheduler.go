// Package scheduler implements the per-loop driver: a fixed-cadence tick
// that prices the market once, fans per-slot work out
// under a worker pool, and snapshots on a separate cadence.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"pairgrid/internal/core"
	"pairgrid/internal/slot"
	"pairgrid/pkg/concurrency"
)

const ordersPerQueryBatch = 50

// callsPerSlotEstimate is how many private calls processSlot may issue
// beyond the loop's shared QueryOrders/GetTradesHistory fetch (order
// placement/cancellation from the actions Transition returns). Used only to
// decide how many slots this loop can afford.
const callsPerSlotEstimate = 2

// Scheduler drives every registered slot at a fixed cadence via
// robfig/cron/v3.
type Scheduler struct {
	Adapter             core.ExchangeAdapter
	Pair                string
	Slots               map[int64]*slot.Runtime
	Pool                *concurrency.WorkerPool
	MaxAPICallsPerLoop  int
	SnapshotIntervalSec float64
	Logger              core.ILogger

	cron           *cron.Cron
	entryID        cron.EntryID
	mu             sync.Mutex
	lastSnapshotAt time.Time
	lastLoopErr    error
}

// NewScheduler wires a cron-driven scheduler around an adapter and a fixed
// set of slots. The cadence itself is given to Start.
func NewScheduler(adapter core.ExchangeAdapter, pair string, slots map[int64]*slot.Runtime, pool *concurrency.WorkerPool, maxAPICallsPerLoop int, snapshotIntervalSec float64, logger core.ILogger) *Scheduler {
	return &Scheduler{
		Adapter:             adapter,
		Pair:                pair,
		Slots:               slots,
		Pool:                pool,
		MaxAPICallsPerLoop:  maxAPICallsPerLoop,
		SnapshotIntervalSec: snapshotIntervalSec,
		Logger:              logger.WithField("component", "scheduler"),
		cron:                cron.New(),
	}
}

// Start schedules RunOnce at cronSpec (robfig/cron's standard 5-field
// syntax, or a descriptor such as "@every 15s") and begins the cron
// scheduler's own goroutine.
func (s *Scheduler) Start(ctx context.Context, cronSpec string) error {
	id, err := s.cron.AddFunc(cronSpec, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.Logger.Error("scheduler loop failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: schedule cadence %q: %w", cronSpec, err)
	}
	s.entryID = id
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler and waits for any in-flight loop to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func sortedSlotIDs(slots map[int64]*slot.Runtime) []int64 {
	ids := make([]int64, 0, len(slots))
	for id := range slots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func chunkStrings(in []string, size int) [][]string {
	var out [][]string
	for size < len(in) {
		in, out = in[size:], append(out, in[0:size:size])
	}
	return append(out, in)
}

// RunOnce executes one scheduler tick: price once, budget-cap the slots
// this loop will touch, fan their processing out under the worker pool, and
// snapshot if due.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	price, err := s.Adapter.GetPrice(ctx, s.Pair)
	if err != nil {
		return fmt.Errorf("scheduler: fetch price: %w", err)
	}
	ts := float64(time.Now().Unix())

	ids := sortedSlotIDs(s.Slots)
	budget := s.MaxAPICallsPerLoop
	var toProcess []int64
	for _, id := range ids {
		if budget < callsPerSlotEstimate {
			s.Logger.Warn("per-loop API budget exhausted, deferring remaining slots", "processed", len(toProcess), "deferred", len(ids)-len(toProcess))
			break
		}
		budget -= callsPerSlotEstimate
		toProcess = append(toProcess, id)
	}

	allTxids := s.collectTxids(toProcess)
	statuses, trades, err := s.fetchSharedState(ctx, allTxids, ts)
	if err != nil {
		return fmt.Errorf("scheduler: fetch shared order/trade state: %w", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error
	for _, id := range toProcess {
		sl := s.Slots[id]
		wg.Add(1)
		submitErr := s.Pool.Submit(func() {
			defer wg.Done()
			if err := s.processSlot(ctx, sl, price, ts, statuses, trades); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("slot %d: %w", id, err))
				mu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, fmt.Errorf("slot %d: submit: %w", id, submitErr))
			mu.Unlock()
		}
	}
	wg.Wait()

	s.maybeSnapshotAll(ctx)

	s.mu.Lock()
	if len(errs) > 0 {
		s.lastLoopErr = errs[0]
	} else {
		s.lastLoopErr = nil
	}
	s.mu.Unlock()

	if len(errs) > 0 {
		return fmt.Errorf("scheduler: %d slot(s) failed, first: %w", len(errs), errs[0])
	}
	return nil
}

func (s *Scheduler) collectTxids(ids []int64) []string {
	var txids []string
	for _, id := range ids {
		st := s.Slots[id].State()
		for _, o := range st.Orders {
			if o.Txid != "" {
				txids = append(txids, o.Txid)
			}
		}
		for _, rec := range st.RecoveryOrders {
			if rec.Txid != "" {
				txids = append(txids, rec.Txid)
			}
		}
	}
	return txids
}

// fetchSharedState fans the loop's two shared private calls out
// concurrently with golang.org/x/sync/errgroup: the batched order-status
// query (one private call per batch of at most 50 txids) and the trade
// history fetch fills are synthesized from.
func (s *Scheduler) fetchSharedState(ctx context.Context, txids []string, ts float64) (map[string]core.OrderStatus, map[string]core.TradeRecord, error) {
	var statuses map[string]core.OrderStatus
	var trades map[string]core.TradeRecord

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if len(txids) == 0 {
			statuses = map[string]core.OrderStatus{}
			return nil
		}
		merged := make(map[string]core.OrderStatus, len(txids))
		for _, batch := range chunkStrings(txids, ordersPerQueryBatch) {
			out, err := s.Adapter.QueryOrders(gctx, batch)
			if err != nil {
				return fmt.Errorf("query orders: %w", err)
			}
			for k, v := range out {
				merged[k] = v
			}
		}
		statuses = merged
		return nil
	})
	g.Go(func() error {
		out, err := s.Adapter.GetTradesHistory(gctx, ts-s.SnapshotIntervalSec)
		if err != nil {
			return fmt.Errorf("trades history: %w", err)
		}
		trades = out
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return statuses, trades, nil
}

// processSlot runs one slot's share of the loop: PriceTick, fill and
// recovery fill/cancel synthesis from the shared order-status/trade data,
// then TimerTick.
func (s *Scheduler) processSlot(ctx context.Context, sl *slot.Runtime, price decimal.Decimal, ts float64, statuses map[string]core.OrderStatus, trades map[string]core.TradeRecord) error {
	if _, err := sl.ApplyEvent(ctx, core.PriceTick{Price: price, Timestamp: ts}); err != nil {
		return fmt.Errorf("price tick: %w", err)
	}

	for _, o := range sl.State().Orders {
		if o.Txid == "" {
			continue
		}
		status, ok := statuses[o.Txid]
		if !ok || status.Status != "closed" {
			continue
		}
		fill, ok := slot.AggregateFill(o.Txid, trades)
		if !ok {
			continue
		}
		event := core.FillEvent{
			OrderLocalID: o.LocalID, Txid: o.Txid, Side: o.Side,
			Price: fill.Price, Volume: fill.Volume, Fee: fill.Fee, Timestamp: fill.Ts,
		}
		if _, err := sl.ApplyEvent(ctx, event); err != nil {
			return fmt.Errorf("fill event for local_id %d: %w", o.LocalID, err)
		}
	}

	for _, rec := range sl.State().RecoveryOrders {
		if rec.Txid == "" {
			continue
		}
		status, ok := statuses[rec.Txid]
		if !ok {
			continue
		}
		switch status.Status {
		case "closed":
			fill, ok := slot.AggregateFill(rec.Txid, trades)
			if !ok {
				continue
			}
			event := core.RecoveryFillEvent{
				RecoveryID: rec.RecoveryID, Txid: rec.Txid, Side: rec.Side,
				Price: fill.Price, Volume: fill.Volume, Fee: fill.Fee, Timestamp: fill.Ts,
			}
			if _, err := sl.ApplyEvent(ctx, event); err != nil {
				return fmt.Errorf("recovery fill for recovery_id %d: %w", rec.RecoveryID, err)
			}
		case "canceled":
			event := core.RecoveryCancelEvent{RecoveryID: rec.RecoveryID, Txid: rec.Txid, Timestamp: ts}
			if _, err := sl.ApplyEvent(ctx, event); err != nil {
				return fmt.Errorf("recovery cancel for recovery_id %d: %w", rec.RecoveryID, err)
			}
		}
	}

	if _, err := sl.ApplyEvent(ctx, core.TimerTick{Timestamp: ts}); err != nil {
		return fmt.Errorf("timer tick: %w", err)
	}
	return nil
}

// maybeSnapshotAll snapshots every slot once the configured interval has
// elapsed since the last one.
func (s *Scheduler) maybeSnapshotAll(ctx context.Context) {
	s.mu.Lock()
	due := time.Since(s.lastSnapshotAt).Seconds() >= s.SnapshotIntervalSec
	s.mu.Unlock()
	if !due {
		return
	}
	for id, sl := range s.Slots {
		if err := sl.Snapshot(ctx); err != nil {
			s.Logger.Warn("periodic snapshot failed", "slot_id", id, "error", err)
		}
	}
	s.mu.Lock()
	s.lastSnapshotAt = time.Now()
	s.mu.Unlock()
}

// LastLoopError returns the error from the most recently completed loop, if
// any, for the status endpoint.
func (s *Scheduler) LastLoopError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLoopErr
}
