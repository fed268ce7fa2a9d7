// Command slotrunner is the pairgrid process entrypoint: it loads
// configuration, wires an exchange adapter, event log, and N slot
// runtimes, reconciles against live exchange state once at startup, then
// drives every slot from the per-loop scheduler until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"pairgrid/internal/config"
	"pairgrid/internal/core"
	"pairgrid/internal/eventlog"
	"pairgrid/internal/exchange"
	"pairgrid/internal/infrastructure/health"
	infrahttp "pairgrid/internal/infrastructure/http"
	"pairgrid/internal/infrastructure/metrics"
	"pairgrid/internal/reconcile"
	"pairgrid/internal/scheduler"
	"pairgrid/internal/shadow"
	"pairgrid/internal/slot"
	"pairgrid/pkg/concurrency"
	"pairgrid/pkg/logging"
	"pairgrid/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "slotrunner: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "slotrunner: logger init: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("slotrunner exited with error", "error", err)
	}
}

func run(cfg *config.Config, logger core.ILogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsSrv *metrics.Server
	if cfg.Telemetry.EnableMetrics {
		tel, err := telemetry.Setup("pairgrid")
		if err != nil {
			return fmt.Errorf("telemetry setup: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
		metricsSrv = metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
		metricsSrv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Stop(shutdownCtx)
		}()
	}

	adapter, err := buildAdapter(cfg, logger)
	if err != nil {
		return fmt.Errorf("build exchange adapter: %w", err)
	}
	if wsAdapter, ok := adapter.(interface{ StartPriceStream() }); ok {
		wsAdapter.StartPriceStream()
	}

	store, err := eventlog.NewSQLiteStore(cfg.App.EventLogPath)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer store.Close()

	maxEventID, err := store.MaxEventID(ctx)
	if err != nil {
		return fmt.Errorf("read max event id: %w", err)
	}
	eventIDs := slot.NewEventIDGenerator(maxEventID)

	shadowChecker := shadow.NewChecker()
	if shadowChecker.Enabled() {
		logger.Info("cross-backend shadow check enabled")
	}

	engineCfg := cfg.Pair.ToEngineConfig()
	orderSizeUSD := decimal.NewFromFloat(cfg.Pair.OrderNotionalUSD)

	marketPrice, err := adapter.GetPrice(ctx, cfg.Pair.Pair)
	if err != nil {
		return fmt.Errorf("fetch initial market price: %w", err)
	}

	slots := make(map[int64]*slot.Runtime, cfg.Scheduler.NumSlots)
	reconcileSlots := make(map[int64]reconcile.SlotRuntime, cfg.Scheduler.NumSlots)
	for i := 0; i < cfg.Scheduler.NumSlots; i++ {
		slotID := int64(i + 1)
		rt := slot.NewRuntime(slotID, cfg.Pair.Pair, engineCfg, orderSizeUSD,
			core.NewPairState(marketPrice, float64(time.Now().Unix())),
			adapter, store, store, store, eventIDs, logger)
		rt.Shadow = shadowChecker
		if a, ok := adapter.(*exchange.Adapter); ok {
			rt.Breaker = a.Breaker()
		}

		if err := rt.Restore(ctx); err != nil {
			return fmt.Errorf("restore slot %d: %w", slotID, err)
		}
		if len(rt.State().Orders) == 0 && len(rt.State().RecoveryOrders) == 0 {
			if _, err := rt.Bootstrap(ctx); err != nil {
				return fmt.Errorf("bootstrap slot %d: %w", slotID, err)
			}
		}

		slots[slotID] = rt
		reconcileSlots[slotID] = rt
	}

	if metricsSrv != nil {
		metricsSrv.RegisterGauge("pairgrid_open_orders",
			"Resting orders across all slots", func() float64 {
				total := 0
				for _, rt := range slots {
					total += len(rt.State().Orders)
				}
				return float64(total)
			})
		metricsSrv.RegisterGauge("pairgrid_recovery_orders",
			"Orphaned exits awaiting recovery across all slots", func() float64 {
				total := 0
				for _, rt := range slots {
					total += len(rt.State().RecoveryOrders)
				}
				return float64(total)
			})
		metricsSrv.RegisterGauge("pairgrid_total_profit",
			"Realized net profit across all slots", func() float64 {
				total := decimal.Zero
				for _, rt := range slots {
					total = total.Add(rt.State().TotalProfit)
				}
				return total.InexactFloat64()
			})
	}

	reconciler := reconcile.NewReconciler(adapter, cfg.Pair.Pair, reconcileSlots, logger)
	if _, err := reconciler.Reconcile(ctx, float64(time.Now().Unix())); err != nil {
		logger.Warn("startup reconciliation reported errors", "error", err)
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "slot-processing",
		MaxWorkers: cfg.Scheduler.WorkerPoolSize,
	}, logger)
	defer pool.Stop()

	sched := scheduler.NewScheduler(adapter, cfg.Pair.Pair, slots, pool,
		cfg.Scheduler.MaxAPICallsPerLoop, float64(cfg.Scheduler.SnapshotIntervalSec), logger)

	cronSpec := fmt.Sprintf("@every %ds", cfg.Scheduler.LoopIntervalSec)
	if err := sched.Start(ctx, cronSpec); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	hm := health.NewHealthManager(logger)
	hm.Register("scheduler", func() error { return sched.LastLoopError() })
	hm.Register("event_log", func() error {
		_, err := store.MaxEventID(context.Background())
		return err
	})
	hm.Register("worker_pool", pool.Healthcheck)
	statusFns := make(map[int64]func() interface{}, len(slots))
	for id, rt := range slots {
		rt := rt
		statusFns[id] = func() interface{} { return rt.StatusPayload() }
	}
	healthSrv := health.NewServer(cfg.App.HealthPort, hm, statusFns, logger)
	healthSrv.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = healthSrv.Stop(shutdownCtx)
	}()

	logger.Info("slotrunner running", "pair", cfg.Pair.Pair, "num_slots", cfg.Scheduler.NumSlots)
	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	if cfg.System.CancelOnExit {
		cancelAllOrders(context.Background(), adapter, slots, logger)
	}
	for id, rt := range slots {
		if err := rt.Snapshot(context.Background()); err != nil {
			logger.Warn("final snapshot failed", "slot_id", id, "error", err)
		}
	}
	return nil
}

// buildAdapter constructs the configured ExchangeAdapter. The "mock"
// active_exchange selects the in-memory adapter used for local runs and
// tests; anything else wires the rate-limited, circuit-broken REST/websocket
// adapter with a generic HMAC signer, since vendor-specific wire formats are
// out of this module's scope.
func buildAdapter(cfg *config.Config, logger core.ILogger) (core.ExchangeAdapter, error) {
	if cfg.App.ActiveExchange == "mock" {
		return exchange.NewMockAdapter(decimal.NewFromFloat(1.0)), nil
	}

	exCfg, err := cfg.GetActiveExchangeConfig()
	if err != nil {
		return nil, err
	}
	signer := exchange.HMACSigner{APIKey: string(exCfg.APIKey), SecretKey: string(exCfg.SecretKey)}
	timeout := time.Duration(cfg.Timing.HTTPTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := infrahttp.NewClient(exCfg.BaseURL, timeout, signer)

	paths := exchange.RESTPaths{
		Price:         "/public/price",
		PlaceOrder:    "/private/AddOrder",
		CancelOrder:   "/private/CancelOrder",
		QueryOrders:   "/private/QueryOrders",
		TradesHistory: "/private/TradesHistory",
		OpenOrders:    "/private/OpenOrders",
	}

	adapter := exchange.NewAdapter(cfg.Pair.Pair, httpClient, exCfg.WSBaseURL, paths, logger)
	return adapter, nil
}

func cancelAllOrders(ctx context.Context, adapter core.ExchangeAdapter, slots map[int64]*slot.Runtime, logger core.ILogger) {
	for id, rt := range slots {
		for txid := range rt.OwnedTxids() {
			if _, err := adapter.CancelOrder(ctx, txid); err != nil {
				logger.Warn("cancel-on-exit failed", "slot_id", id, "txid", txid, "error", err)
			}
		}
	}
}
