package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricNetProfitTotal       = "pairgrid_net_profit_total"
	MetricFeesTotal            = "pairgrid_fees_total"
	MetricRoundTripsTotal      = "pairgrid_round_trips_total"
	MetricOrdersActive         = "pairgrid_orders_active"
	MetricRecoveryOrdersActive = "pairgrid_recovery_orders_active"
	MetricPhase                = "pairgrid_phase"
	MetricConsecutiveLosses    = "pairgrid_consecutive_losses"
	MetricCooldownActive       = "pairgrid_cooldown_active"
	MetricCircuitBreakerOpen   = "pairgrid_circuit_breaker_open"
	MetricRateLimiterBudget    = "pairgrid_rate_limiter_budget"
	MetricLatencyExchange      = "pairgrid_latency_exchange_ms"
	MetricLatencyLoop          = "pairgrid_latency_loop_ms"
	MetricAPICallsUsedTotal    = "pairgrid_api_calls_used_total"
	MetricShadowDivergenceTotal = "pairgrid_shadow_divergence_total"
)

// MetricsHolder holds the initialized slot, adapter and scheduler
// instruments. Setup and InitMetrics initialize them; no other package in
// this module records to them or calls the setters below.
type MetricsHolder struct {
	NetProfitTotal       metric.Float64Counter
	FeesTotal            metric.Float64Counter
	RoundTripsTotal      metric.Int64Counter
	OrdersActive         metric.Int64ObservableGauge
	RecoveryOrdersActive metric.Int64ObservableGauge
	Phase                metric.Int64ObservableGauge
	ConsecutiveLosses    metric.Int64ObservableGauge
	CooldownActive       metric.Int64ObservableGauge
	CircuitBreakerOpen   metric.Int64ObservableGauge
	RateLimiterBudget    metric.Float64ObservableGauge
	LatencyExchange      metric.Float64Histogram
	LatencyLoop          metric.Float64Histogram
	APICallsUsedTotal    metric.Int64Counter
	ShadowDivergenceTotal metric.Int64Counter

	mu                sync.RWMutex
	activeOrdersMap   map[string]int64
	recoveryOrdersMap map[string]int64
	phaseMap          map[string]int64
	lossesMap         map[string]int64
	cooldownMap       map[string]int64
	cbOpenMap         map[string]int64
	budgetMap         map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			activeOrdersMap:   make(map[string]int64),
			recoveryOrdersMap: make(map[string]int64),
			phaseMap:          make(map[string]int64),
			lossesMap:         make(map[string]int64),
			cooldownMap:       make(map[string]int64),
			cbOpenMap:         make(map[string]int64),
			budgetMap:         make(map[string]float64),
		}
	})
	return globalMetrics
}

// PhaseCode maps a phase label to the integer the gauge reports.
func PhaseCode(phase string) int64 {
	switch phase {
	case "S1a":
		return 1
	case "S1b":
		return 2
	case "S2":
		return 3
	default:
		return 0
	}
}

// InitMetrics initializes instruments using the meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.NetProfitTotal, err = meter.Float64Counter(MetricNetProfitTotal, metric.WithDescription("Cumulative net profit across booked cycles"))
	if err != nil {
		return err
	}

	m.FeesTotal, err = meter.Float64Counter(MetricFeesTotal, metric.WithDescription("Cumulative fees paid"))
	if err != nil {
		return err
	}

	m.RoundTripsTotal, err = meter.Int64Counter(MetricRoundTripsTotal, metric.WithDescription("Total completed round trips"))
	if err != nil {
		return err
	}

	m.APICallsUsedTotal, err = meter.Int64Counter(MetricAPICallsUsedTotal, metric.WithDescription("Private exchange calls consumed by the scheduler"))
	if err != nil {
		return err
	}

	m.ShadowDivergenceTotal, err = meter.Int64Counter(MetricShadowDivergenceTotal, metric.WithDescription("Shadow backend divergences from the authoritative reducer"))
	if err != nil {
		return err
	}

	m.LatencyExchange, err = meter.Float64Histogram(MetricLatencyExchange, metric.WithDescription("Latency of exchange API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.LatencyLoop, err = meter.Float64Histogram(MetricLatencyLoop, metric.WithDescription("Duration of one scheduler loop"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.OrdersActive, err = meter.Int64ObservableGauge(MetricOrdersActive, metric.WithDescription("Number of currently resting orders"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for slot, val := range m.activeOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("slot", slot)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.RecoveryOrdersActive, err = meter.Int64ObservableGauge(MetricRecoveryOrdersActive, metric.WithDescription("Number of orders in the recovery side channel"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for slot, val := range m.recoveryOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("slot", slot)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.Phase, err = meter.Int64ObservableGauge(MetricPhase, metric.WithDescription("Current phase (0=S0,1=S1a,2=S1b,3=S2)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for slot, val := range m.phaseMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("slot", slot)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.ConsecutiveLosses, err = meter.Int64ObservableGauge(MetricConsecutiveLosses, metric.WithDescription("Consecutive losses for a trade leg"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for key, val := range m.lossesMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("trade", key)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.CooldownActive, err = meter.Int64ObservableGauge(MetricCooldownActive, metric.WithDescription("Loss cooldown active (1=active, 0=not)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for key, val := range m.cooldownMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("trade", key)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.CircuitBreakerOpen, err = meter.Int64ObservableGauge(MetricCircuitBreakerOpen, metric.WithDescription("Exchange circuit breaker open state (1=open, 0=closed)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for key, val := range m.cbOpenMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("adapter", key)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.RateLimiterBudget, err = meter.Float64ObservableGauge(MetricRateLimiterBudget, metric.WithDescription("Remaining rate limiter token budget"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for key, val := range m.budgetMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("adapter", key)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state.

func (m *MetricsHolder) SetActiveOrders(slotID string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeOrdersMap[slotID] = count
}

func (m *MetricsHolder) SetRecoveryOrders(slotID string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoveryOrdersMap[slotID] = count
}

func (m *MetricsHolder) SetPhase(slotID string, phase string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phaseMap[slotID] = PhaseCode(phase)
}

func (m *MetricsHolder) SetConsecutiveLosses(tradeKey string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lossesMap[tradeKey] = count
}

func (m *MetricsHolder) SetCooldownActive(tradeKey string, active bool) {
	val := int64(0)
	if active {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldownMap[tradeKey] = val
}

func (m *MetricsHolder) SetCircuitBreakerOpen(adapter string, open bool) {
	val := int64(0)
	if open {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cbOpenMap[adapter] = val
}

func (m *MetricsHolder) SetRateLimiterBudget(adapter string, budget float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budgetMap[adapter] = budget
}

func (m *MetricsHolder) GetActiveOrders() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.activeOrdersMap {
		res[k] = v
	}
	return res
}
