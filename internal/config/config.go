// Package config handles configuration management with validation.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"pairgrid/internal/core"
)

// Config represents the complete configuration structure.
type Config struct {
	App       AppConfig                 `yaml:"app"`
	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`
	Pair      PairConfig                `yaml:"pair"`
	Scheduler SchedulerConfig           `yaml:"scheduler"`
	System    SystemConfig              `yaml:"system"`
	Timing    TimingConfig              `yaml:"timing"`
	Telemetry TelemetryConfig           `yaml:"telemetry"`
}

// AppConfig contains process-level settings.
type AppConfig struct {
	ActiveExchange string `yaml:"active_exchange" validate:"required,oneof=binance bitget gate okx bybit mock"`
	EventLogPath   string `yaml:"event_log_path" validate:"required"`
	HealthPort     int    `yaml:"health_port" validate:"min=0,max=65535"`
}

// ExchangeConfig contains exchange-specific credentials and settings.
type ExchangeConfig struct {
	APIKey     Secret  `yaml:"api_key" validate:"required"`
	SecretKey  Secret  `yaml:"secret_key" validate:"required"`
	Passphrase Secret  `yaml:"passphrase"`
	BaseURL    string  `yaml:"base_url"`
	WSBaseURL  string  `yaml:"ws_base_url"`
	FeeRate    float64 `yaml:"fee_rate" validate:"required,min=0,max=1"`
}

// PairConfig mirrors core.EngineConfig's fields plus the pair identifier,
// the minimal env-driven surface the core needs.
type PairConfig struct {
	Pair                    string  `yaml:"pair" validate:"required"`
	OrderNotionalUSD        float64 `yaml:"order_notional_usd" validate:"required,min=0"`
	EntryPct                float64 `yaml:"entry_pct" validate:"required,min=0"`
	ProfitPct               float64 `yaml:"profit_pct" validate:"required,min=0"`
	RefreshPct              float64 `yaml:"refresh_pct" validate:"min=0"`
	PriceDecimals           int32   `yaml:"price_decimals"`
	VolumeDecimals          int32   `yaml:"volume_decimals"`
	MinVolume               float64 `yaml:"min_volume"`
	MinCostUSD              float64 `yaml:"min_cost_usd"`
	MakerFeePct             float64 `yaml:"maker_fee_pct"`
	StalePriceMaxAgeSec     float64 `yaml:"stale_price_max_age_sec"`
	S1OrphanAfterSec        float64 `yaml:"s1_orphan_after_sec"`
	S2OrphanAfterSec        float64 `yaml:"s2_orphan_after_sec"`
	LossBackoffStart        int     `yaml:"loss_backoff_start"`
	LossCooldownStart       int     `yaml:"loss_cooldown_start"`
	LossCooldownSec         float64 `yaml:"loss_cooldown_sec"`
	BackoffFactor           float64 `yaml:"backoff_factor"`
	BackoffMaxMultiplier    float64 `yaml:"backoff_max_multiplier"`
	MaxConsecutiveRefreshes int     `yaml:"max_consecutive_refreshes"`
	RefreshCooldownSec      float64 `yaml:"refresh_cooldown_sec"`
}

// ToEngineConfig converts the YAML-facing config into the reducer's
// EngineConfig.
func (p PairConfig) ToEngineConfig() core.EngineConfig {
	return core.EngineConfig{
		EntryPct:                p.EntryPct,
		ProfitPct:               p.ProfitPct,
		RefreshPct:              p.RefreshPct,
		OrderSizeUSD:            p.OrderNotionalUSD,
		PriceDecimals:           p.PriceDecimals,
		VolumeDecimals:          p.VolumeDecimals,
		MinVolume:               p.MinVolume,
		MinCostUSD:              p.MinCostUSD,
		MakerFeePct:             p.MakerFeePct,
		StalePriceMaxAgeSec:     p.StalePriceMaxAgeSec,
		S1OrphanAfterSec:        p.S1OrphanAfterSec,
		S2OrphanAfterSec:        p.S2OrphanAfterSec,
		LossBackoffStart:        p.LossBackoffStart,
		LossCooldownStart:       p.LossCooldownStart,
		LossCooldownSec:         p.LossCooldownSec,
		BackoffFactor:           p.BackoffFactor,
		BackoffMaxMultiplier:    p.BackoffMaxMultiplier,
		MaxConsecutiveRefreshes: p.MaxConsecutiveRefreshes,
		RefreshCooldownSec:      p.RefreshCooldownSec,
	}
}

// SchedulerConfig contains the per-loop scheduler's cadence and budget.
type SchedulerConfig struct {
	LoopIntervalSec     int `yaml:"loop_interval_sec" validate:"required,min=1,max=3600"`
	MaxAPICallsPerLoop  int `yaml:"max_api_calls_per_loop" validate:"required,min=1,max=1000"`
	SnapshotIntervalSec int `yaml:"snapshot_interval_sec" validate:"required,min=1,max=86400"`
	NumSlots            int `yaml:"num_slots" validate:"required,min=1,max=256"`
	WorkerPoolSize      int `yaml:"worker_pool_size" validate:"min=0,max=256"`
}

// SystemConfig contains system settings.
type SystemConfig struct {
	LogLevel     string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	CancelOnExit bool   `yaml:"cancel_on_exit"`
}

// TimingConfig contains timing-related settings for the exchange adapter's
// websocket and HTTP transport.
type TimingConfig struct {
	WebsocketReconnectDelay int `yaml:"websocket_reconnect_delay" validate:"min=1,max=300"`
	WebsocketPingInterval   int `yaml:"websocket_ping_interval" validate:"min=1,max=300"`
	HTTPTimeoutSec          int `yaml:"http_timeout_sec" validate:"min=1,max=300"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable
// expansion.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateAppConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateExchanges(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validatePairConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSchedulerConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	validExchanges := []string{"binance", "bitget", "gate", "okx", "bybit", "mock"}

	if c.App.ActiveExchange == "" {
		return ValidationError{Field: "app.active_exchange", Message: "an active exchange must be set"}
	}
	if !contains(validExchanges, c.App.ActiveExchange) {
		return ValidationError{
			Field:   "app.active_exchange",
			Value:   c.App.ActiveExchange,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validExchanges, ", ")),
		}
	}
	if c.App.ActiveExchange == "mock" {
		return nil
	}
	if _, exists := c.Exchanges[c.App.ActiveExchange]; !exists {
		return ValidationError{
			Field:   "app.active_exchange",
			Value:   c.App.ActiveExchange,
			Message: "exchange configuration not found in exchanges section",
		}
	}
	return nil
}

func (c *Config) validateExchanges() error {
	if c.App.ActiveExchange == "mock" {
		return nil
	}
	if len(c.Exchanges) == 0 {
		return ValidationError{Field: "exchanges", Message: "at least one exchange must be configured"}
	}
	for name, exchange := range c.Exchanges {
		if exchange.APIKey == "" {
			return ValidationError{Field: fmt.Sprintf("exchanges.%s.api_key", name), Message: "API key is required"}
		}
		if exchange.SecretKey == "" {
			return ValidationError{Field: fmt.Sprintf("exchanges.%s.secret_key", name), Message: "secret key is required"}
		}
	}
	return nil
}

func (c *Config) validatePairConfig() error {
	if c.Pair.Pair == "" {
		return ValidationError{Field: "pair.pair", Message: "pair identifier is required"}
	}
	if c.Pair.OrderNotionalUSD <= 0 {
		return ValidationError{Field: "pair.order_notional_usd", Value: c.Pair.OrderNotionalUSD, Message: "order notional must be positive"}
	}
	if c.Pair.EntryPct <= 0 {
		return ValidationError{Field: "pair.entry_pct", Value: c.Pair.EntryPct, Message: "entry percent must be positive"}
	}
	if c.Pair.ProfitPct <= 0 {
		return ValidationError{Field: "pair.profit_pct", Value: c.Pair.ProfitPct, Message: "profit percent must be positive"}
	}
	return nil
}

func (c *Config) validateSchedulerConfig() error {
	if c.Scheduler.LoopIntervalSec <= 0 {
		return ValidationError{Field: "scheduler.loop_interval_sec", Value: c.Scheduler.LoopIntervalSec, Message: "loop interval must be positive"}
	}
	if c.Scheduler.MaxAPICallsPerLoop <= 0 {
		return ValidationError{Field: "scheduler.max_api_calls_per_loop", Value: c.Scheduler.MaxAPICallsPerLoop, Message: "API call budget must be positive"}
	}
	if c.Scheduler.NumSlots <= 0 {
		return ValidationError{Field: "scheduler.num_slots", Value: c.Scheduler.NumSlots, Message: "at least one slot must run"}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// GetActiveExchangeConfig returns the configuration for the active exchange.
func (c *Config) GetActiveExchangeConfig() (*ExchangeConfig, error) {
	exchange, exists := c.Exchanges[c.App.ActiveExchange]
	if !exists {
		return nil, fmt.Errorf("exchange configuration not found for: %s", c.App.ActiveExchange)
	}
	return &exchange, nil
}

// String returns a string representation of the configuration with
// sensitive fields masked.
func (c *Config) String() string {
	configCopy := *c
	configCopy.Exchanges = make(map[string]ExchangeConfig, len(c.Exchanges))
	for name, exchange := range c.Exchanges {
		exchange.APIKey = maskSecret(exchange.APIKey)
		exchange.SecretKey = maskSecret(exchange.SecretKey)
		exchange.Passphrase = maskSecret(exchange.Passphrase)
		configCopy.Exchanges[name] = exchange
	}

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		value := os.Getenv(key)
		if value == "" && isCriticalEnvVar(key) {
			return ""
		}
		return value
	})
}

// isCriticalEnvVar checks if an environment variable is critical for
// operation.
func isCriticalEnvVar(key string) bool {
	criticalVars := []string{
		"BINANCE_API_KEY", "BINANCE_SECRET_KEY",
		"OKX_API_KEY", "OKX_SECRET_KEY", "OKX_PASSPHRASE",
		"BYBIT_API_KEY", "BYBIT_SECRET_KEY",
	}
	return contains(criticalVars, key)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskSecret(s Secret) Secret {
	if s == "" {
		return s
	}
	return Secret("********")
}

// DefaultConfig returns a default configuration for testing.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			ActiveExchange: "binance",
			EventLogPath:   "pairgrid.db",
			HealthPort:     8090,
		},
		Exchanges: map[string]ExchangeConfig{
			"binance": {
				APIKey:    "test_api_key",
				SecretKey: "test_secret_key",
				FeeRate:   0.0002,
			},
		},
		Pair: PairConfig{
			Pair:                    "DOGEUSD",
			OrderNotionalUSD:        2.0,
			EntryPct:                0.2,
			ProfitPct:               1.0,
			RefreshPct:              1.0,
			PriceDecimals:           6,
			VolumeDecimals:          0,
			MinVolume:               13,
			MakerFeePct:             0.25,
			StalePriceMaxAgeSec:     60,
			S1OrphanAfterSec:        600,
			S2OrphanAfterSec:        1800,
			LossBackoffStart:        3,
			LossCooldownStart:       5,
			LossCooldownSec:         900,
			BackoffFactor:           0.5,
			BackoffMaxMultiplier:    5,
			MaxConsecutiveRefreshes: 3,
			RefreshCooldownSec:      300,
		},
		Scheduler: SchedulerConfig{
			LoopIntervalSec:     20,
			MaxAPICallsPerLoop:  15,
			SnapshotIntervalSec: 300,
			NumSlots:            1,
			WorkerPoolSize:      4,
		},
		System: SystemConfig{
			LogLevel:     "INFO",
			CancelOnExit: true,
		},
	}
}
