package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:  "expand single env var",
			input: "api_key: ${TEST_API_KEY}",
			envVars: map[string]string{
				"TEST_API_KEY": "test_key_123",
			},
			expected: "api_key: test_key_123",
		},
		{
			name:  "expand multiple env vars",
			input: "api_key: ${API_KEY}\nsecret: ${SECRET_KEY}",
			envVars: map[string]string{
				"API_KEY":    "key_value",
				"SECRET_KEY": "secret_value",
			},
			expected: "api_key: key_value\nsecret: secret_value",
		},
		{
			name:     "missing env var returns empty string",
			input:    "api_key: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "api_key: ",
		},
		{
			name:  "mixed static and env vars",
			input: "static_value: 123\napi_key: ${TEST_KEY}",
			envVars: map[string]string{
				"TEST_KEY": "dynamic_key",
			},
			expected: "static_value: 123\napi_key: dynamic_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}

			result := expandEnvVars(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "config-test-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	configContent := `app:
  active_exchange: "binance"
  event_log_path: "pairgrid.db"
  health_port: 8090

exchanges:
  binance:
    api_key: "${TEST_BINANCE_API_KEY}"
    secret_key: "${TEST_BINANCE_SECRET_KEY}"
    fee_rate: 0.0002

pair:
  pair: "DOGEUSD"
  order_notional_usd: 2.0
  entry_pct: 0.2
  profit_pct: 1.0
  refresh_pct: 1.0
  price_decimals: 6
  volume_decimals: 0
  min_volume: 13
  maker_fee_pct: 0.25
  stale_price_max_age_sec: 60
  s1_orphan_after_sec: 600
  s2_orphan_after_sec: 1800
  loss_backoff_start: 3
  loss_cooldown_start: 5
  loss_cooldown_sec: 900
  backoff_factor: 0.5
  backoff_max_multiplier: 5
  max_consecutive_refreshes: 3
  refresh_cooldown_sec: 300

scheduler:
  loop_interval_sec: 20
  max_api_calls_per_loop: 15
  snapshot_interval_sec: 300
  num_slots: 3
  worker_pool_size: 4

system:
  log_level: "INFO"
  cancel_on_exit: true

timing:
  websocket_reconnect_delay: 5
  websocket_ping_interval: 20
  http_timeout_sec: 15
`

	_, err = tmpFile.Write([]byte(configContent))
	require.NoError(t, err)
	tmpFile.Close()

	os.Setenv("TEST_BINANCE_API_KEY", "test_api_key_from_env")
	os.Setenv("TEST_BINANCE_SECRET_KEY", "test_secret_key_from_env")
	defer os.Unsetenv("TEST_BINANCE_API_KEY")
	defer os.Unsetenv("TEST_BINANCE_SECRET_KEY")

	config, err := LoadConfig(tmpFile.Name())
	require.NoError(t, err, "LoadConfig() error")

	binanceConfig := config.Exchanges["binance"]
	assert.Equal(t, Secret("test_api_key_from_env"), binanceConfig.APIKey)
	assert.Equal(t, Secret("test_secret_key_from_env"), binanceConfig.SecretKey)
	assert.Equal(t, "DOGEUSD", config.Pair.Pair)
	assert.Equal(t, 20, config.Scheduler.LoopIntervalSec)
}

func TestIsCriticalEnvVar(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		expected bool
	}{
		{"binance api key is critical", "BINANCE_API_KEY", true},
		{"binance secret is critical", "BINANCE_SECRET_KEY", true},
		{"okx api key is critical", "OKX_API_KEY", true},
		{"okx secret is critical", "OKX_SECRET_KEY", true},
		{"okx passphrase is critical", "OKX_PASSPHRASE", true},
		{"bybit api key is critical", "BYBIT_API_KEY", true},
		{"bybit secret is critical", "BYBIT_SECRET_KEY", true},
		{"random var is not critical", "RANDOM_VAR", false},
		{"empty var is not critical", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isCriticalEnvVar(tt.envVar)
			assert.Equal(t, tt.expected, result, "isCriticalEnvVar(%q)", tt.envVar)
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Exchanges: map[string]ExchangeConfig{
			"test": {
				APIKey:    Secret("my_super_secret_api_key"),
				SecretKey: Secret("my_super_secret_secret_key"),
			},
		},
	}
	output := cfg.String()

	assert.Contains(t, output, "********", "output should contain masked characters")

	assert.NotContains(t, output, "my_super_secret_api_key", "output should NOT contain full API key")
	assert.NotContains(t, output, "my_super_secret_secret_key", "output should NOT contain full secret key")
	assert.NotContains(t, output, "my_s", "output should NOT contain partial secret parts")
}

func TestPairConfigToEngineConfig(t *testing.T) {
	p := DefaultConfig().Pair
	eng := p.ToEngineConfig()

	assert.Equal(t, p.EntryPct, eng.EntryPct)
	assert.Equal(t, p.ProfitPct, eng.ProfitPct)
	assert.Equal(t, p.OrderNotionalUSD, eng.OrderSizeUSD)
	assert.Equal(t, p.PriceDecimals, eng.PriceDecimals)
}

func TestValidateRejectsMissingPair(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pair.Pair = ""
	err := cfg.Validate()
	require.Error(t, err)
}
