package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairgrid/internal/core"
	"pairgrid/pkg/logging"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestRateLimiterConsumeDeductsBudget(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{MaxBudget: 15, DecayRate: 1, Overdraft: -2, SoftSleep: time.Millisecond}, nil, logging.Nop())
	before := rl.Available()
	require.NoError(t, rl.Consume(context.Background(), 1))
	after := rl.Available()
	assert.Less(t, after, before, "Consume must deduct from the budget")
}

func TestRateLimiterOverdraftFloor(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{MaxBudget: 15, DecayRate: 0, Overdraft: -2, SoftSleep: time.Millisecond}, nil, logging.Nop())
	for i := 0; i < 20; i++ {
		require.NoError(t, rl.Consume(context.Background(), 1))
	}
	assert.GreaterOrEqual(t, rl.Available(), -2.0, "budget must never sink below the configured overdraft floor")
}

func TestRateLimiterBlocksWhileBreakerOpen(t *testing.T) {
	cb := NewCircuitBreaker(logging.Nop())
	cb.ReportRateError()
	require.True(t, cb.IsOpen())

	rl := NewRateLimiter(DefaultRateLimiterConfig(), cb, logging.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := rl.Consume(ctx, 1)
	assert.Error(t, err, "Consume must block on an open breaker and time out against a short context")
}

func TestCircuitBreakerLockoutDurationFormula(t *testing.T) {
	assert.Equal(t, 5*time.Second, lockoutDuration(1))
	assert.Equal(t, 10*time.Second, lockoutDuration(2))
	assert.Equal(t, 20*time.Second, lockoutDuration(3))
	assert.Equal(t, 60*time.Second, lockoutDuration(10), "lockout must cap at 60s regardless of consecutive error count")
}

func TestCircuitBreakerReportSuccessResetsState(t *testing.T) {
	cb := NewCircuitBreaker(logging.Nop())
	cb.ReportRateError()
	require.True(t, cb.IsOpen())
	cb.ReportSuccess()
	assert.False(t, cb.IsOpen())
	assert.Equal(t, 0, cb.consecutiveErrs)
}

func TestMockAdapterPlaceQueryCancel(t *testing.T) {
	m := NewMockAdapter(d("0.1"))
	txid, err := m.PlaceLimitOrder(context.Background(), "DOGEUSD", core.SideBuy, d("20"), d("0.0998"), true)
	require.NoError(t, err)
	assert.NotEmpty(t, txid)

	open, err := m.GetOpenOrders(context.Background(), "DOGEUSD")
	require.NoError(t, err)
	assert.Contains(t, open, txid)

	ok, err := m.CancelOrder(context.Background(), txid)
	require.NoError(t, err)
	assert.True(t, ok)

	open, err = m.GetOpenOrders(context.Background(), "DOGEUSD")
	require.NoError(t, err)
	assert.NotContains(t, open, txid)
}

func TestMockAdapterFillRecordsTrade(t *testing.T) {
	m := NewMockAdapter(d("0.1"))
	txid, err := m.PlaceLimitOrder(context.Background(), "DOGEUSD", core.SideBuy, d("20"), d("0.0998"), true)
	require.NoError(t, err)

	m.Fill("trade-1", txid, d("20"), d("1.996"), d("0.002"), 500)

	trades, err := m.GetTradesHistory(context.Background(), 0)
	require.NoError(t, err)
	require.Contains(t, trades, "trade-1")
	assert.True(t, trades["trade-1"].Volume.Equal(d("20")))

	open, err := m.GetOpenOrders(context.Background(), "DOGEUSD")
	require.NoError(t, err)
	assert.NotContains(t, open, txid, "a filled order must no longer appear as open")
}

func TestHMACSignerAddsHeadersWithoutConsumingBody(t *testing.T) {
	body := `{"pair":"DOGEUSD"}`
	req, err := http.NewRequest(http.MethodPost, "http://example.invalid/private/AddOrder", strings.NewReader(body))
	require.NoError(t, err)

	signer := HMACSigner{APIKey: "key-123", SecretKey: "secret-456"}
	require.NoError(t, signer.SignRequest(req))

	assert.Equal(t, "key-123", req.Header.Get("X-API-Key"))

	mac := hmac.New(sha256.New, []byte("secret-456"))
	mac.Write([]byte(body))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), req.Header.Get("X-API-Signature"))

	got, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(got), "signing must not drain the request body before the real send")
}
