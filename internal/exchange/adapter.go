package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pairgrid/internal/core"
	infrahttp "pairgrid/internal/infrastructure/http"
	"pairgrid/pkg/apperrors"
	"pairgrid/pkg/idgen"
	"pairgrid/pkg/retry"
	"pairgrid/pkg/websocket"
)

// RESTPaths names the handful of endpoints Adapter calls. Concrete exchanges
// wire these in; Adapter itself never hardcodes a vendor's URL shape.
type RESTPaths struct {
	Price         string
	PlaceOrder    string
	CancelOrder   string
	QueryOrders   string
	TradesHistory string
	OpenOrders    string
}

// Adapter is the rate-limited, circuit-broken ExchangeAdapter
// implementation. It owns no vendor-specific wire format beyond what
// RESTPaths and the injected http.Client provide; concrete exchange
// packages would supply a Signer and response decoders.
type Adapter struct {
	pair    string
	http    *infrahttp.Client
	ws      *websocket.Client
	nonces  *idgen.NonceGenerator
	limiter *RateLimiter
	breaker *CircuitBreaker
	paths   RESTPaths
	logger  core.ILogger

	priceMu   sync.Mutex
	lastPrice decimal.Decimal
}

// NewAdapter wires an HTTP client, websocket price stream, nonce generator,
// rate limiter, and circuit breaker into one ExchangeAdapter.
func NewAdapter(pair string, httpClient *infrahttp.Client, wsURL string, paths RESTPaths, logger core.ILogger) *Adapter {
	a := &Adapter{
		pair:    pair,
		http:    httpClient,
		nonces:  idgen.NewNonceGenerator(),
		paths:   paths,
		logger:  logger.WithField("component", "exchange_adapter").WithField("pair", pair),
	}
	a.breaker = NewCircuitBreaker(logger)
	a.limiter = NewRateLimiter(DefaultRateLimiterConfig(), a.breaker, logger)
	if wsURL != "" {
		a.ws = websocket.NewClient(wsURL, a.onPriceMessage, logger)
		a.ws.SubscribeOnConnect(map[string]interface{}{
			"op":      "subscribe",
			"channel": "ticker",
			"pair":    pair,
		})
	}
	return a
}

// priceStaleAfter bounds how long a streamed price is trusted without a
// fresh frame before GetPrice falls back to REST.
const priceStaleAfter = 60 * time.Second

// Breaker exposes the adapter's circuit breaker so callers outside this
// package (the slot runtime's status_payload) can report its open/closed
// state without reimplementing it.
func (a *Adapter) Breaker() *CircuitBreaker {
	return a.breaker
}

// StartPriceStream begins the adapter's websocket price feed. Incoming
// prices update lastPrice, which GetPrice returns without a private-budget
// cost: price data is public and never counts against the per-loop API
// budget.
func (a *Adapter) StartPriceStream() {
	if a.ws == nil {
		return
	}
	a.ws.Start()
}

// StopPriceStream stops the websocket feed.
func (a *Adapter) StopPriceStream() {
	if a.ws == nil {
		return
	}
	a.ws.Stop()
}

func (a *Adapter) onPriceMessage(msg []byte) {
	var payload struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(msg, &payload); err != nil {
		a.logger.Warn("price stream: unparseable message", "error", err)
		return
	}
	p, err := decimal.NewFromString(payload.Price)
	if err != nil {
		return
	}
	a.priceMu.Lock()
	a.lastPrice = p
	a.priceMu.Unlock()
}

// GetPrice is a public call: no rate-limit budget is consumed. The
// streamed price is preferred, but only while the stream is live; a stale
// stream falls back to a REST fetch so a wedged websocket can't freeze the
// whole grid at an old price.
func (a *Adapter) GetPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	if a.ws != nil {
		a.priceMu.Lock()
		streamed := a.lastPrice
		a.priceMu.Unlock()
		if !streamed.IsZero() && time.Since(a.ws.LastMessageAt()) < priceStaleAfter {
			return streamed, nil
		}
	}
	var result decimal.Decimal
	err := retry.Do(ctx, retry.DefaultPolicy, isTransientHTTPError, func() error {
		body, err := a.http.Get(ctx, a.paths.Price, map[string]string{"pair": pair})
		if err != nil {
			return err
		}
		var out struct {
			Price string `json:"price"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return fmt.Errorf("decode price: %w", err)
		}
		result, err = decimal.NewFromString(out.Price)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	a.priceMu.Lock()
	a.lastPrice = result
	a.priceMu.Unlock()
	return result, nil
}

// PlaceLimitOrder is a private call: consumes rate-limit budget, signs the
// request via the nonce generator, and classifies failures into the
// sentinel errors in pkg/apperrors so the runtime can decide whether to
// retry on the next tick or drop the action.
func (a *Adapter) PlaceLimitOrder(ctx context.Context, pair string, side core.Side, volume, price decimal.Decimal, postOnly bool) (string, error) {
	if err := a.limiter.Consume(ctx, 1); err != nil {
		return "", err
	}
	nonce := a.nonces.Next()

	body, err := json.Marshal(map[string]interface{}{
		"pair":      pair,
		"side":      string(side),
		"volume":    volume.String(),
		"price":     price.String(),
		"post_only": postOnly,
		"nonce":     nonce,
	})
	if err != nil {
		return "", err
	}

	respBody, err := a.http.Post(ctx, a.paths.PlaceOrder, json.RawMessage(body))
	if err != nil {
		a.breaker.ReportRateError()
		return "", classifyError(err)
	}
	a.breaker.ReportSuccess()

	var out struct {
		Txid string `json:"txid"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode place order response: %w", err)
	}
	if out.Txid == "" {
		return "", apperrors.ErrOrderRejected
	}
	return out.Txid, nil
}

// CancelOrder is best-effort from the runtime's perspective: failure here
// is logged, not fatal, because the next reconcile pass handles leftovers.
func (a *Adapter) CancelOrder(ctx context.Context, txid string) (bool, error) {
	if err := a.limiter.Consume(ctx, 1); err != nil {
		return false, err
	}
	nonce := a.nonces.Next()
	body, _ := json.Marshal(map[string]interface{}{"txid": txid, "nonce": nonce})
	_, err := a.http.Post(ctx, a.paths.CancelOrder, json.RawMessage(body))
	if err != nil {
		a.breaker.ReportRateError()
		return false, classifyError(err)
	}
	a.breaker.ReportSuccess()
	return true, nil
}

// QueryOrders batches a status lookup for up to 50 txids in one private
// call. Callers are responsible for chunking beyond that size.
func (a *Adapter) QueryOrders(ctx context.Context, txids []string) (map[string]core.OrderStatus, error) {
	if len(txids) == 0 {
		return map[string]core.OrderStatus{}, nil
	}
	if err := a.limiter.Consume(ctx, 1); err != nil {
		return nil, err
	}
	nonce := a.nonces.Next()
	body, _ := json.Marshal(map[string]interface{}{"txids": txids, "nonce": nonce})
	respBody, err := a.http.Post(ctx, a.paths.QueryOrders, json.RawMessage(body))
	if err != nil {
		a.breaker.ReportRateError()
		return nil, classifyError(err)
	}
	a.breaker.ReportSuccess()

	var raw map[string]struct {
		Status     string `json:"status"`
		VolumeExec string `json:"vol_exec"`
		Price      string `json:"price"`
		Fee        string `json:"fee"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("decode query orders response: %w", err)
	}
	out := make(map[string]core.OrderStatus, len(raw))
	for txid, r := range raw {
		volExec, _ := decimal.NewFromString(r.VolumeExec)
		price, _ := decimal.NewFromString(r.Price)
		fee, _ := decimal.NewFromString(r.Fee)
		out[txid] = core.OrderStatus{Status: r.Status, VolumeExec: volExec, Price: price, Fee: fee}
	}
	return out, nil
}

// GetTradesHistory fetches executed trades since sinceTs, used by the
// reconciler to synthesize missed FillEvents.
func (a *Adapter) GetTradesHistory(ctx context.Context, sinceTs float64) (map[string]core.TradeRecord, error) {
	if err := a.limiter.Consume(ctx, 1); err != nil {
		return nil, err
	}
	nonce := a.nonces.Next()
	body, _ := json.Marshal(map[string]interface{}{
		"since": strconv.FormatFloat(sinceTs, 'f', -1, 64),
		"nonce": nonce,
	})
	respBody, err := a.http.Post(ctx, a.paths.TradesHistory, json.RawMessage(body))
	if err != nil {
		a.breaker.ReportRateError()
		return nil, classifyError(err)
	}
	a.breaker.ReportSuccess()

	var raw map[string]struct {
		OrderTxid string `json:"ordertxid"`
		Pair      string `json:"pair"`
		Volume    string `json:"vol"`
		Cost      string `json:"cost"`
		Fee       string `json:"fee"`
		Time      float64 `json:"time"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("decode trades history response: %w", err)
	}
	out := make(map[string]core.TradeRecord, len(raw))
	for id, r := range raw {
		vol, _ := decimal.NewFromString(r.Volume)
		cost, _ := decimal.NewFromString(r.Cost)
		fee, _ := decimal.NewFromString(r.Fee)
		out[id] = core.TradeRecord{
			TradeID: id, OrderTxid: r.OrderTxid, Pair: r.Pair,
			Volume: vol, Cost: cost, Fee: fee, Time: r.Time,
		}
	}
	return out, nil
}

// GetOpenOrders fetches every currently live order on pair, used by the
// reconciler's startup adoption pass.
func (a *Adapter) GetOpenOrders(ctx context.Context, pair string) (map[string]core.OpenOrder, error) {
	if err := a.limiter.Consume(ctx, 1); err != nil {
		return nil, err
	}
	nonce := a.nonces.Next()
	body, _ := json.Marshal(map[string]interface{}{"pair": pair, "nonce": nonce})
	respBody, err := a.http.Post(ctx, a.paths.OpenOrders, json.RawMessage(body))
	if err != nil {
		a.breaker.ReportRateError()
		return nil, classifyError(err)
	}
	a.breaker.ReportSuccess()

	var raw map[string]struct {
		Pair   string `json:"pair"`
		Side   string `json:"side"`
		Price  string `json:"price"`
		Volume string `json:"volume"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("decode open orders response: %w", err)
	}
	out := make(map[string]core.OpenOrder, len(raw))
	for txid, r := range raw {
		price, _ := decimal.NewFromString(r.Price)
		vol, _ := decimal.NewFromString(r.Volume)
		out[txid] = core.OpenOrder{Txid: txid, Pair: r.Pair, Side: core.Side(r.Side), Price: price, Volume: vol}
	}
	return out, nil
}

func isTransientHTTPError(err error) bool {
	if apiErr, ok := err.(*infrahttp.APIError); ok {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}
	return true
}

func classifyError(err error) error {
	if apiErr, ok := err.(*infrahttp.APIError); ok {
		switch {
		case apiErr.StatusCode == 429:
			return fmt.Errorf("%w: %s", apperrors.ErrRateLimitExceeded, apiErr.Error())
		case apiErr.StatusCode == 503:
			return fmt.Errorf("%w: %s", apperrors.ErrExchangeMaintenance, apiErr.Error())
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %s", apperrors.ErrNetwork, apiErr.Error())
		case apiErr.StatusCode == 404:
			return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, apiErr.Error())
		default:
			return fmt.Errorf("%w: %s", apperrors.ErrInvalidOrderParameter, apiErr.Error())
		}
	}
	return fmt.Errorf("%w: %s", apperrors.ErrNetwork, err.Error())
}
