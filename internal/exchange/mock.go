package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"pairgrid/internal/core"
)

// MockAdapter is an in-memory core.ExchangeAdapter used by the parity
// harness's integration tests and the slot runtime's own unit tests. It
// never touches the network; PlaceLimitOrder mints sequential txids and
// records every order so tests can synthesize fills against it.
type MockAdapter struct {
	mu         sync.Mutex
	price      decimal.Decimal
	nextTxid   int64
	open       map[string]core.OpenOrder
	trades     map[string]core.TradeRecord
	PlaceErr   error
	CancelErr  error
}

// NewMockAdapter constructs a mock seeded with the given starting price.
func NewMockAdapter(price decimal.Decimal) *MockAdapter {
	return &MockAdapter{
		price:    price,
		nextTxid: 1,
		open:     make(map[string]core.OpenOrder),
		trades:   make(map[string]core.TradeRecord),
	}
}

// SetPrice updates the price GetPrice returns.
func (m *MockAdapter) SetPrice(p decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price = p
}

func (m *MockAdapter) GetPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.price, nil
}

func (m *MockAdapter) PlaceLimitOrder(ctx context.Context, pair string, side core.Side, volume, price decimal.Decimal, postOnly bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlaceErr != nil {
		return "", m.PlaceErr
	}
	txid := fmt.Sprintf("mock-%d", m.nextTxid)
	m.nextTxid++
	m.open[txid] = core.OpenOrder{Txid: txid, Pair: pair, Side: side, Price: price, Volume: volume}
	return txid, nil
}

func (m *MockAdapter) CancelOrder(ctx context.Context, txid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CancelErr != nil {
		return false, m.CancelErr
	}
	delete(m.open, txid)
	return true, nil
}

func (m *MockAdapter) QueryOrders(ctx context.Context, txids []string) (map[string]core.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]core.OrderStatus, len(txids))
	for _, txid := range txids {
		if o, ok := m.open[txid]; ok {
			out[txid] = core.OrderStatus{Status: "open", VolumeExec: decimal.Zero, Price: o.Price}
		} else {
			out[txid] = core.OrderStatus{Status: "closed"}
		}
	}
	return out, nil
}

func (m *MockAdapter) GetTradesHistory(ctx context.Context, sinceTs float64) (map[string]core.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]core.TradeRecord, len(m.trades))
	for id, t := range m.trades {
		if t.Time >= sinceTs {
			out[id] = t
		}
	}
	return out, nil
}

func (m *MockAdapter) GetOpenOrders(ctx context.Context, pair string) (map[string]core.OpenOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]core.OpenOrder, len(m.open))
	for txid, o := range m.open {
		if o.Pair == pair {
			out[txid] = o
		}
	}
	return out, nil
}

// Fill simulates an exchange-side fill: removes the order from the open
// set and records a matching trade row, so a subsequent GetTradesHistory /
// GetOpenOrders call reflects it (used by reconciler tests to exercise the
// missed-fill-replay path).
func (m *MockAdapter) Fill(tradeID string, txid string, volume, cost, fee decimal.Decimal, ts float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.open[txid]
	if !ok {
		return
	}
	delete(m.open, txid)
	m.trades[tradeID] = core.TradeRecord{
		TradeID: tradeID, OrderTxid: txid, Pair: o.Pair,
		Volume: volume, Cost: cost, Fee: fee, Time: ts,
	}
}

var _ core.ExchangeAdapter = (*MockAdapter)(nil)
var _ core.ExchangeAdapter = (*Adapter)(nil)
