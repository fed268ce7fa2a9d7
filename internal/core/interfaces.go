package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// ILogger is the structured logging capability every component in this
// module depends on instead of a concrete logging library; only
// pkg/logging knows it is zap underneath.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// OrderStatus is the exchange-reported state of a single order, as returned
// by ExchangeAdapter.QueryOrders.
type OrderStatus struct {
	Status     string
	VolumeExec decimal.Decimal
	Price      decimal.Decimal
	Fee        decimal.Decimal
}

// OpenOrder is one row of ExchangeAdapter.GetOpenOrders.
type OpenOrder struct {
	Txid   string
	Pair   string
	Side   Side
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// TradeRecord is one row of ExchangeAdapter.GetTradesHistory.
type TradeRecord struct {
	TradeID   string
	OrderTxid string
	Pair      string
	Volume    decimal.Decimal
	Cost      decimal.Decimal
	Fee       decimal.Decimal
	Time      float64
}

// ExchangeAdapter is the capability boundary to the exchange: the
// core and slot runtime never touch the network directly, only this
// interface. Implementations are responsible for rate limiting, nonces, and
// signed request assembly.
type ExchangeAdapter interface {
	GetPrice(ctx context.Context, pair string) (decimal.Decimal, error)
	PlaceLimitOrder(ctx context.Context, pair string, side Side, volume, price decimal.Decimal, postOnly bool) (txid string, err error)
	CancelOrder(ctx context.Context, txid string) (bool, error)
	QueryOrders(ctx context.Context, txids []string) (map[string]OrderStatus, error)
	GetTradesHistory(ctx context.Context, sinceTs float64) (map[string]TradeRecord, error)
	GetOpenOrders(ctx context.Context, pair string) (map[string]OpenOrder, error)
}

// EventRow is one row of the append-only event log.
type EventRow struct {
	EventID    int64
	SlotID     int64
	FromPhase  Phase
	ToPhase    Phase
	Kind       string
	PayloadRaw []byte
	Ts         float64
}

// EventStore is the append-only event log capability.
type EventStore interface {
	Append(ctx context.Context, rows []EventRow) error
	ReadSince(ctx context.Context, slotID int64, afterEventID int64) ([]EventRow, error)
	MaxEventID(ctx context.Context) (int64, error)
}

// SnapshotRow is one row of the periodic per-slot snapshot table.
type SnapshotRow struct {
	SlotID      int64
	EventID     int64
	StateJSON   []byte
	LongOnly    bool
	ShortOnly   bool
	LossCountA  int64
	LossCountB  int64
	Ts          float64
}

// SnapshotStore is the periodic full-state capability.
type SnapshotStore interface {
	Put(ctx context.Context, row SnapshotRow) error
	Get(ctx context.Context, slotID int64) (SnapshotRow, bool, error)
}

// FillRow is one row of the read-only (from core's perspective) fills table
// used by dashboards.
type FillRow struct {
	Ts      float64
	SlotID  int64
	TradeID TradeId
	Cycle   int64
	Side    Side
	Price   decimal.Decimal
	Volume  decimal.Decimal
	Profit  decimal.Decimal
	Fees    decimal.Decimal
}

// FillSink records completed-cycle rows for external consumers
// (dashboards, AI advisory) that only read core state, never write it.
type FillSink interface {
	RecordFill(ctx context.Context, row FillRow) error
}
