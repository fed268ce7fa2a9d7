package core

import "github.com/shopspring/decimal"

// Action is the closed union of effects the reducer emits. The slot runtime
// is responsible for executing these against the exchange adapter in the
// order returned.
type Action interface {
	isAction()
}

// PlaceOrderAction asks the runtime to place a new resting order.
type PlaceOrderAction struct {
	LocalID  int64
	Side     Side
	Role     Role
	Price    decimal.Decimal
	Volume   decimal.Decimal
	TradeID  TradeId
	Cycle    int64
	PostOnly bool
	Reason   string
}

func (PlaceOrderAction) isAction() {}

// CancelOrderAction asks the runtime to cancel a resting order.
type CancelOrderAction struct {
	LocalID int64
	Txid    string
	Reason  string
}

func (CancelOrderAction) isAction() {}

// OrphanOrderAction reports that an exit has been moved into the recovery
// side channel; the runtime must cancel it on the exchange.
type OrphanOrderAction struct {
	LocalID    int64
	RecoveryID int64
	Reason     string
}

func (OrphanOrderAction) isAction() {}

// BookCycleAction reports a completed round-trip. The runtime persists it but
// issues no exchange call.
type BookCycleAction struct {
	TradeID      TradeId
	Cycle        int64
	NetProfit    decimal.Decimal
	GrossProfit  decimal.Decimal
	Fees         decimal.Decimal
	FromRecovery bool
}

func (BookCycleAction) isAction() {}
