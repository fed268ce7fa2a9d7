package core

import "github.com/shopspring/decimal"

// Event is the closed union of inputs the reducer accepts. New cases are
// added only here, never by extending an existing struct's meaning.
type Event interface {
	isEvent()
}

// PriceTick carries a fresh market price observation.
type PriceTick struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp float64         `json:"ts"`
}

func (PriceTick) isEvent() {}

// TimerTick advances the wall clock without a price change; it drives
// orphaning checks.
type TimerTick struct {
	Timestamp float64 `json:"ts"`
}

func (TimerTick) isEvent() {}

// FillEvent reports an exchange fill against a locally tracked order.
type FillEvent struct {
	OrderLocalID int64           `json:"order_local_id"`
	Txid         string          `json:"txid"`
	Side         Side            `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Volume       decimal.Decimal `json:"volume"`
	Fee          decimal.Decimal `json:"fee"`
	Timestamp    float64         `json:"ts"`
}

func (FillEvent) isEvent() {}

// RecoveryFillEvent reports a fill against an order that had been orphaned
// into the recovery side channel.
type RecoveryFillEvent struct {
	RecoveryID int64           `json:"recovery_id"`
	Txid       string          `json:"txid"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Volume     decimal.Decimal `json:"volume"`
	Fee        decimal.Decimal `json:"fee"`
	Timestamp  float64         `json:"ts"`
}

func (RecoveryFillEvent) isEvent() {}

// RecoveryCancelEvent reports that a recovery order was canceled externally.
type RecoveryCancelEvent struct {
	RecoveryID int64   `json:"recovery_id"`
	Txid       string  `json:"txid"`
	Timestamp  float64 `json:"ts"`
}

func (RecoveryCancelEvent) isEvent() {}
