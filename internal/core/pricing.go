package core

import (
	"github.com/shopspring/decimal"

	"pairgrid/pkg/tradingutils"
)

var hundred = decimal.NewFromInt(100)

func roundPrice(price decimal.Decimal, cfg EngineConfig) decimal.Decimal {
	return tradingutils.RoundPrice(price, int(cfg.PriceDecimals))
}

func roundVolume(vol decimal.Decimal, cfg EngineConfig) decimal.Decimal {
	return tradingutils.RoundQuantity(vol, int(cfg.VolumeDecimals))
}

func pct(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Div(hundred)
}

// entryPrices returns the unmultiplied (buy, sell) side prices at the given
// entry distance, used as the backoff fallback when a multiplied price
// rounds to zero.
func entryPrices(marketPrice decimal.Decimal, entryPct float64, cfg EngineConfig) (buy, sell decimal.Decimal) {
	p := pct(entryPct)
	buy = roundPrice(marketPrice.Mul(decimal.NewFromInt(1).Sub(p)), cfg)
	sell = roundPrice(marketPrice.Mul(decimal.NewFromInt(1).Add(p)), cfg)
	return buy, sell
}

// ExpectedEntryPrices exposes entryPrices for callers outside this package
// that need the expected S0 grid levels without driving a full Transition,
// namely the reconciler's orphan-adoption tolerance check.
func ExpectedEntryPrices(marketPrice decimal.Decimal, cfg EngineConfig) (buy, sell decimal.Decimal) {
	return entryPrices(marketPrice, cfg.EntryPct, cfg)
}

// exitPrice clamps the profit target to the entry-distance side price: the
// exit never sits between market and entry, which would fill immediately
// at a loss.
func exitPrice(entryFill, marketPrice decimal.Decimal, side Side, cfg EngineConfig, profitPct float64) decimal.Decimal {
	p := pct(profitPct)
	e := pct(cfg.EntryPct)
	if side == SideSell {
		target := entryFill.Mul(decimal.NewFromInt(1).Add(p))
		floor := marketPrice.Mul(decimal.NewFromInt(1).Add(e))
		return roundPrice(decimal.Max(target, floor), cfg)
	}
	target := entryFill.Mul(decimal.NewFromInt(1).Sub(p))
	ceil := marketPrice.Mul(decimal.NewFromInt(1).Sub(e))
	return roundPrice(decimal.Min(target, ceil), cfg)
}

// entryBackoffMultiplier widens the entry distance after consecutive
// losses, capped at BackoffMaxMultiplier.
func entryBackoffMultiplier(lossCount int64, cfg EngineConfig) float64 {
	if lossCount < int64(cfg.LossBackoffStart) {
		return 1.0
	}
	mul := 1.0 + cfg.BackoffFactor*(float64(lossCount)-float64(cfg.LossBackoffStart)+1)
	if mul > cfg.BackoffMaxMultiplier {
		return cfg.BackoffMaxMultiplier
	}
	return mul
}

// ComputeOrderVolume sizes an order at the configured notional. A nil
// return means "wait": callers must not raise the volume to the exchange
// minimum.
func ComputeOrderVolume(price decimal.Decimal, cfg EngineConfig, orderSizeUSD float64) *decimal.Decimal {
	if price.Sign() <= 0 {
		return nil
	}
	if orderSizeUSD <= 0 {
		return nil
	}
	if cfg.MinCostUSD > 0 && orderSizeUSD < cfg.MinCostUSD {
		return nil
	}

	raw := decimal.NewFromFloat(orderSizeUSD).Div(price)
	var vol decimal.Decimal
	if cfg.VolumeDecimals <= 0 {
		vol = raw.Round(0)
	} else {
		vol = raw.Round(cfg.VolumeDecimals)
	}

	if vol.LessThan(decimal.NewFromFloat(cfg.MinVolume)) {
		return nil
	}
	if cfg.MinCostUSD > 0 && vol.Mul(price).LessThan(decimal.NewFromFloat(cfg.MinCostUSD)) {
		return nil
	}
	return &vol
}
