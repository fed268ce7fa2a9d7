// Package tradingutils holds the small decimal helpers shared by the
// reducer and the reconciler. Everything here operates on
// decimal.Decimal; float64 never touches a price or a volume.
package tradingutils

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RoundPrice rounds a price to the specified decimals. Rounding is
// half-away-from-zero, which the fixture suite depends on.
func RoundPrice(price decimal.Decimal, priceDecimals int) decimal.Decimal {
	return price.Round(int32(priceDecimals))
}

// RoundQuantity rounds a quantity to the specified decimals. Decimals <= 0
// rounds to a whole number of units.
func RoundQuantity(qty decimal.Decimal, qtyDecimals int) decimal.Decimal {
	if qtyDecimals <= 0 {
		return qty.Round(0)
	}
	return qty.Round(int32(qtyDecimals))
}

// DriftPct returns |price - market| / market * 100, the percentage distance
// of a resting order from the current market. Returns zero when market is
// not a positive price.
func DriftPct(price, market decimal.Decimal) decimal.Decimal {
	if market.Sign() <= 0 {
		return decimal.Zero
	}
	return price.Sub(market).Abs().Div(market).Mul(hundred)
}

// NetProfit computes the net of a closed round-trip given gross profit and
// the entry and exit fees.
func NetProfit(gross, entryFee, exitFee decimal.Decimal) decimal.Decimal {
	return gross.Sub(entryFee).Sub(exitFee)
}
