// Package pricing implements the price influence engine: completed player
// trades nudge the simulated per-district market price toward the trade
// price. The influence is linear in trade size and capped so no single trade
// can move the price more than a fixed fraction toward the trade price.
//
// All monetary values use shopspring/decimal, never float64.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/onderwereld/economy-engine/internal/model"
)

var (
	// MinInfluenceQuantity is the anti-manipulation floor: trades below this
	// size do not move the market.
	MinInfluenceQuantity int64 = 5

	// InfluencePerUnit is the influence contribution per traded unit.
	InfluencePerUnit = decimal.NewFromFloat(0.02)

	// MaxInfluence caps how far a single trade can pull the price toward
	// the trade price.
	MaxInfluence = decimal.NewFromFloat(0.15)
)

// Influence returns the blend factor for a trade of the given size:
// min(MaxInfluence, quantity * InfluencePerUnit). Zero below the
// anti-manipulation floor.
func Influence(quantity int64) decimal.Decimal {
	if quantity < MinInfluenceQuantity {
		return decimal.Zero
	}
	inf := InfluencePerUnit.Mul(decimal.NewFromInt(quantity))
	if inf.GreaterThan(MaxInfluence) {
		return MaxInfluence
	}
	return inf
}

// Apply computes the post-trade market price and trend:
//
//	newPrice = floor(current*(1-influence) + tradePrice*influence)
//
// Trades below the influence floor leave the price unchanged with a stable
// trend. The result is bounded: |newPrice - current| <= MaxInfluence *
// |tradePrice - current|.
func Apply(current, tradePrice decimal.Decimal, quantity int64) (decimal.Decimal, model.Trend) {
	inf := Influence(quantity)
	if inf.IsZero() {
		return current, model.TrendStable
	}

	one := decimal.NewFromInt(1)
	newPrice := current.Mul(one.Sub(inf)).Add(tradePrice.Mul(inf)).Floor()

	switch {
	case newPrice.GreaterThan(current):
		return newPrice, model.TrendUp
	case newPrice.LessThan(current):
		return newPrice, model.TrendDown
	default:
		return newPrice, model.TrendStable
	}
}
