package risk

import (
	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/config"
)

// SizingMethod selects which position-sizing formula the sizer applies.
type SizingMethod string

const (
	SizingFixedFractional SizingMethod = "fixed_fractional"
	SizingKelly           SizingMethod = "kelly"
	SizingVolatility      SizingMethod = "volatility"
)

// SizingParams carries the extra inputs a non-default sizing method needs.
type SizingParams struct {
	WinRate       decimal.Decimal
	AvgWin        decimal.Decimal
	AvgLoss       decimal.Decimal
	ATRValue      decimal.Decimal
	ATRMultiplier decimal.Decimal
}

// PositionSizer converts an equity/entry/stop triple into a position
// quantity, always capped at the leverage-implied maximum.
type PositionSizer struct {
	settings config.RiskSettings
}

// NewPositionSizer builds a PositionSizer over settings.
func NewPositionSizer(settings config.RiskSettings) *PositionSizer {
	return &PositionSizer{settings: settings}
}

func (s *PositionSizer) maxByLeverage(equity, entryPrice decimal.Decimal) decimal.Decimal {
	return equity.Mul(s.settings.MaxLeverage).Div(entryPrice)
}

// FixedFractional sizes the position so that a full stop-out loses exactly
// MaxRiskPerTrade of equity, capped by max leverage.
func (s *PositionSizer) FixedFractional(equity, entryPrice, stopLossPrice decimal.Decimal) decimal.Decimal {
	if entryPrice.LessThanOrEqual(decimal.Zero) || stopLossPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	riskAmount := equity.Mul(s.settings.MaxRiskPerTrade)
	priceDistance := entryPrice.Sub(stopLossPrice).Abs()
	if priceDistance.IsZero() {
		return decimal.Zero
	}
	quantity := riskAmount.Div(priceDistance)
	return decimal.Min(quantity, s.maxByLeverage(equity, entryPrice))
}

// KellyCriterion sizes using half-Kelly, capped at a Kelly fraction of
// 0.25 before halving, then capped by max leverage.
func (s *PositionSizer) KellyCriterion(equity, entryPrice, stopLossPrice, winRate, avgWin, avgLoss decimal.Decimal) decimal.Decimal {
	if avgLoss.IsZero() || entryPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	winLossRatio := avgWin.Div(avgLoss)
	kelly := winRate.Sub(decimal.NewFromInt(1).Sub(winRate).Div(winLossRatio))
	kelly = decimal.Max(decimal.Zero, decimal.Min(kelly, decimal.NewFromFloat(0.25)))
	halfKelly := kelly.Div(decimal.NewFromInt(2))

	riskAmount := equity.Mul(halfKelly)
	priceDistance := entryPrice.Sub(stopLossPrice).Abs()
	if priceDistance.IsZero() {
		return decimal.Zero
	}
	quantity := riskAmount.Div(priceDistance)
	return decimal.Min(quantity, s.maxByLeverage(equity, entryPrice))
}

// VolatilityBased sizes the stop distance from ATR rather than the
// signal's own stop-loss price.
func (s *PositionSizer) VolatilityBased(equity, entryPrice, atrValue, atrMultiplier decimal.Decimal) decimal.Decimal {
	if entryPrice.LessThanOrEqual(decimal.Zero) || atrValue.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	riskAmount := equity.Mul(s.settings.MaxRiskPerTrade)
	stopDistance := atrValue.Mul(atrMultiplier)
	if stopDistance.IsZero() {
		return decimal.Zero
	}
	quantity := riskAmount.Div(stopDistance)
	return decimal.Min(quantity, s.maxByLeverage(equity, entryPrice))
}

// CalculateSize dispatches to the requested sizing method, falling back to
// sane defaults for any parameter SizingParams left zero-valued.
func (s *PositionSizer) CalculateSize(method SizingMethod, equity, entryPrice, stopLossPrice decimal.Decimal, params SizingParams) decimal.Decimal {
	switch method {
	case SizingKelly:
		winRate := params.WinRate
		if winRate.IsZero() {
			winRate = decimal.NewFromFloat(0.5)
		}
		avgWin := params.AvgWin
		if avgWin.IsZero() {
			avgWin = decimal.NewFromInt(1)
		}
		avgLoss := params.AvgLoss
		if avgLoss.IsZero() {
			avgLoss = decimal.NewFromInt(1)
		}
		return s.KellyCriterion(equity, entryPrice, stopLossPrice, winRate, avgWin, avgLoss)
	case SizingVolatility:
		mult := params.ATRMultiplier
		if mult.IsZero() {
			mult = decimal.NewFromInt(2)
		}
		return s.VolatilityBased(equity, entryPrice, params.ATRValue, mult)
	default:
		return s.FixedFractional(equity, entryPrice, stopLossPrice)
	}
}
