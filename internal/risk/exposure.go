package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/config"
	"github.com/ashfall-systems/perpcore/internal/types"
)

// ExposureCheck is an allow/deny verdict with a machine-readable reason.
type ExposureCheck struct {
	Allowed bool
	Reason  string
}

func allow() ExposureCheck         { return ExposureCheck{Allowed: true} }
func deny(reason string) ExposureCheck { return ExposureCheck{Allowed: false, Reason: reason} }

// ExposureManager gates new positions against concurrency, leverage,
// total-notional, funding-arb allocation, directional, and per-trade risk
// caps.
type ExposureManager struct {
	settings config.RiskSettings
}

// NewExposureManager builds an ExposureManager over settings.
func NewExposureManager(settings config.RiskSettings) *ExposureManager {
	return &ExposureManager{settings: settings}
}

// TotalExposureUSD sums |size * entry price| across positions.
func (e *ExposureManager) TotalExposureUSD(positions []types.Position) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.NotionalValue())
	}
	return total
}

// DirectionalExposureUSD splits total notional exposure by side.
func (e *ExposureManager) DirectionalExposureUSD(positions []types.Position) (long, short decimal.Decimal) {
	long, short = decimal.Zero, decimal.Zero
	for _, p := range positions {
		switch p.Side {
		case types.PositionLong:
			long = long.Add(p.NotionalValue())
		case types.PositionShort:
			short = short.Add(p.NotionalValue())
		}
	}
	return long, short
}

// TotalPortfolioRiskPct returns total exposure as a fraction of equity.
func (e *ExposureManager) TotalPortfolioRiskPct(positions []types.Position, equity decimal.Decimal) decimal.Decimal {
	if equity.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return e.TotalExposureUSD(positions).Div(equity)
}

// CheckNewPosition runs the concurrency/leverage/notional/funding-arb/
// per-trade-risk gate sequence for a candidate new position.
func (e *ExposureManager) CheckNewPosition(positions []types.Position, newSizeUSD, newLeverage, equity decimal.Decimal, isFundingArb bool) ExposureCheck {
	if !isFundingArb {
		if len(positions) >= e.settings.MaxConcurrentPositions {
			return deny(fmt.Sprintf("max_positions: %d >= %d", len(positions), e.settings.MaxConcurrentPositions))
		}
	}

	if newLeverage.GreaterThan(e.settings.MaxLeverage) {
		return deny(fmt.Sprintf("max_leverage: %s > %s", newLeverage.String(), e.settings.MaxLeverage.String()))
	}

	totalExposure := e.TotalExposureUSD(positions)
	maxTotal := equity.Mul(e.settings.MaxLeverage)
	if totalExposure.Add(newSizeUSD).GreaterThan(maxTotal) {
		return deny(fmt.Sprintf("total_exposure: %s > %s", totalExposure.Add(newSizeUSD).String(), maxTotal.String()))
	}

	if isFundingArb {
		maxArb := equity.Mul(e.settings.FundingArbMaxAllocation)
		if newSizeUSD.GreaterThan(maxArb) {
			return deny(fmt.Sprintf("funding_arb_allocation: %s > %s", newSizeUSD.String(), maxArb.String()))
		}
	}

	perTradeRisk := decimal.NewFromInt(1)
	if equity.GreaterThan(decimal.Zero) {
		perTradeRisk = newSizeUSD.Div(equity)
	}
	if perTradeRisk.GreaterThan(e.settings.MaxRiskPerTrade.Mul(newLeverage)) {
		return deny(fmt.Sprintf("per_trade_risk: %s", perTradeRisk.StringFixed(4)))
	}

	return allow()
}

// CheckDirectionalExposure gates a candidate entry against an excessive
// one-sided tilt, measured as that side's post-trade notional relative to
// equity (not to the book's total notional, which would reject every
// very first position on an otherwise flat book).
func (e *ExposureManager) CheckDirectionalExposure(positions []types.Position, side types.PositionSide, newSizeUSD, equity decimal.Decimal) ExposureCheck {
	if !e.settings.EnableDirectionalExposureLimit {
		return allow()
	}
	if equity.LessThanOrEqual(decimal.Zero) {
		return deny("invalid_equity")
	}
	long, short := e.DirectionalExposureUSD(positions)
	if side == types.PositionLong {
		long = long.Add(newSizeUSD)
	} else {
		short = short.Add(newSizeUSD)
	}
	sidePct := long.Div(equity)
	if side == types.PositionShort {
		sidePct = short.Div(equity)
	}
	capPct := e.settings.MaxDirectionalExposurePct.Mul(e.settings.MaxLeverage)
	if sidePct.GreaterThan(capPct) {
		return deny(fmt.Sprintf("directional_exposure: %s > %s", sidePct.StringFixed(4), capPct.String()))
	}
	return allow()
}

// IsPortfolioRiskAcceptable reports whether total exposure stays within
// the portfolio risk cap.
func (e *ExposureManager) IsPortfolioRiskAcceptable(positions []types.Position, equity decimal.Decimal) bool {
	return e.TotalPortfolioRiskPct(positions, equity).LessThanOrEqual(e.settings.MaxPortfolioRisk)
}
