package types

import "github.com/shopspring/decimal"

// PositionSide is long, short, or flat.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
	PositionNone  PositionSide = "none"
)

// Position is the venue-confirmed state of a symbol's exposure. By
// invariant a symbol only appears in a position map while Size > 0.
type Position struct {
	Symbol           string
	Side             PositionSide
	Size             decimal.Decimal
	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	LiquidationPrice *decimal.Decimal
	Leverage         decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	RealizedPnL      decimal.Decimal
	StopLoss         *decimal.Decimal
	TakeProfit       *decimal.Decimal
	PositionIdx      int
	UpdatedAtMs      int64
}

// NotionalValue returns |size * entry price|, the exposure the position
// represents in quote terms.
func (p Position) NotionalValue() decimal.Decimal {
	return p.Size.Mul(p.EntryPrice).Abs()
}

// AccountBalance is the venue's account-level equity snapshot.
type AccountBalance struct {
	TotalEquity            decimal.Decimal
	TotalWalletBalance     decimal.Decimal
	TotalAvailableBalance  decimal.Decimal
	TotalUnrealizedPnL     decimal.Decimal
	UpdatedAtMs            int64
}
