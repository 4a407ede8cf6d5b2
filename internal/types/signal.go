package types

import "github.com/shopspring/decimal"

// SignalDirection is a strategy's verdict on one symbol/window.
type SignalDirection string

const (
	DirectionLong       SignalDirection = "long"
	DirectionShort      SignalDirection = "short"
	DirectionCloseLong  SignalDirection = "close_long"
	DirectionCloseShort SignalDirection = "close_short"
	DirectionNeutral    SignalDirection = "neutral"
)

// IsEntry reports whether the direction opens new exposure.
func (d SignalDirection) IsEntry() bool {
	return d == DirectionLong || d == DirectionShort
}

// IsClose reports whether the direction reduces existing exposure.
func (d SignalDirection) IsClose() bool {
	return d == DirectionCloseLong || d == DirectionCloseShort
}

// Signal is a strategy's output for one symbol on one window. EntryPrice,
// StopLoss, and TakeProfit are pointers because "unset" is semantically
// distinct from zero: risk gates must be able to reject a signal that
// carries no stop loss at all rather than treating it as a zero-distance
// stop.
type Signal struct {
	Symbol       string
	Direction    SignalDirection
	Confidence   float64
	StrategyName string
	EntryPrice   *decimal.Decimal
	StopLoss     *decimal.Decimal
	TakeProfit   *decimal.Decimal
	Metadata     map[string]float64
}

// MetaFloat reads a metadata key, returning ok=false if absent.
func (s Signal) MetaFloat(key string) (float64, bool) {
	if s.Metadata == nil {
		return 0, false
	}
	v, ok := s.Metadata[key]
	return v, ok
}
