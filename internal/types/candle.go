package types

import "github.com/shopspring/decimal"

// Candle is an immutable closed (or closing) bar. Within a timeframe it is
// keyed by (Symbol, OpenTime); re-emission with the same OpenTime replaces
// the prior entry rather than appending.
type Candle struct {
	Symbol    string
	Timeframe string
	OpenTime  int64
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	IsClosed  bool
}
