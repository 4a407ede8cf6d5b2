package types

import "github.com/shopspring/decimal"

// RiskDecision is the risk manager's verdict on a signal. When an entry
// signal is approved, Quantity and StopLoss are both non-zero positive
// values; an approved close (reason "exit_signal") carries only Quantity,
// the position size, and leaves StopLoss zero.
type RiskDecision struct {
	Approved   bool
	Quantity   decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Reason     string
}

// Rejected builds a rejected RiskDecision with a machine-parseable reason.
func Rejected(reason string) RiskDecision {
	return RiskDecision{Approved: false, Reason: reason}
}
