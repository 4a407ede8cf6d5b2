package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/types"
)

func dec(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v).Round(2)
	return &d
}

func entrySignal(symbol, name string, dir types.SignalDirection, confidence, entryPrice, stopLoss, takeProfit float64, meta map[string]float64) *types.Signal {
	return &types.Signal{
		Symbol: symbol, Direction: dir, Confidence: confidence, StrategyName: name,
		EntryPrice: dec(entryPrice), StopLoss: dec(stopLoss), TakeProfit: dec(takeProfit),
		Metadata: meta,
	}
}

func closeSignal(symbol, name string, dir types.SignalDirection, confidence float64) *types.Signal {
	return &types.Signal{Symbol: symbol, Direction: dir, Confidence: confidence, StrategyName: name}
}

func entrySignalNoTP(symbol, name string, dir types.SignalDirection, confidence, entryPrice float64, meta map[string]float64) *types.Signal {
	return &types.Signal{
		Symbol: symbol, Direction: dir, Confidence: confidence, StrategyName: name,
		EntryPrice: dec(entryPrice), Metadata: meta,
	}
}
