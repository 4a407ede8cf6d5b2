package strategy

import (
	"sync"

	"github.com/ashfall-systems/perpcore/internal/candlebuffer"
	"github.com/ashfall-systems/perpcore/internal/indicators"
	"github.com/ashfall-systems/perpcore/internal/types"
)

// gridLevel is one armed price level of a per-symbol grid.
type gridLevel struct {
	price  float64
	isBuy  bool
	filled bool
}

// GridTrading lays a symmetric grid of buy/sell levels around the
// Bollinger midline spaced by ATR, and fires an entry signal the first time
// price crosses an unfilled level.
type GridTrading struct {
	base
	numGrids                int
	gridSpacingATR           float64
	atrPeriod, bbPeriod      int
	minConfidence            float64

	gridMu sync.Mutex
	grids  map[string][]*gridLevel
}

// NewGridTrading builds a GridTrading strategy with the teacher's default
// parameterization.
func NewGridTrading(symbols []string) *GridTrading {
	return &GridTrading{
		base: newBase("grid_trading", symbols),
		numGrids: 10, gridSpacingATR: 0.5, atrPeriod: 14, bbPeriod: 20,
		minConfidence: 0.5,
		grids:         make(map[string][]*gridLevel),
	}
}

func (s *GridTrading) MinCandlesRequired() int {
	m := s.atrPeriod
	if s.bbPeriod > m {
		m = s.bbPeriod
	}
	return m + 5
}

func (s *GridTrading) buildGrid(symbol string, center, atrVal float64) []*gridLevel {
	spacing := atrVal * s.gridSpacingATR
	half := s.numGrids / 2
	levels := make([]*gridLevel, 0, s.numGrids)
	for i := -half; i <= half; i++ {
		if i == 0 {
			continue
		}
		levels = append(levels, &gridLevel{price: center + float64(i)*spacing, isBuy: i < 0})
	}
	s.gridMu.Lock()
	s.grids[symbol] = levels
	s.gridMu.Unlock()
	return levels
}

// ResetGrid discards the armed grid for symbol, forcing a rebuild on the
// next signal generation call.
func (s *GridTrading) ResetGrid(symbol string) {
	s.gridMu.Lock()
	delete(s.grids, symbol)
	s.gridMu.Unlock()
}

func (s *GridTrading) GenerateSignal(symbol string, buf *candlebuffer.Buffer) *types.Signal {
	closes := buf.Closes(symbol)
	if len(closes) < s.MinCandlesRequired() {
		return nil
	}
	highs, lows := buf.Highs(symbol), buf.Lows(symbol)
	price := lastOf(closes)
	prevPrice := at(closes, 1)
	atrVal := lastOf(indicators.ATR(highs, lows, closes, s.atrPeriod))

	s.gridMu.Lock()
	levels, ok := s.grids[symbol]
	s.gridMu.Unlock()
	if !ok {
		bb := indicators.Bollinger(closes, s.bbPeriod, 2.0)
		center := bb[len(bb)-1].Middle
		levels = s.buildGrid(symbol, center, atrVal)
	}

	for _, level := range levels {
		if level.filled {
			continue
		}
		crossedDown := prevPrice >= level.price && level.price > price
		crossedUp := prevPrice <= level.price && level.price < price

		slDist := atrVal * 2.0
		tpDist := atrVal * 2.0
		meta := map[string]float64{"grid_price": level.price, "atr": atrVal}

		if level.isBuy && crossedDown {
			level.filled = true
			return entrySignal(symbol, s.name, types.DirectionLong, 0.6, level.price, level.price-slDist, level.price+tpDist, meta)
		}
		if !level.isBuy && crossedUp {
			level.filled = true
			return entrySignal(symbol, s.name, types.DirectionShort, 0.6, level.price, level.price+slDist, level.price-tpDist, meta)
		}
	}
	return nil
}
