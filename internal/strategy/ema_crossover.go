package strategy

import (
	"github.com/ashfall-systems/perpcore/internal/candlebuffer"
	"github.com/ashfall-systems/perpcore/internal/indicators"
	"github.com/ashfall-systems/perpcore/internal/types"
)

// EMACrossover enters on a fast/slow EMA crossover confirmed by volume, and
// exits when the EMAs re-cross against the held side.
type EMACrossover struct {
	base
	fast, slow, atrPeriod       int
	atrSLMult, atrTPMult        float64
	volumeConfirm               bool
	volumeSMA                   int
	minConfidence                float64
}

// NewEMACrossover builds an EMACrossover strategy with the teacher's default
// parameterization.
func NewEMACrossover(symbols []string) *EMACrossover {
	return &EMACrossover{
		base: newBase("ema_crossover", symbols),
		fast: 9, slow: 21, atrPeriod: 14,
		atrSLMult: 2.0, atrTPMult: 3.0,
		volumeConfirm: true, volumeSMA: 20,
		minConfidence: 0.5,
	}
}

func (s *EMACrossover) MinCandlesRequired() int {
	m := s.slow
	if s.volumeSMA > m {
		m = s.volumeSMA
	}
	return m + 5
}

func (s *EMACrossover) GenerateSignal(symbol string, buf *candlebuffer.Buffer) *types.Signal {
	closes := buf.Closes(symbol)
	if len(closes) < s.MinCandlesRequired() {
		return nil
	}
	highs, lows := buf.Highs(symbol), buf.Lows(symbol)

	fastEMA := indicators.EMA(closes, s.fast)
	slowEMA := indicators.EMA(closes, s.slow)

	prevFast, prevSlow := at(fastEMA, 1), at(slowEMA, 1)
	currFast, currSlow := lastOf(fastEMA), lastOf(slowEMA)

	atrVal := lastOf(indicators.ATR(highs, lows, closes, s.atrPeriod))
	price := lastOf(closes)

	bullish := prevFast <= prevSlow && currFast > currSlow
	bearish := prevFast >= prevSlow && currFast < currSlow

	if !bullish && !bearish {
		state := s.GetState(symbol)
		if state == StateLong && currFast < currSlow {
			return closeSignal(symbol, s.name, types.DirectionCloseLong, 0.7)
		}
		if state == StateShort && currFast > currSlow {
			return closeSignal(symbol, s.name, types.DirectionCloseShort, 0.7)
		}
		return nil
	}

	confidence := s.confidence(fastEMA, slowEMA, bullish)
	if s.volumeConfirm {
		volumes := buf.Volumes(symbol)
		volSMA := lastOf(indicators.SMA(volumes, s.volumeSMA))
		if volSMA > 0 && lastOf(volumes) < volSMA {
			confidence *= 0.6
		}
	}
	if confidence < s.minConfidence {
		return nil
	}

	slDist := atrVal * s.atrSLMult
	tpDist := atrVal * s.atrTPMult
	meta := map[string]float64{"fast_ema": currFast, "slow_ema": currSlow, "atr": atrVal}

	if bullish {
		return entrySignal(symbol, s.name, types.DirectionLong, confidence, price, price-slDist, price+tpDist, meta)
	}
	return entrySignal(symbol, s.name, types.DirectionShort, confidence, price, price+slDist, price-tpDist, meta)
}

func (s *EMACrossover) confidence(fast, slow []float64, bullish bool) float64 {
	currFast, currSlow := lastOf(fast), lastOf(slow)
	spread := 0.0
	if currSlow != 0 {
		spread = abs(currFast-currSlow) / abs(currSlow)
	}
	spreadScore := clampMax(spread*100, 1.0)

	trendBars := 0
	for i := 1; i < 10 && i < len(fast); i++ {
		f, sl := at(fast, i), at(slow, i)
		if bullish && f < sl {
			trendBars++
		} else if !bullish && f > sl {
			trendBars++
		} else {
			break
		}
	}
	trendScore := clampMax(float64(trendBars)/5.0, 1.0)
	return 0.5 + 0.25*spreadScore + 0.25*trendScore
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
