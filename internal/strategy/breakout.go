package strategy

import (
	"github.com/ashfall-systems/perpcore/internal/candlebuffer"
	"github.com/ashfall-systems/perpcore/internal/indicators"
	"github.com/ashfall-systems/perpcore/internal/types"
)

// Breakout enters when price closes outside a Bollinger band on confirming
// volume, and exits once price recrosses the band midline.
type Breakout struct {
	base
	bbPeriod, atrPeriod, volumeSMA int
	bbStd                          float64
	atrSLMult, atrTPMult           float64
	volumeThreshold                float64
	minConfidence                  float64
}

// NewBreakout builds a Breakout strategy with the teacher's default
// parameterization.
func NewBreakout(symbols []string) *Breakout {
	return &Breakout{
		base: newBase("breakout", symbols),
		bbPeriod: 20, bbStd: 2.0, atrPeriod: 14,
		atrSLMult: 1.5, atrTPMult: 3.0, volumeSMA: 20, volumeThreshold: 1.5,
		minConfidence: 0.5,
	}
}

func (s *Breakout) MinCandlesRequired() int {
	m := s.bbPeriod
	if s.volumeSMA > m {
		m = s.volumeSMA
	}
	return m + 5
}

func (s *Breakout) GenerateSignal(symbol string, buf *candlebuffer.Buffer) *types.Signal {
	closes := buf.Closes(symbol)
	if len(closes) < s.MinCandlesRequired() {
		return nil
	}
	highs, lows, volumes := buf.Highs(symbol), buf.Lows(symbol), buf.Volumes(symbol)

	bb := indicators.Bollinger(closes, s.bbPeriod, s.bbStd)
	last := bb[len(bb)-1]
	atrVal := lastOf(indicators.ATR(highs, lows, closes, s.atrPeriod))
	volRatio := lastOf(indicators.VolumeRatio(volumes, s.volumeSMA))

	price := lastOf(closes)
	prevPrice := at(closes, 1)
	state := s.GetState(symbol)

	if state == StateLong {
		if price < last.Middle {
			return closeSignal(symbol, s.name, types.DirectionCloseLong, 0.6)
		}
		return nil
	}
	if state == StateShort {
		if price > last.Middle {
			return closeSignal(symbol, s.name, types.DirectionCloseShort, 0.6)
		}
		return nil
	}

	upBreak := prevPrice <= last.Upper && price > last.Upper
	downBreak := prevPrice >= last.Lower && price < last.Lower
	if !upBreak && !downBreak {
		return nil
	}
	if volRatio < s.volumeThreshold {
		return nil
	}

	confidence := s.confidence(last.Width, volRatio)
	if confidence < s.minConfidence {
		return nil
	}

	slDist := atrVal * s.atrSLMult
	tpDist := atrVal * s.atrTPMult
	meta := map[string]float64{"bb_width": last.Width, "vol_ratio": volRatio}

	if upBreak {
		return entrySignal(symbol, s.name, types.DirectionLong, confidence, price, price-slDist, price+tpDist, meta)
	}
	return entrySignal(symbol, s.name, types.DirectionShort, confidence, price, price+slDist, price-tpDist, meta)
}

func (s *Breakout) confidence(bbWidth, volRatio float64) float64 {
	squeezeScore := clampMin0(1.0 - bbWidth*10)
	volScore := clampMax(volRatio/3.0, 1.0)
	return 0.4*squeezeScore + 0.6*volScore
}
