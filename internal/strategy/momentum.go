package strategy

import (
	"github.com/ashfall-systems/perpcore/internal/candlebuffer"
	"github.com/ashfall-systems/perpcore/internal/indicators"
	"github.com/ashfall-systems/perpcore/internal/types"
)

// Momentum enters in the direction of a combined RSI/ROC/stochastic score
// once volume confirms participation, and exits when the score flips sign.
type Momentum struct {
	base
	rocPeriod, rsiPeriod, volumeSMA, atrPeriod int
	atrSLMult, atrTPMult                       float64
	momentumThreshold, volumeThreshold         float64
	minConfidence                              float64
}

// NewMomentum builds a Momentum strategy with the teacher's default
// parameterization.
func NewMomentum(symbols []string) *Momentum {
	return &Momentum{
		base: newBase("momentum", symbols),
		rocPeriod: 10, rsiPeriod: 14, volumeSMA: 20, atrPeriod: 14,
		atrSLMult: 2.0, atrTPMult: 3.0,
		momentumThreshold: 0.3, volumeThreshold: 1.2, minConfidence: 0.5,
	}
}

func (s *Momentum) MinCandlesRequired() int {
	m := s.rocPeriod
	if s.rsiPeriod > m {
		m = s.rsiPeriod
	}
	if s.volumeSMA > m {
		m = s.volumeSMA
	}
	return m + 10
}

func (s *Momentum) GenerateSignal(symbol string, buf *candlebuffer.Buffer) *types.Signal {
	closes := buf.Closes(symbol)
	if len(closes) < s.MinCandlesRequired() {
		return nil
	}
	highs, lows, volumes := buf.Highs(symbol), buf.Lows(symbol), buf.Volumes(symbol)

	score := indicators.MomentumScore(closes, highs, lows, s.rsiPeriod, s.rocPeriod)
	rsiVal := lastOf(indicators.RSI(closes, s.rsiPeriod))
	volRatio := lastOf(indicators.VolumeRatio(volumes, s.volumeSMA))
	atrVal := lastOf(indicators.ATR(highs, lows, closes, s.atrPeriod))

	currScore := lastOf(score)
	price := lastOf(closes)
	state := s.GetState(symbol)

	if state == StateLong && currScore < 0 {
		return closeSignal(symbol, s.name, types.DirectionCloseLong, 0.65)
	}
	if state == StateShort && currScore > 0 {
		return closeSignal(symbol, s.name, types.DirectionCloseShort, 0.65)
	}

	volumeConfirmed := volRatio >= s.volumeThreshold
	strongMomentum := abs(currScore) > s.momentumThreshold
	if !strongMomentum || !volumeConfirmed {
		return nil
	}

	confidence := s.confidence(currScore, rsiVal, volRatio)
	if confidence < s.minConfidence {
		return nil
	}

	slDist := atrVal * s.atrSLMult
	tpDist := atrVal * s.atrTPMult
	meta := map[string]float64{"score": currScore, "rsi": rsiVal, "vol_ratio": volRatio}

	if currScore > 0 {
		return entrySignal(symbol, s.name, types.DirectionLong, confidence, price, price-slDist, price+tpDist, meta)
	}
	return entrySignal(symbol, s.name, types.DirectionShort, confidence, price, price+slDist, price-tpDist, meta)
}

func (s *Momentum) confidence(score, rsiVal, volRatio float64) float64 {
	scoreConf := clampMax(abs(score), 1.0)
	rsiConf := abs(rsiVal-50) / 50
	volConf := clampMax(volRatio/3.0, 1.0)
	return 0.4*scoreConf + 0.3*rsiConf + 0.3*volConf
}
