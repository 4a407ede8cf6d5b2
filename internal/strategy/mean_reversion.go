package strategy

import (
	"math"

	"github.com/ashfall-systems/perpcore/internal/candlebuffer"
	"github.com/ashfall-systems/perpcore/internal/indicators"
	"github.com/ashfall-systems/perpcore/internal/types"
)

// MeanReversion enters against RSI/Bollinger-band extremes and exits once
// RSI crosses back through the midline.
type MeanReversion struct {
	base
	rsiPeriod                     int
	rsiOversold, rsiOverbought    float64
	bbPeriod                      int
	bbStd                         float64
	atrPeriod                     int
	atrSLMult                     float64
	dynamicThresholds             bool
	minConfidence                 float64
}

// NewMeanReversion builds a MeanReversion strategy with the teacher's
// default parameterization.
func NewMeanReversion(symbols []string) *MeanReversion {
	return &MeanReversion{
		base: newBase("mean_reversion", symbols),
		rsiPeriod: 14, rsiOversold: 30, rsiOverbought: 70,
		bbPeriod: 20, bbStd: 2.0, atrPeriod: 14, atrSLMult: 1.5,
		dynamicThresholds: true, minConfidence: 0.5,
	}
}

func (s *MeanReversion) MinCandlesRequired() int {
	m := s.rsiPeriod
	if s.bbPeriod > m {
		m = s.bbPeriod
	}
	return m + 10
}

func (s *MeanReversion) GenerateSignal(symbol string, buf *candlebuffer.Buffer) *types.Signal {
	closes := buf.Closes(symbol)
	if len(closes) < s.MinCandlesRequired() {
		return nil
	}
	highs, lows := buf.Highs(symbol), buf.Lows(symbol)

	rsiVals := indicators.RSI(closes, s.rsiPeriod)
	bb := indicators.Bollinger(closes, s.bbPeriod, s.bbStd)
	atrVal := lastOf(indicators.ATR(highs, lows, closes, s.atrPeriod))

	currRSI := lastOf(rsiVals)
	price := lastOf(closes)
	last := bb[len(bb)-1]

	oversold, overbought := s.thresholds(rsiVals)
	state := s.GetState(symbol)

	if state == StateLong && currRSI > 50 {
		return closeSignal(symbol, s.name, types.DirectionCloseLong, 0.6)
	}
	if state == StateShort && currRSI < 50 {
		return closeSignal(symbol, s.name, types.DirectionCloseShort, 0.6)
	}

	if currRSI < oversold && price <= last.Lower {
		confidence := s.confidence(currRSI, oversold, true)
		if confidence < s.minConfidence {
			return nil
		}
		sl := price - atrVal*s.atrSLMult
		return entrySignal(symbol, s.name, types.DirectionLong, confidence, price, sl, last.Middle,
			map[string]float64{"rsi": currRSI, "bb_lower": last.Lower})
	}

	if currRSI > overbought && price >= last.Upper {
		confidence := s.confidence(currRSI, overbought, false)
		if confidence < s.minConfidence {
			return nil
		}
		sl := price + atrVal*s.atrSLMult
		return entrySignal(symbol, s.name, types.DirectionShort, confidence, price, sl, last.Middle,
			map[string]float64{"rsi": currRSI, "bb_upper": last.Upper})
	}

	return nil
}

func (s *MeanReversion) thresholds(rsiVals []float64) (oversold, overbought float64) {
	if !s.dynamicThresholds {
		return s.rsiOversold, s.rsiOverbought
	}
	window := rsiVals
	if len(window) > 50 {
		window = window[len(window)-50:]
	}
	mean := meanOf(window)
	sd := stddevOf(window, mean)
	oversold = clampMin(mean-1.5*sd, 15.0)
	overbought = clampMax(mean+1.5*sd, 85.0)
	return oversold, overbought
}

func (s *MeanReversion) confidence(currRSI, threshold float64, isLong bool) float64 {
	var distance float64
	if isLong {
		if threshold != 0 {
			distance = (threshold - currRSI) / threshold
		}
	} else {
		if (100 - threshold) != 0 {
			distance = (currRSI - threshold) / (100 - threshold)
		}
	}
	return clampMax(0.5+distance*0.5, 1.0)
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddevOf(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}
