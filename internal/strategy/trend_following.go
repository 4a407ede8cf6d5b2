package strategy

import (
	"github.com/ashfall-systems/perpcore/internal/candlebuffer"
	"github.com/ashfall-systems/perpcore/internal/indicators"
	"github.com/ashfall-systems/perpcore/internal/types"
)

// TrendFollowing enters when a fast/slow/trend EMA stack aligns under a
// minimum ADX, confirmed by Supertrend direction, and exits when the EMA
// stack or Supertrend flips.
type TrendFollowing struct {
	base
	fastEMA, slowEMA, trendEMA, adxPeriod, rsiPeriod, atrPeriod int
	adxThreshold                                                float64
	atrSLMult, atrTPMult                                        float64
	useSupertrend                                                bool
	minConfidence                                                float64
}

// NewTrendFollowing builds a TrendFollowing strategy with the teacher's
// default parameterization.
func NewTrendFollowing(symbols []string) *TrendFollowing {
	return &TrendFollowing{
		base: newBase("trend_following", symbols),
		fastEMA: 21, slowEMA: 50, trendEMA: 200,
		adxPeriod: 14, adxThreshold: 25.0, rsiPeriod: 14, atrPeriod: 14,
		atrSLMult: 2.5, atrTPMult: 4.0, useSupertrend: true, minConfidence: 0.5,
	}
}

func (s *TrendFollowing) MinCandlesRequired() int { return s.trendEMA + 10 }

func (s *TrendFollowing) GenerateSignal(symbol string, buf *candlebuffer.Buffer) *types.Signal {
	closes := buf.Closes(symbol)
	if len(closes) < s.MinCandlesRequired() {
		return nil
	}
	highs, lows := buf.Highs(symbol), buf.Lows(symbol)

	fastVals := indicators.EMA(closes, s.fastEMA)
	slowVals := indicators.EMA(closes, s.slowEMA)
	trendVals := indicators.EMA(closes, s.trendEMA)
	adxVals := indicators.ADX(highs, lows, closes, s.adxPeriod)
	rsiVals := indicators.RSI(closes, s.rsiPeriod)

	price := lastOf(closes)
	currADX := lastOf(adxVals)
	currRSI := lastOf(rsiVals)

	trending := currADX > s.adxThreshold
	uptrend := lastOf(fastVals) > lastOf(slowVals) && lastOf(slowVals) > lastOf(trendVals)
	downtrend := lastOf(fastVals) < lastOf(slowVals) && lastOf(slowVals) < lastOf(trendVals)

	stDirection := 1
	if s.useSupertrend {
		stDirection = lastOfInt(indicators.SupertrendDirection(highs, lows, closes, 10, 3.0))
	}

	state := s.GetState(symbol)

	if state == StateLong {
		if !uptrend || (s.useSupertrend && stDirection == -1) {
			return closeSignal(symbol, s.name, types.DirectionCloseLong, 0.7)
		}
		return nil
	}
	if state == StateShort {
		if !downtrend || (s.useSupertrend && stDirection == 1) {
			return closeSignal(symbol, s.name, types.DirectionCloseShort, 0.7)
		}
		return nil
	}

	if !trending {
		return nil
	}

	atrVal := lastOf(indicators.ATR(highs, lows, closes, s.atrPeriod))
	slDist := atrVal * s.atrSLMult
	tpDist := atrVal * s.atrTPMult

	if uptrend && (!s.useSupertrend || stDirection == 1) {
		if currRSI > 70 {
			return nil
		}
		confidence := s.confidence(currADX, currRSI, true)
		if confidence < s.minConfidence {
			return nil
		}
		meta := map[string]float64{"adx": currADX, "rsi": currRSI, "st_dir": float64(stDirection)}
		return entrySignal(symbol, s.name, types.DirectionLong, confidence, price, price-slDist, price+tpDist, meta)
	}

	if downtrend && (!s.useSupertrend || stDirection == -1) {
		if currRSI < 30 {
			return nil
		}
		confidence := s.confidence(currADX, currRSI, false)
		if confidence < s.minConfidence {
			return nil
		}
		meta := map[string]float64{"adx": currADX, "rsi": currRSI, "st_dir": float64(stDirection)}
		return entrySignal(symbol, s.name, types.DirectionShort, confidence, price, price+slDist, price-tpDist, meta)
	}

	return nil
}

func (s *TrendFollowing) confidence(adxVal, rsiVal float64, isLong bool) float64 {
	adxScore := clampMax((adxVal-s.adxThreshold)/25.0, 1.0)
	var rsiScore float64
	if isLong {
		rsiScore = clampMin0(rsiVal-40) / 30
	} else {
		rsiScore = clampMin0(60-rsiVal) / 30
	}
	return 0.6*adxScore + 0.4*clampMax(rsiScore, 1.0)
}

func clampMin0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func lastOfInt(xs []int) int {
	if len(xs) == 0 {
		return 1
	}
	return xs[len(xs)-1]
}
