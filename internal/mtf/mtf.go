// Package mtf confirms an entry signal against a higher timeframe before it
// is allowed to reach the risk manager: close signals bypass confirmation
// entirely.
package mtf

import (
	"context"
	"fmt"

	"github.com/ashfall-systems/perpcore/internal/candlebuffer"
	"github.com/ashfall-systems/perpcore/internal/exchange"
	"github.com/ashfall-systems/perpcore/internal/indicators"
	"github.com/ashfall-systems/perpcore/internal/types"
)

// Result is the confirmer's verdict plus the indicator values it based the
// verdict on, surfaced for logging/journaling.
type Result struct {
	Passed bool
	Reason string
	EMA50  float64
	EMA200 float64
	ADX    float64
}

// StreakProvider reports whether the risk manager currently holds a
// long-side win/exposure streak, used to relax the ADX floor for a
// balancing short entry.
type StreakProvider interface {
	HasLongStreak() bool
}

// Confirmer checks an entry signal's higher-timeframe trend alignment and
// trend strength before it is allowed through to the risk manager.
type Confirmer struct {
	client    exchange.RestAPI
	buf       *candlebuffer.Buffer
	timeframe string
	minBars   int
	adxMin    float64
	streak    StreakProvider
}

// New builds a Confirmer reading timeframe bars through client, buffering
// them in its own CandleBuffer separate from the trading-timeframe buffer.
func New(client exchange.RestAPI, timeframe string, minBars int, adxMin float64, streak StreakProvider) *Confirmer {
	return &Confirmer{
		client: client, buf: candlebuffer.New(minBars + 50),
		timeframe: timeframe, minBars: minBars, adxMin: adxMin, streak: streak,
	}
}

// Confirm fetches (or reuses buffered) higher-timeframe bars for the
// signal's symbol and checks EMA50/EMA200 alignment plus an ADX floor.
// Close signals always pass without fetching anything.
func (c *Confirmer) Confirm(ctx context.Context, signal types.Signal) (Result, error) {
	if !signal.Direction.IsEntry() {
		return Result{Passed: true, Reason: "close_signal_bypasses_mtf"}, nil
	}

	if !c.buf.HasEnough(signal.Symbol, c.minBars) {
		candles, err := c.client.GetKlines(ctx, signal.Symbol, c.timeframe, c.minBars+20)
		if err != nil {
			return Result{}, fmt.Errorf("mtf: fetch higher timeframe: %w", err)
		}
		c.buf.Seed(signal.Symbol, candles)
	}

	if !c.buf.HasEnough(signal.Symbol, c.minBars) {
		return Result{Passed: false, Reason: "insufficient_higher_timeframe_history"}, nil
	}

	closes := c.buf.Closes(signal.Symbol)
	highs, lows := c.buf.Highs(signal.Symbol), c.buf.Lows(signal.Symbol)

	ema50 := last(indicators.EMA(closes, 50))
	ema200 := last(indicators.EMA(closes, 200))
	adxVal := last(indicators.ADX(highs, lows, closes, 14))

	adxMin := c.adxMin
	if signal.Direction == types.DirectionShort && c.streak != nil && c.streak.HasLongStreak() {
		adxMin = relaxed(adxMin)
	}

	result := Result{EMA50: ema50, EMA200: ema200, ADX: adxVal}

	switch signal.Direction {
	case types.DirectionLong:
		result.Passed = ema50 > ema200 && adxVal >= adxMin
	case types.DirectionShort:
		result.Passed = ema50 < ema200 && adxVal >= adxMin
	default:
		result.Passed = true
	}

	if !result.Passed {
		result.Reason = "mtf_alignment_failed"
	} else {
		result.Reason = "mtf_confirmed"
	}
	return result, nil
}

// relaxed applies the ×0.8, floor-10 relaxation to an ADX floor.
func relaxed(adxMin float64) float64 {
	v := adxMin * 0.8
	if v < 10 {
		return 10
	}
	return v
}

func last(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[len(xs)-1]
}
