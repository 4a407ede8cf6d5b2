// Package funding tracks per-symbol funding-rate sample history and
// temporarily disables the funding_rate_arb strategy when the venue's
// funding-rate endpoint is repeatedly unreachable.
package funding

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/exchange"
	"github.com/ashfall-systems/perpcore/internal/logging"
	"github.com/ashfall-systems/perpcore/internal/strategy"
)

var log = logging.For("funding")

const (
	historySize      = 240
	failureThreshold = 3
)

// Strategies is the subset of strategy.Selector the Feeder depends on: it
// needs to look a strategy up by name and flip its enabled flag.
type Strategies interface {
	Strategy(name string) (strategy.Strategy, bool)
}

// SelectorStrategies adapts a *strategy.Selector to the Strategies
// interface the Feeder consumes.
type SelectorStrategies struct {
	Selector *strategy.Selector
}

// Strategy looks up name among the selector's registered strategies.
func (s SelectorStrategies) Strategy(name string) (strategy.Strategy, bool) {
	st, ok := s.Selector.Strategies()[name]
	return st, ok
}

// Feeder polls a venue's funding rate per symbol, keeps a bounded sample
// history per symbol, and implements strategy.FundingHistoryProvider so
// funding_rate_arb can read it directly. It also watches for repeated
// fetch failures across any tracked symbol and disables funding_rate_arb
// while any symbol's failure streak is at or above failureThreshold.
type Feeder struct {
	rest exchange.RestAPI

	mu       sync.Mutex
	history  map[string][]float64
	failures map[string]int
	degraded bool

	strategyName string
	strategies   Strategies
}

// NewFeeder builds a Feeder reading funding rates from rest. strategies and
// strategyName are optional (nil/empty skips the enable/disable wiring,
// useful when only the history-provider half is needed, e.g. in tests).
func NewFeeder(rest exchange.RestAPI, strategies Strategies, strategyName string) *Feeder {
	return &Feeder{
		rest:         rest,
		history:      make(map[string][]float64),
		failures:     make(map[string]int),
		strategyName: strategyName,
		strategies:   strategies,
	}
}

// SetStrategies wires the enable/disable gate after construction, for
// callers that must build the Feeder before the strategy selector exists
// (the funding_rate_arb strategy itself depends on the Feeder as its
// FundingHistoryProvider, so the two can't both come first).
func (f *Feeder) SetStrategies(strategies Strategies, strategyName string) {
	f.mu.Lock()
	f.strategies = strategies
	f.strategyName = strategyName
	f.mu.Unlock()
}

// Refresh fetches symbol's current funding rate and appends it to history.
// A fetch error increments that symbol's failure streak and re-evaluates
// whether funding_rate_arb should be disabled; it never returns the error
// to the caller since funding-rate polling is best-effort.
func (f *Feeder) Refresh(ctx context.Context, symbol string) {
	rate, err := f.rest.GetFundingRate(ctx, symbol)
	f.mu.Lock()
	if err != nil {
		f.failures[symbol]++
		f.mu.Unlock()
		f.updateAvailability()
		log.WithField("symbol", symbol).WithField("failures", f.failures[symbol]).WithError(err).Warn("funding rate fetch failed")
		return
	}
	f.failures[symbol] = 0
	f.mu.Unlock()
	f.updateAvailability()
	f.appendSample(symbol, rate)
}

func (f *Feeder) appendSample(symbol string, rate decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rateF, _ := rate.Float64()
	hist := f.history[symbol]
	hist = append(hist, rateF)
	if len(hist) > historySize {
		hist = hist[len(hist)-historySize:]
	}
	f.history[symbol] = hist
}

// updateAvailability disables funding_rate_arb once any tracked symbol has
// reached failureThreshold consecutive failures, and re-enables it once no
// tracked symbol is at or above that threshold (a successful fetch resets
// that symbol's streak to zero).
func (f *Feeder) updateAvailability() {
	if f.strategies == nil || f.strategyName == "" {
		return
	}
	gate, ok := f.strategies.Strategy(f.strategyName)
	if !ok {
		return
	}

	f.mu.Lock()
	degradedNow := false
	for _, n := range f.failures {
		if n >= failureThreshold {
			degradedNow = true
			break
		}
	}
	wasDegraded := f.degraded
	f.degraded = degradedNow
	failuresSnapshot := make(map[string]int, len(f.failures))
	for k, v := range f.failures {
		failuresSnapshot[k] = v
	}
	f.mu.Unlock()

	if degradedNow && !wasDegraded {
		gate.SetEnabled(false)
		log.WithField("failures", failuresSnapshot).Warn("funding_rate_arb temporarily disabled")
		return
	}
	if !degradedNow && wasDegraded {
		gate.SetEnabled(true)
		log.Info("funding_rate_arb re-enabled")
	}
}

// History returns symbol's funding-rate sample history, oldest first,
// implementing strategy.FundingHistoryProvider. Returns nil if symbol has
// never been successfully polled.
func (f *Feeder) History(symbol string) []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	hist := f.history[symbol]
	return append([]float64(nil), hist...)
}

// IsDegraded reports whether funding_rate_arb is currently disabled due to
// fetch failures.
func (f *Feeder) IsDegraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}

// FailureCount returns symbol's current consecutive-failure streak.
func (f *Feeder) FailureCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[symbol]
}
