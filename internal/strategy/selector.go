package strategy

import (
	"sort"
	"sync"

	"github.com/ashfall-systems/perpcore/internal/candlebuffer"
	"github.com/ashfall-systems/perpcore/internal/indicators"
	"github.com/ashfall-systems/perpcore/internal/types"
)

// performanceTracker records a strategy's trailing win/loss outcomes and
// deweights (disables) it once its trailing win rate drops below a floor,
// re-enabling once it recovers past a higher hysteresis threshold. This
// prevents a strategy from flapping on and off at the boundary.
type performanceTracker struct {
	mu      sync.Mutex
	results map[string][]bool // name -> recent win/loss, newest last
}

const (
	performanceWindow  = 20
	disableWinRate     = 0.35
	reenableWinRate    = 0.45
)

func newPerformanceTracker() *performanceTracker {
	return &performanceTracker{results: make(map[string][]bool)}
}

// RecordTrade appends a win/loss outcome for name, keeping only the most
// recent performanceWindow results.
func (p *performanceTracker) RecordTrade(name string, won bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs := append(p.results[name], won)
	if len(rs) > performanceWindow {
		rs = rs[len(rs)-performanceWindow:]
	}
	p.results[name] = rs
}

// shouldDisable reports whether name's trailing win rate is below the
// disable floor given it has a full performance window of history.
// wasDisabled governs which threshold applies, providing hysteresis.
func (p *performanceTracker) shouldDisable(name string, wasDisabled bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs := p.results[name]
	if len(rs) < performanceWindow {
		return false
	}
	wins := 0
	for _, w := range rs {
		if w {
			wins++
		}
	}
	rate := float64(wins) / float64(len(rs))
	if wasDisabled {
		return rate < reenableWinRate
	}
	return rate < disableWinRate
}

// Selector classifies the current market regime and routes signal
// generation to the strategies suited for it, applying a rolling
// performance-based deweighting on top of the regime map.
type Selector struct {
	strategies map[string]Strategy
	regimeMap  map[indicators.Regime][]string
	perf       *performanceTracker
	disabled   map[string]bool
	mu         sync.Mutex
}

// NewSelector builds a Selector over strategies with the teacher's default
// regime routing map.
func NewSelector(strategies []Strategy) *Selector {
	m := make(map[string]Strategy, len(strategies))
	for _, s := range strategies {
		m[s.Name()] = s
	}
	return &Selector{
		strategies: m,
		regimeMap: map[indicators.Regime][]string{
			indicators.RegimeHighVolTrend: {"trend_following", "momentum", "breakout"},
			indicators.RegimeLowVolTrend:  {"trend_following", "ema_crossover"},
			indicators.RegimeHighVolRange: {"mean_reversion", "grid_trading"},
			indicators.RegimeLowVolRange:  {"grid_trading", "mean_reversion", "funding_rate_arb"},
		},
		perf:     newPerformanceTracker(),
		disabled: make(map[string]bool),
	}
}

// Strategies returns the selector's registered strategies by name.
func (sel *Selector) Strategies() map[string]Strategy {
	sel.mu.Lock()
	defer sel.mu.Unlock()
	out := make(map[string]Strategy, len(sel.strategies))
	for k, v := range sel.strategies {
		out[k] = v
	}
	return out
}

// AddStrategy registers or replaces a strategy.
func (sel *Selector) AddStrategy(s Strategy) {
	sel.mu.Lock()
	defer sel.mu.Unlock()
	sel.strategies[s.Name()] = s
}

// RemoveStrategy deregisters a strategy by name.
func (sel *Selector) RemoveStrategy(name string) {
	sel.mu.Lock()
	defer sel.mu.Unlock()
	delete(sel.strategies, name)
}

// SetRegimeMap overrides the eligible-strategy list for a regime.
func (sel *Selector) SetRegimeMap(regime indicators.Regime, names []string) {
	sel.mu.Lock()
	defer sel.mu.Unlock()
	sel.regimeMap[regime] = names
}

// RecordTrade feeds a closed trade's outcome into the performance tracker
// driving deweighting.
func (sel *Selector) RecordTrade(strategyName string, won bool) {
	sel.perf.RecordTrade(strategyName, won)
}

// DetectRegime classifies the current market regime from buf's series for
// symbol. With fewer than 60 candles it defaults to low_vol_range.
func (sel *Selector) DetectRegime(symbol string, buf *candlebuffer.Buffer) indicators.Regime {
	closes := buf.Closes(symbol)
	if len(closes) < 60 {
		return indicators.RegimeLowVolRange
	}
	highs, lows := buf.Highs(symbol), buf.Lows(symbol)
	adxVals := indicators.ADX(highs, lows, closes, 14)
	atrVals := indicators.ATR(highs, lows, closes, 14)
	avgATR := lastOf(indicators.SMA(atrVals, 20))
	return indicators.ClassifyRegime(lastOf(adxVals), lastOf(atrVals), avgATR)
}

// SelectStrategies returns the enabled, non-deweighted strategies eligible
// for the current regime, falling back to every enabled strategy if the
// regime's preferred list yields nothing.
func (sel *Selector) SelectStrategies(symbol string, buf *candlebuffer.Buffer) []Strategy {
	regime := sel.DetectRegime(symbol, buf)

	sel.mu.Lock()
	preferred, ok := sel.regimeMap[regime]
	if !ok {
		preferred = make([]string, 0, len(sel.strategies))
		for name := range sel.strategies {
			preferred = append(preferred, name)
		}
	}
	var selected []Strategy
	for _, name := range preferred {
		if s, ok := sel.strategies[name]; ok && s.Enabled() && !sel.isDeweighted(name) {
			selected = append(selected, s)
		}
	}
	if len(selected) == 0 {
		for _, s := range sel.strategies {
			if s.Enabled() && !sel.isDeweighted(s.Name()) {
				selected = append(selected, s)
			}
		}
	}
	sel.mu.Unlock()
	return selected
}

func (sel *Selector) isDeweighted(name string) bool {
	wasDisabled := sel.disabled[name]
	disable := sel.perf.shouldDisable(name, wasDisabled)
	sel.disabled[name] = disable
	return disable
}

// GenerateSignals runs every eligible strategy for symbol against buf and
// returns the resulting signals sorted by descending confidence.
func (sel *Selector) GenerateSignals(symbol string, buf *candlebuffer.Buffer) []types.Signal {
	active := sel.SelectStrategies(symbol, buf)
	var signals []types.Signal
	for _, s := range active {
		covers := false
		for _, sym := range s.Symbols() {
			if sym == symbol {
				covers = true
				break
			}
		}
		if !covers {
			continue
		}
		if sig := s.GenerateSignal(symbol, buf); sig != nil {
			signals = append(signals, *sig)
		}
	}
	sort.SliceStable(signals, func(i, j int) bool { return signals[i].Confidence > signals[j].Confidence })
	return signals
}

// GetBestSignal returns the highest-confidence signal for symbol, or nil.
func (sel *Selector) GetBestSignal(symbol string, buf *candlebuffer.Buffer) *types.Signal {
	signals := sel.GenerateSignals(symbol, buf)
	if len(signals) == 0 {
		return nil
	}
	return &signals[0]
}
