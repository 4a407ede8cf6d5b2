// Package candlebuffer holds a bounded, deduplicated rolling window of
// candles per symbol, the input series strategies and indicators read from.
package candlebuffer

import (
	"sort"
	"sync"

	"github.com/ashfall-systems/perpcore/internal/types"
)

// Buffer is a bounded per-symbol ring of candles, deduplicated by OpenTime.
// All accessors return copies so callers can never mutate shared state.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	bySymbol map[string][]types.Candle
}

// New returns a Buffer holding at most capacity candles per symbol.
func New(capacity int) *Buffer {
	return &Buffer{capacity: capacity, bySymbol: make(map[string][]types.Candle)}
}

// Seed replaces a symbol's buffer wholesale, e.g. after a historical
// backfill fetch. Input need not be sorted; it is sorted and truncated to
// capacity (most recent kept).
func (b *Buffer) Seed(symbol string, candles []types.Candle) {
	sorted := append([]types.Candle(nil), candles...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OpenTime < sorted[j].OpenTime })
	if len(sorted) > b.capacity {
		sorted = sorted[len(sorted)-b.capacity:]
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bySymbol[symbol] = sorted
}

// Update appends or replaces a candle. If a candle with the same OpenTime
// already exists (an in-progress bar being updated tick by tick), it is
// replaced in place rather than appended. Otherwise it is appended, and the
// buffer is trimmed from the front if it exceeds capacity.
func (b *Buffer) Update(symbol string, c types.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	series := b.bySymbol[symbol]
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].OpenTime == c.OpenTime {
			series[i] = c
			b.bySymbol[symbol] = series
			return
		}
		if series[i].OpenTime < c.OpenTime {
			break
		}
	}

	series = append(series, c)
	if len(series) > b.capacity {
		series = series[len(series)-b.capacity:]
	}
	b.bySymbol[symbol] = series
}

// Get returns a copy of symbol's current candle series, oldest first.
func (b *Buffer) Get(symbol string) []types.Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	series := b.bySymbol[symbol]
	out := make([]types.Candle, len(series))
	copy(out, series)
	return out
}

// HasEnough reports whether symbol has at least min candles buffered.
func (b *Buffer) HasEnough(symbol string, min int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bySymbol[symbol]) >= min
}

// Closes returns the close-price series for symbol, oldest first.
func (b *Buffer) Closes(symbol string) []float64 { return b.field(symbol, func(c types.Candle) float64 { return toFloat(c.Close) }) }

// Highs returns the high-price series for symbol, oldest first.
func (b *Buffer) Highs(symbol string) []float64 { return b.field(symbol, func(c types.Candle) float64 { return toFloat(c.High) }) }

// Lows returns the low-price series for symbol, oldest first.
func (b *Buffer) Lows(symbol string) []float64 { return b.field(symbol, func(c types.Candle) float64 { return toFloat(c.Low) }) }

// Volumes returns the volume series for symbol, oldest first.
func (b *Buffer) Volumes(symbol string) []float64 { return b.field(symbol, func(c types.Candle) float64 { return toFloat(c.Volume) }) }

func (b *Buffer) field(symbol string, f func(types.Candle) float64) []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	series := b.bySymbol[symbol]
	out := make([]float64, len(series))
	for i, c := range series {
		out[i] = f(c)
	}
	return out
}

func toFloat(d interface{ InexactFloat64() float64 }) float64 {
	return d.InexactFloat64()
}
