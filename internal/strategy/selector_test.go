package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ashfall-systems/perpcore/internal/candlebuffer"
	"github.com/ashfall-systems/perpcore/internal/types"
)

func seedTrendingUp(buf *candlebuffer.Buffer, symbol string, n int) {
	price := 100.0
	for i := 0; i < n; i++ {
		price += 1.0
		d := decimal.NewFromFloat(price)
		buf.Update(symbol, types.Candle{
			Symbol: symbol, OpenTime: int64(i) * 60000,
			Open: d, High: d.Add(decimal.NewFromFloat(0.5)), Low: d.Sub(decimal.NewFromFloat(0.5)),
			Close: d, Volume: decimal.NewFromInt(100), IsClosed: true,
		})
	}
}

func TestSelector_DetectRegime_DefaultsToLowVolRangeWithoutHistory(t *testing.T) {
	buf := candlebuffer.New(300)
	seedTrendingUp(buf, "BTCUSDT", 10)
	sel := NewSelector(nil)
	assert.Equal(t, "low_vol_range", string(sel.DetectRegime("BTCUSDT", buf)))
}

func TestSelector_GenerateSignals_SortedByConfidenceDescending(t *testing.T) {
	buf := candlebuffer.New(300)
	seedTrendingUp(buf, "BTCUSDT", 250)

	ema := NewEMACrossover([]string{"BTCUSDT"})
	trend := NewTrendFollowing([]string{"BTCUSDT"})
	sel := NewSelector([]Strategy{ema, trend})
	sel.SetRegimeMap("low_vol_range", []string{"ema_crossover", "trend_following"})

	signals := sel.GenerateSignals("BTCUSDT", buf)
	for i := 1; i < len(signals); i++ {
		assert.GreaterOrEqual(t, signals[i-1].Confidence, signals[i].Confidence)
	}
}

func TestSelector_FallsBackToAllEnabledWhenRegimeListEmpty(t *testing.T) {
	buf := candlebuffer.New(300)
	seedTrendingUp(buf, "BTCUSDT", 250)

	ema := NewEMACrossover([]string{"BTCUSDT"})
	sel := NewSelector([]Strategy{ema})
	sel.SetRegimeMap(sel.DetectRegime("BTCUSDT", buf), []string{"nonexistent_strategy"})

	selected := sel.SelectStrategies("BTCUSDT", buf)
	assert.Len(t, selected, 1)
	assert.Equal(t, "ema_crossover", selected[0].Name())
}

func TestEMACrossover_NoSignalBelowMinCandles(t *testing.T) {
	buf := candlebuffer.New(300)
	seedTrendingUp(buf, "BTCUSDT", 5)
	ema := NewEMACrossover([]string{"BTCUSDT"})
	assert.Nil(t, ema.GenerateSignal("BTCUSDT", buf))
}
