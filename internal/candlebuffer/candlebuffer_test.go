package candlebuffer

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashfall-systems/perpcore/internal/types"
)

func candle(openTime int64, close float64) types.Candle {
	d := decimal.NewFromFloat(close)
	return types.Candle{
		Symbol: "BTCUSDT", Timeframe: "5m", OpenTime: openTime,
		Open: d, High: d, Low: d, Close: d, Volume: decimal.NewFromInt(1), IsClosed: true,
	}
}

func TestUpdate_AppendsNewBar(t *testing.T) {
	b := New(3)
	b.Update("BTCUSDT", candle(1000, 10))
	b.Update("BTCUSDT", candle(2000, 11))
	require.True(t, b.HasEnough("BTCUSDT", 2))
	assert.Equal(t, []float64{10, 11}, b.Closes("BTCUSDT"))
}

func TestUpdate_ReplacesSameOpenTime(t *testing.T) {
	b := New(3)
	b.Update("BTCUSDT", candle(1000, 10))
	b.Update("BTCUSDT", candle(1000, 10.5))
	assert.Equal(t, []float64{10.5}, b.Closes("BTCUSDT"))
}

func TestUpdate_EvictsOldestBeyondCapacity(t *testing.T) {
	b := New(2)
	b.Update("BTCUSDT", candle(1000, 10))
	b.Update("BTCUSDT", candle(2000, 11))
	b.Update("BTCUSDT", candle(3000, 12))
	assert.Equal(t, []float64{11, 12}, b.Closes("BTCUSDT"))
}

func TestGet_ReturnsCopyNotSharedSlice(t *testing.T) {
	b := New(5)
	b.Update("BTCUSDT", candle(1000, 10))
	got := b.Get("BTCUSDT")
	got[0].Close = decimal.NewFromInt(999)
	assert.Equal(t, []float64{10}, b.Closes("BTCUSDT"))
}

func TestSeed_SortsAndTruncates(t *testing.T) {
	b := New(2)
	b.Seed("ETHUSDT", []types.Candle{candle(3000, 3), candle(1000, 1), candle(2000, 2)})
	assert.Equal(t, []float64{2, 3}, b.Closes("ETHUSDT"))
}

func TestHasEnough_FalseForUnknownSymbol(t *testing.T) {
	b := New(5)
	assert.False(t, b.HasEnough("DOGEUSDT", 1))
}
