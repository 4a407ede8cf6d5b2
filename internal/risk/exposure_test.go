package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/types"
)

func longPosition(symbol string, size, entry decimal.Decimal) types.Position {
	return types.Position{Symbol: symbol, Side: types.PositionLong, Size: size, EntryPrice: entry}
}

func shortPosition(symbol string, size, entry decimal.Decimal) types.Position {
	return types.Position{Symbol: symbol, Side: types.PositionShort, Size: size, EntryPrice: entry}
}

func TestExposureManager_TotalExposureUSD(t *testing.T) {
	e := NewExposureManager(testRiskSettings())
	positions := []types.Position{
		longPosition("BTCUSDT", decimal.NewFromInt(1), decimal.NewFromInt(50000)),
		shortPosition("ETHUSDT", decimal.NewFromInt(2), decimal.NewFromInt(3000)),
	}
	got := e.TotalExposureUSD(positions)
	want := decimal.NewFromInt(56000)
	if !got.Equal(want) {
		t.Fatalf("expected total exposure %s, got %s", want, got)
	}
}

func TestExposureManager_CheckNewPosition_RejectsAtMaxConcurrent(t *testing.T) {
	settings := testRiskSettings()
	settings.MaxConcurrentPositions = 1
	e := NewExposureManager(settings)
	positions := []types.Position{longPosition("BTCUSDT", decimal.NewFromInt(1), decimal.NewFromInt(50000))}

	check := e.CheckNewPosition(positions, decimal.NewFromInt(1000), decimal.NewFromInt(1), decimal.NewFromInt(100000), false)
	if check.Allowed {
		t.Fatal("expected rejection at max concurrent positions")
	}
}

func TestExposureManager_CheckNewPosition_FundingArbBypassesConcurrencyGate(t *testing.T) {
	settings := testRiskSettings()
	settings.MaxConcurrentPositions = 1
	e := NewExposureManager(settings)
	positions := []types.Position{longPosition("BTCUSDT", decimal.NewFromInt(1), decimal.NewFromInt(50000))}

	check := e.CheckNewPosition(positions, decimal.NewFromInt(1000), decimal.NewFromInt(1), decimal.NewFromInt(100000), true)
	if !check.Allowed {
		t.Fatalf("expected funding-arb position to bypass concurrency gate, got reason %q", check.Reason)
	}
}

func TestExposureManager_CheckNewPosition_RejectsOverLeverage(t *testing.T) {
	settings := testRiskSettings() // MaxLeverage = 3.0
	e := NewExposureManager(settings)

	check := e.CheckNewPosition(nil, decimal.NewFromInt(1000), decimal.NewFromInt(5), decimal.NewFromInt(100000), false)
	if check.Allowed {
		t.Fatal("expected rejection above max leverage")
	}
}

func TestExposureManager_CheckDirectionalExposure_RejectsOneSidedTilt(t *testing.T) {
	settings := testRiskSettings() // MaxDirectionalExposurePct(0.60) * MaxLeverage(3.0) = 1.8x equity cap
	e := NewExposureManager(settings)
	equity := decimal.NewFromInt(100000)
	positions := []types.Position{longPosition("BTCUSDT", decimal.NewFromInt(3), decimal.NewFromInt(50000))} // 150000 long

	// adding another 50000 long pushes the long side to 200000, i.e. 2.0x equity, above the 1.8x cap
	check := e.CheckDirectionalExposure(positions, types.PositionLong, decimal.NewFromInt(50000), equity)
	if check.Allowed {
		t.Fatal("expected directional exposure rejection for a one-sided book beyond the equity-scaled cap")
	}
}

func TestExposureManager_CheckDirectionalExposure_AllowsModestSingleEntry(t *testing.T) {
	settings := testRiskSettings()
	e := NewExposureManager(settings)
	equity := decimal.NewFromInt(100000)

	// a brand new position on an otherwise flat book is 100% of currently-open
	// notional but a small fraction of equity, so it must not be rejected.
	check := e.CheckDirectionalExposure(nil, types.PositionLong, decimal.NewFromInt(2000), equity)
	if !check.Allowed {
		t.Fatalf("expected a modest first entry to pass, got reason %q", check.Reason)
	}
}

func TestExposureManager_CheckDirectionalExposure_DisabledAlwaysAllows(t *testing.T) {
	settings := testRiskSettings()
	settings.EnableDirectionalExposureLimit = false
	e := NewExposureManager(settings)
	equity := decimal.NewFromInt(100000)
	positions := []types.Position{longPosition("BTCUSDT", decimal.NewFromInt(1), decimal.NewFromInt(50000))}

	check := e.CheckDirectionalExposure(positions, types.PositionLong, decimal.NewFromInt(1000000), equity)
	if !check.Allowed {
		t.Fatal("expected directional check disabled to always allow")
	}
}
