package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/config"
)

func testRiskSettings() config.RiskSettings {
	return config.DefaultRiskSettings()
}

func TestDrawdownMonitor_HaltsAtMaxDrawdownBoundary(t *testing.T) {
	settings := testRiskSettings()
	m := NewDrawdownMonitor(settings)
	m.Initialize(decimal.NewFromInt(10000))

	ok := m.UpdateEquity(decimal.NewFromInt(8500)) // exactly 15% drawdown
	if ok {
		t.Fatal("expected UpdateEquity to report halted at exact boundary")
	}
	if !m.IsHalted() {
		t.Fatal("expected monitor halted at max drawdown boundary")
	}
}

func TestDrawdownMonitor_NoHaltJustBelowBoundary(t *testing.T) {
	settings := testRiskSettings()
	settings.EnableDailyLossLimit = false // isolate the max-drawdown check
	m := NewDrawdownMonitor(settings)
	m.Initialize(decimal.NewFromInt(10000))

	ok := m.UpdateEquity(decimal.NewFromInt(8501)) // 14.99% drawdown
	if !ok {
		t.Fatal("expected UpdateEquity to report not halted below boundary")
	}
	if m.IsHalted() {
		t.Fatal("expected monitor not halted below max drawdown boundary")
	}
}

func TestDrawdownMonitor_DailyLossHalt(t *testing.T) {
	settings := testRiskSettings()
	m := NewDrawdownMonitor(settings)
	m.Initialize(decimal.NewFromInt(10000))

	m.UpdateEquity(decimal.NewFromInt(9501)) // -4.99% daily, no halt
	if m.IsHalted() {
		t.Fatal("expected no halt just under daily loss threshold")
	}
	m.UpdateEquity(decimal.NewFromInt(9500)) // -5% daily, halts
	if !m.IsHalted() {
		t.Fatal("expected halt at daily loss boundary")
	}
}

func TestDrawdownMonitor_SoftStopBeforeHardStop(t *testing.T) {
	settings := testRiskSettings()
	m := NewDrawdownMonitor(settings)
	m.Initialize(decimal.NewFromInt(10000))

	// soft threshold = maxDailyLossPct(0.05) * softStopThresholdPct(0.80) = 4%
	m.UpdateEquity(decimal.NewFromInt(9600))
	if !m.IsSoftStopped() {
		t.Fatal("expected soft stop engaged at 4% daily loss")
	}
	if m.IsHalted() {
		t.Fatal("expected no hard halt at 4% daily loss")
	}
}

func TestDrawdownMonitor_ResetDailyClearsDailyHaltNotMaxDrawdownHalt(t *testing.T) {
	settings := testRiskSettings()
	m := NewDrawdownMonitor(settings)
	m.Initialize(decimal.NewFromInt(10000))
	m.UpdateEquity(decimal.NewFromInt(8500))
	if !m.IsHalted() {
		t.Fatal("expected max drawdown halt")
	}
	m.ResetDaily()
	if !m.IsHalted() {
		t.Fatal("expected max_drawdown halt to survive ResetDaily")
	}
}

func TestDrawdownMonitor_ResumeTradingClearsAnyHalt(t *testing.T) {
	settings := testRiskSettings()
	m := NewDrawdownMonitor(settings)
	m.Initialize(decimal.NewFromInt(10000))
	m.UpdateEquity(decimal.NewFromInt(8500))
	m.ResumeTrading()
	if m.IsHalted() {
		t.Fatal("expected ResumeTrading to clear the halt")
	}
}
