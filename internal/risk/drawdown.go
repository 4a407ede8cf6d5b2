package risk

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/config"
)

// DrawdownMonitor tracks peak/current/daily-start equity and derives the
// halt (hard stop) and soft-stop states from the configured thresholds.
type DrawdownMonitor struct {
	settings config.RiskSettings

	mu               sync.Mutex
	peakEquity       decimal.Decimal
	currentEquity    decimal.Decimal
	dailyStartEquity decimal.Decimal
	halted           bool
	haltReason       string
	softStopped      bool
	softStopReason   string
}

// NewDrawdownMonitor builds a DrawdownMonitor over settings.
func NewDrawdownMonitor(settings config.RiskSettings) *DrawdownMonitor {
	return &DrawdownMonitor{settings: settings}
}

// Initialize seeds peak/current/daily-start equity and clears halt state.
func (d *DrawdownMonitor) Initialize(equity decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peakEquity = equity
	d.currentEquity = equity
	d.dailyStartEquity = equity
	d.halted = false
	d.haltReason = ""
	d.softStopped = false
	d.softStopReason = ""
}

// PeakEquity returns the highest equity observed since Initialize/reset.
func (d *DrawdownMonitor) PeakEquity() decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peakEquity
}

// CurrentDrawdownPct returns the current drawdown from peak equity, as a
// fraction (0.05 == 5%), used for equity-snapshot journaling and risk alerts.
func (d *DrawdownMonitor) CurrentDrawdownPct() decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentDrawdownPctLocked()
}

func (d *DrawdownMonitor) currentDrawdownPctLocked() decimal.Decimal {
	if d.peakEquity.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return d.peakEquity.Sub(d.currentEquity).Div(d.peakEquity)
}

func (d *DrawdownMonitor) dailyPnLPctLocked() decimal.Decimal {
	if d.dailyStartEquity.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return d.currentEquity.Sub(d.dailyStartEquity).Div(d.dailyStartEquity)
}

// IsHalted reports whether the hard stop (max drawdown or daily loss) is
// currently engaged.
func (d *DrawdownMonitor) IsHalted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.halted
}

// HaltReason returns the machine-readable reason the hard stop tripped.
func (d *DrawdownMonitor) HaltReason() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.haltReason
}

// IsSoftStopped reports whether the soft-stop (elevated caution) state is
// engaged — it does not block trading outright, only raises the minimum
// confidence bar.
func (d *DrawdownMonitor) IsSoftStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.softStopped
}

// SoftStopReason returns the machine-readable reason the soft stop
// engaged.
func (d *DrawdownMonitor) SoftStopReason() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.softStopReason
}

// UpdateEquity records a new equity mark-to-market, updates the peak, and
// re-evaluates halt/soft-stop state. It returns false when this mark is at
// or past the max-drawdown or daily-loss limit; the halt itself stays set
// until cleared, even if a later mark returns true.
func (d *DrawdownMonitor) UpdateEquity(equity decimal.Decimal) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.currentEquity = equity
	if equity.GreaterThan(d.peakEquity) {
		d.peakEquity = equity
	}

	if d.checkMaxDrawdownLocked() {
		return false
	}
	if d.checkDailyLossLocked() {
		return false
	}
	d.checkSoftDailyLossLocked()
	return true
}

func (d *DrawdownMonitor) checkMaxDrawdownLocked() bool {
	dd := d.currentDrawdownPctLocked()
	if dd.GreaterThanOrEqual(d.settings.MaxDrawdownPct) {
		d.halted = true
		d.haltReason = fmt.Sprintf("max_drawdown_breached: %s >= %s", dd.StringFixed(4), d.settings.MaxDrawdownPct.String())
		return true
	}
	return false
}

func (d *DrawdownMonitor) checkDailyLossLocked() bool {
	if !d.settings.EnableDailyLossLimit {
		return false
	}
	dailyLoss := d.dailyPnLPctLocked().Neg()
	if dailyLoss.GreaterThanOrEqual(d.settings.MaxDailyLossPct) {
		d.halted = true
		d.haltReason = fmt.Sprintf("daily_loss_breached: %s >= %s", dailyLoss.StringFixed(4), d.settings.MaxDailyLossPct.String())
		return true
	}
	return false
}

func (d *DrawdownMonitor) checkSoftDailyLossLocked() {
	if !d.settings.EnableDailyLossLimit {
		d.softStopped = false
		d.softStopReason = ""
		return
	}
	dailyLoss := d.dailyPnLPctLocked().Neg()
	threshold := d.settings.MaxDailyLossPct.Mul(d.settings.SoftStopThresholdPct)
	if threshold.GreaterThan(decimal.Zero) && dailyLoss.GreaterThanOrEqual(threshold) {
		d.softStopped = true
		d.softStopReason = fmt.Sprintf("soft_daily_loss: %s >= %s", dailyLoss.StringFixed(4), threshold.StringFixed(4))
		return
	}
	d.softStopped = false
	d.softStopReason = ""
}

// ResetDaily rebases the daily-start equity and clears a daily-loss halt
// (but not a max-drawdown halt, which only ResumeTrading clears).
func (d *DrawdownMonitor) ResetDaily() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dailyStartEquity = d.currentEquity
	if d.halted && strings.Contains(d.haltReason, "daily") {
		d.halted = false
		d.haltReason = ""
	}
	d.softStopped = false
	d.softStopReason = ""
}

// ResumeTrading manually clears any halt/soft-stop state, e.g. via the
// admin API.
func (d *DrawdownMonitor) ResumeTrading() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.halted = false
	d.haltReason = ""
	d.softStopped = false
	d.softStopReason = ""
}
