// Package risk implements the fixed-order gate pipeline that turns a
// strategy signal into an approved (sized, stopped) order or a rejection
// with a machine-readable reason, plus the supporting drawdown, circuit
// breaker, position sizing, and exposure sub-systems.
package risk

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/clock"
	"github.com/ashfall-systems/perpcore/internal/config"
	"github.com/ashfall-systems/perpcore/internal/logging"
	"github.com/ashfall-systems/perpcore/internal/types"
)

var log = logging.For("risk_manager")

// State is the risk manager's overall trading posture, surfaced to the
// admin API's /risk endpoint.
type State string

const (
	StateNormal   State = "NORMAL"
	StateSoftStop State = "SOFT_STOP"
	StateHardStop State = "HARD_STOP"
)

// Manager evaluates signals through the fixed gate pipeline described in
// spec.md §4.4, tracks symbol cooldowns and entry-side streaks, and owns
// the drawdown/circuit-breaker/exposure/sizing sub-systems.
type Manager struct {
	settings        config.RiskSettings
	clock           clock.Clock
	sizer           *PositionSizer
	drawdown        *DrawdownMonitor
	circuitBreaker  *CircuitBreaker
	exposure        *ExposureManager
	stopLoss        *StopLossManager

	mu               sync.Mutex
	symbolCooldowns  map[string]int64
	entrySideHistory []string
}

const entrySideHistoryCap = 50

// NewManager builds a Manager over settings, using c for every
// time-dependent gate so tests can drive cooldowns deterministically.
func NewManager(settings config.RiskSettings, c clock.Clock) *Manager {
	return &Manager{
		settings: settings, clock: c,
		sizer: NewPositionSizer(settings), drawdown: NewDrawdownMonitor(settings),
		circuitBreaker: NewCircuitBreaker(settings, c), exposure: NewExposureManager(settings),
		stopLoss:        NewStopLossManager(),
		symbolCooldowns: make(map[string]int64),
	}
}

// StopLossManager exposes the manager's stop-loss tracker registry. No
// other package calls it.
func (m *Manager) StopLossManager() *StopLossManager { return m.stopLoss }

// Initialize seeds the drawdown monitor's equity baseline.
func (m *Manager) Initialize(equity decimal.Decimal) { m.drawdown.Initialize(equity) }

// UpdateEquity feeds a fresh equity mark into the drawdown monitor.
func (m *Manager) UpdateEquity(equity decimal.Decimal) bool { return m.drawdown.UpdateEquity(equity) }

// ResetDaily rebases the drawdown monitor's daily-loss baseline.
func (m *Manager) ResetDaily() { m.drawdown.ResetDaily() }

// PeakEquity returns the highest equity observed since Initialize/reset, for
// equity-snapshot journaling.
func (m *Manager) PeakEquity() decimal.Decimal { return m.drawdown.PeakEquity() }

// DrawdownPct returns the current drawdown from peak equity as a fraction.
func (m *Manager) DrawdownPct() decimal.Decimal { return m.drawdown.CurrentDrawdownPct() }

// IsTradingAllowed is the coarse hard-stop/circuit-breaker gate: false while
// the drawdown halt or the circuit breaker is active. Evaluate applies the
// same two checks itself; no other package calls it.
func (m *Manager) IsTradingAllowed() bool {
	if m.drawdown.IsHalted() {
		return false
	}
	return m.circuitBreaker.IsTradingAllowed()
}

// RiskState reports the manager's current posture for the admin API.
func (m *Manager) RiskState() State {
	if m.drawdown.IsHalted() {
		return StateHardStop
	}
	if m.drawdown.IsSoftStopped() {
		return StateSoftStop
	}
	return StateNormal
}

// BlockReason returns the active halt/soft-stop reason, or "".
func (m *Manager) BlockReason() string {
	if m.drawdown.IsHalted() {
		return m.drawdown.HaltReason()
	}
	if m.drawdown.IsSoftStopped() {
		return m.drawdown.SoftStopReason()
	}
	return ""
}

// ResumeTrading clears the drawdown monitor's halt/soft-stop state.
func (m *Manager) ResumeTrading() { m.drawdown.ResumeTrading() }

// Evaluate runs signal through the fixed-order gate pipeline and returns
// an approved (sized, stopped) decision or a rejection carrying the first
// gate's machine-readable reason. A panic inside the pipeline is recovered
// and reported as a rejection with reason "internal_error".
func (m *Manager) Evaluate(signal types.Signal, equity decimal.Decimal, positions []types.Position, method SizingMethod, params SizingParams) (decision types.RiskDecision) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("symbol", signal.Symbol).WithField("panic", r).Error("risk evaluation failed")
			decision = types.Rejected("internal_error")
		}
	}()
	if signal.Direction.IsClose() {
		return m.evaluateClose(signal, positions)
	}

	if signal.Direction == types.DirectionNeutral {
		return types.Rejected("neutral_signal")
	}

	if m.drawdown.IsHalted() {
		log.WithField("symbol", signal.Symbol).Warn("signal rejected: drawdown halt active")
		return types.Rejected(fmt.Sprintf("drawdown_halt: %s", m.drawdown.HaltReason()))
	}
	if !m.circuitBreaker.IsTradingAllowed() {
		log.WithField("symbol", signal.Symbol).Warn("signal rejected: circuit breaker tripped")
		return types.Rejected("circuit_breaker_active")
	}
	if m.isSymbolOnCooldown(signal.Symbol) {
		return types.Rejected("symbol_cooldown_active")
	}
	if signal.StopLoss == nil {
		return types.Rejected("no_stop_loss")
	}

	if spreadBps, ok := signal.MetaFloat("spread_bps"); ok {
		if decimal.NewFromFloat(spreadBps).GreaterThan(m.settings.MaxSpreadBps) {
			return types.Rejected(fmt.Sprintf("spread_too_wide: %.2fbps > %s", spreadBps, m.settings.MaxSpreadBps.String()))
		}
	}
	if liquidityScore, ok := signal.MetaFloat("liquidity_score"); ok {
		if liquidityScore < m.settings.MinLiquidityScore {
			return types.Rejected(fmt.Sprintf("low_liquidity: %.2f < %.2f", liquidityScore, m.settings.MinLiquidityScore))
		}
	}

	if signal.EntryPrice == nil || signal.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return types.Rejected("invalid_entry_price")
	}
	entryPrice := *signal.EntryPrice
	stopLoss := *signal.StopLoss
	takeProfit := decimal.Zero
	if signal.TakeProfit != nil {
		takeProfit = *signal.TakeProfit
	}

	isFundingArb := signal.StrategyName == "funding_rate_arb"

	if m.drawdown.IsSoftStopped() {
		if signal.Confidence < m.settings.SoftStopMinConfidence {
			return types.Rejected(fmt.Sprintf("soft_stop_low_confidence: %.2f < %.2f", signal.Confidence, m.settings.SoftStopMinConfidence))
		}
	}

	quantity := m.sizer.CalculateSize(method, equity, entryPrice, stopLoss, params)
	if quantity.LessThanOrEqual(decimal.Zero) {
		return types.Rejected("zero_quantity")
	}

	newSizeEstimate := equity.Mul(m.settings.MaxRiskPerTrade)

	exposureCheck := m.exposure.CheckNewPosition(positions, newSizeEstimate, decimal.NewFromInt(1), equity, isFundingArb)
	if !exposureCheck.Allowed {
		return types.Rejected(exposureCheck.Reason)
	}

	directionSide := types.PositionLong
	if signal.Direction == types.DirectionShort {
		directionSide = types.PositionShort
	}
	directionalCheck := m.exposure.CheckDirectionalExposure(positions, directionSide, newSizeEstimate, equity)
	if !directionalCheck.Allowed {
		return types.Rejected(directionalCheck.Reason)
	}

	sideBalanceCheck := m.checkSideBalancer(positions, directionSide, equity)
	if !sideBalanceCheck.Allowed {
		return types.Rejected(sideBalanceCheck.Reason)
	}

	if m.isPortfolioHeatExceeded(positions, equity) {
		return types.Rejected("portfolio_heat_limit")
	}

	return types.RiskDecision{Approved: true, Quantity: quantity, StopLoss: stopLoss, TakeProfit: takeProfit}
}

func (m *Manager) evaluateClose(signal types.Signal, positions []types.Position) types.RiskDecision {
	targetSide := types.PositionLong
	if signal.Direction == types.DirectionCloseShort {
		targetSide = types.PositionShort
	}
	for _, pos := range positions {
		if pos.Symbol == signal.Symbol && pos.Side == targetSide && pos.Size.GreaterThan(decimal.Zero) {
			return types.RiskDecision{Approved: true, Quantity: pos.Size, Reason: "exit_signal"}
		}
	}
	return types.Rejected("no_position_to_close")
}

// RecordTradeResult feeds a closed trade's win/loss outcome into the
// circuit breaker and, on a loss, arms the symbol's cooldown.
func (m *Manager) RecordTradeResult(isWin bool, symbol string) {
	if isWin {
		m.circuitBreaker.RecordWin()
		if symbol != "" {
			m.mu.Lock()
			delete(m.symbolCooldowns, symbol)
			m.mu.Unlock()
		}
		return
	}
	m.circuitBreaker.RecordLoss()
	if m.circuitBreaker.ConsecutiveLosses() >= m.settings.CircuitBreakerConsecutiveLosses {
		log.WithField("consecutive_losses", m.circuitBreaker.ConsecutiveLosses()).Warn("circuit breaker tripped")
	}
	if symbol != "" && m.settings.EnableSymbolCooldown {
		ttlMs := int64(m.settings.SymbolCooldownMinutes) * 60_000
		m.mu.Lock()
		m.symbolCooldowns[symbol] = m.clock.NowMs() + ttlMs
		m.mu.Unlock()
	}
}

// RecordEntryDirection appends a long/short entry to the side-streak
// history used by the side balancer and the MTF confirmer's ADX relax.
func (m *Manager) RecordEntryDirection(direction types.SignalDirection) {
	if direction != types.DirectionLong && direction != types.DirectionShort {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	side := "long"
	if direction == types.DirectionShort {
		side = "short"
	}
	m.entrySideHistory = append(m.entrySideHistory, side)
	if len(m.entrySideHistory) > entrySideHistoryCap {
		m.entrySideHistory = m.entrySideHistory[len(m.entrySideHistory)-entrySideHistoryCap:]
	}
}

// CurrentSideStreak returns the most recent entry side and how many
// consecutive entries have shared it.
func (m *Manager) CurrentSideStreak() (side string, streak int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entrySideHistory) == 0 {
		return "", 0
	}
	last := m.entrySideHistory[len(m.entrySideHistory)-1]
	for i := len(m.entrySideHistory) - 1; i >= 0; i-- {
		if m.entrySideHistory[i] != last {
			break
		}
		streak++
	}
	return last, streak
}

// HasLongStreak implements mtf.StreakProvider: reports whether the current
// entry-side streak has reached the side-balancer threshold on the long
// side, the trigger for relaxing a balancing short's ADX floor.
func (m *Manager) HasLongStreak() bool {
	side, streak := m.CurrentSideStreak()
	return side == "long" && streak >= m.settings.MaxSideStreak
}

func (m *Manager) checkSideBalancer(positions []types.Position, newDirection types.PositionSide, equity decimal.Decimal) ExposureCheck {
	if !m.settings.EnableSideBalancer {
		return allow()
	}
	if equity.LessThanOrEqual(decimal.Zero) {
		return deny("invalid_equity")
	}
	lastSide, streak := m.CurrentSideStreak()
	if streak < m.settings.MaxSideStreak || lastSide == "" {
		return allow()
	}
	long, short := m.exposure.DirectionalExposureUSD(positions)
	imbalance := long.Sub(short).Abs().Div(equity)
	if imbalance.LessThan(m.settings.SideImbalancePct) {
		return allow()
	}
	if lastSide == "long" && newDirection == types.PositionLong {
		return deny("side_balancer_long")
	}
	if lastSide == "short" && newDirection == types.PositionShort {
		return deny("side_balancer_short")
	}
	return allow()
}

func (m *Manager) isPortfolioHeatExceeded(positions []types.Position, equity decimal.Decimal) bool {
	if equity.LessThanOrEqual(decimal.Zero) {
		return false
	}
	return m.exposure.TotalPortfolioRiskPct(positions, equity).GreaterThanOrEqual(m.settings.PortfolioHeatLimitPct)
}

func (m *Manager) isSymbolOnCooldown(symbol string) bool {
	if !m.settings.EnableSymbolCooldown {
		return false
	}
	return m.symbolCooldownRemainingMs(symbol) > 0
}

// SymbolCooldownRemainingMs returns how many milliseconds remain on
// symbol's post-loss cooldown, or 0 if none is active.
func (m *Manager) SymbolCooldownRemainingMs(symbol string) int64 {
	return m.symbolCooldownRemainingMs(symbol)
}

func (m *Manager) symbolCooldownRemainingMs(symbol string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.symbolCooldowns[symbol]
	if !ok {
		return 0
	}
	remaining := expiry - m.clock.NowMs()
	if remaining <= 0 {
		delete(m.symbolCooldowns, symbol)
		return 0
	}
	return remaining
}
