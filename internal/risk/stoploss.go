package risk

import (
	"sync"

	"github.com/shopspring/decimal"
)

// StopLossType selects how a StopLossTracker's stop price evolves as the
// position is marked.
type StopLossType string

const (
	StopLossFixed    StopLossType = "fixed"
	StopLossTrailing StopLossType = "trailing"
	StopLossATRBased StopLossType = "atr_based"
	StopLossTimeBased StopLossType = "time_based"
)

// StopLossTracker follows one open position's stop price, ratcheting it in
// the position's favor when StopLossTrailing is in effect.
type StopLossTracker struct {
	entryPrice      decimal.Decimal
	stopPrice       decimal.Decimal
	isLong          bool
	slType          StopLossType
	trailingDistance decimal.Decimal
	bestPrice       decimal.Decimal
	barsHeld        int
}

// NewStopLossTracker builds a tracker for one position.
func NewStopLossTracker(entryPrice, stopPrice decimal.Decimal, isLong bool, slType StopLossType, trailingDistance decimal.Decimal) *StopLossTracker {
	return &StopLossTracker{
		entryPrice: entryPrice, stopPrice: stopPrice, isLong: isLong,
		slType: slType, trailingDistance: trailingDistance, bestPrice: entryPrice,
	}
}

func (t *StopLossTracker) StopPrice() decimal.Decimal { return t.stopPrice }
func (t *StopLossTracker) EntryPrice() decimal.Decimal { return t.entryPrice }
func (t *StopLossTracker) IsLong() bool                { return t.isLong }
func (t *StopLossTracker) BarsHeld() int               { return t.barsHeld }

// Update advances the bar counter and, for a trailing stop, ratchets the
// stop price toward the best price seen so far.
func (t *StopLossTracker) Update(currentPrice decimal.Decimal) {
	t.barsHeld++
	if t.slType == StopLossTrailing {
		t.updateTrailing(currentPrice)
	}
}

func (t *StopLossTracker) updateTrailing(currentPrice decimal.Decimal) {
	if t.isLong {
		if currentPrice.GreaterThan(t.bestPrice) {
			t.bestPrice = currentPrice
			t.stopPrice = currentPrice.Sub(t.trailingDistance)
		}
		return
	}
	if currentPrice.LessThan(t.bestPrice) {
		t.bestPrice = currentPrice
		t.stopPrice = currentPrice.Add(t.trailingDistance)
	}
}

// IsTriggered reports whether currentPrice has breached the stop.
func (t *StopLossTracker) IsTriggered(currentPrice decimal.Decimal) bool {
	if t.isLong {
		return currentPrice.LessThanOrEqual(t.stopPrice)
	}
	return currentPrice.GreaterThanOrEqual(t.stopPrice)
}

// RiskRewardRatio returns |takeProfit - entry| / |entry - stop|, or zero if
// the stop sits exactly at entry.
func (t *StopLossTracker) RiskRewardRatio(takeProfit decimal.Decimal) decimal.Decimal {
	risk := t.entryPrice.Sub(t.stopPrice).Abs()
	if risk.IsZero() {
		return decimal.Zero
	}
	reward := takeProfit.Sub(t.entryPrice).Abs()
	return reward.Div(risk)
}

// StopLossManager owns a per-order-id map of active trackers, checked each
// mark against fresh symbol prices.
type StopLossManager struct {
	mu       sync.Mutex
	trackers map[string]*StopLossTracker
}

// NewStopLossManager builds an empty StopLossManager.
func NewStopLossManager() *StopLossManager {
	return &StopLossManager{trackers: make(map[string]*StopLossTracker)}
}

// AddStop registers a new tracker for orderID.
func (m *StopLossManager) AddStop(orderID string, entryPrice, stopPrice decimal.Decimal, isLong bool, slType StopLossType, trailingDistance decimal.Decimal) *StopLossTracker {
	tracker := NewStopLossTracker(entryPrice, stopPrice, isLong, slType, trailingDistance)
	m.mu.Lock()
	m.trackers[orderID] = tracker
	m.mu.Unlock()
	return tracker
}

// RemoveStop drops orderID's tracker, a no-op if absent.
func (m *StopLossManager) RemoveStop(orderID string) {
	m.mu.Lock()
	delete(m.trackers, orderID)
	m.mu.Unlock()
}

// GetStop returns orderID's tracker, or nil if none is registered.
func (m *StopLossManager) GetStop(orderID string) *StopLossTracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trackers[orderID]
}

// UpdateAll marks every tracker against symbolPrices (keyed by order id,
// matching the original's convention of a price-by-order-id map) and
// returns the order ids whose stop has triggered.
func (m *StopLossManager) UpdateAll(symbolPrices map[string]decimal.Decimal) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var triggered []string
	for orderID, tracker := range m.trackers {
		price, ok := symbolPrices[orderID]
		if !ok {
			continue
		}
		tracker.Update(price)
		if tracker.IsTriggered(price) {
			triggered = append(triggered, orderID)
		}
	}
	return triggered
}

// RemoveTriggered drops every tracker in triggeredIDs.
func (m *StopLossManager) RemoveTriggered(triggeredIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range triggeredIDs {
		delete(m.trackers, id)
	}
}

// ActiveCount returns the number of trackers currently registered.
func (m *StopLossManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trackers)
}

// CreateATRStop derives a fixed stop at entryPrice -/+ atrValue*multiplier
// (direction per isLong) and registers it.
func (m *StopLossManager) CreateATRStop(orderID string, entryPrice, atrValue, multiplier decimal.Decimal, isLong bool) *StopLossTracker {
	distance := atrValue.Mul(multiplier)
	stopPrice := entryPrice.Add(distance)
	if isLong {
		stopPrice = entryPrice.Sub(distance)
	}
	return m.AddStop(orderID, entryPrice, stopPrice, isLong, StopLossFixed, decimal.Zero)
}

// CreateTrailingStop derives a trailing stop offset by trailingDistance and
// registers it.
func (m *StopLossManager) CreateTrailingStop(orderID string, entryPrice, trailingDistance decimal.Decimal, isLong bool) *StopLossTracker {
	stopPrice := entryPrice.Add(trailingDistance)
	if isLong {
		stopPrice = entryPrice.Sub(trailingDistance)
	}
	return m.AddStop(orderID, entryPrice, stopPrice, isLong, StopLossTrailing, trailingDistance)
}
