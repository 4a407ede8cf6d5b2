// Package positionmanager caches the venue's confirmed position state,
// keeping only symbols with a positive size, and offers side-filtered
// views and aggregate PnL/notional rollups over the cache.
package positionmanager

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/exchange"
	"github.com/ashfall-systems/perpcore/internal/logging"
	"github.com/ashfall-systems/perpcore/internal/types"
)

var log = logging.For("position_manager")

// Manager caches positions fetched from a RestAPI client.
type Manager struct {
	rest exchange.RestAPI

	mu        sync.Mutex
	positions map[string]types.Position
}

// New builds a Manager over rest.
func New(rest exchange.RestAPI) *Manager {
	return &Manager{rest: rest, positions: make(map[string]types.Position)}
}

// SyncPositions does a full resync: it replaces the entire cache with the
// venue's current position list for symbols (or every symbol if symbols
// is empty), dropping anything not reported back.
func (m *Manager) SyncPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	positions, err := m.rest.GetPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.positions = make(map[string]types.Position)
	for _, p := range positions {
		if p.Size.GreaterThan(decimal.Zero) {
			m.positions[p.Symbol] = p
		}
	}
	count := len(m.positions)
	m.mu.Unlock()

	log.WithField("count", count).Info("positions synced")
	return positions, nil
}

// UpdatePosition merges a single position update into the cache without
// touching any other symbol: a zero-size update removes the symbol,
// anything else replaces it.
func (m *Manager) UpdatePosition(position types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if position.Size.GreaterThan(decimal.Zero) {
		m.positions[position.Symbol] = position
		return
	}
	delete(m.positions, position.Symbol)
}

// GetPosition returns the cached position for symbol, or the zero value
// and false if none is open.
func (m *Manager) GetPosition(symbol string) (types.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	return p, ok
}

// GetAllPositions returns every cached position.
func (m *Manager) GetAllPositions() []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// HasPosition reports whether symbol currently has an open position.
func (m *Manager) HasPosition(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.positions[symbol]
	return ok
}

// OpenPositionCount returns the number of cached open positions.
func (m *Manager) OpenPositionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// TotalUnrealizedPnL sums unrealized PnL across every cached position.
func (m *Manager) TotalUnrealizedPnL() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, p := range m.positions {
		total = total.Add(p.UnrealizedPnL)
	}
	return total
}

// TotalPositionValue sums |size * entry price| across every cached
// position.
func (m *Manager) TotalPositionValue() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, p := range m.positions {
		total = total.Add(p.NotionalValue())
	}
	return total
}

// SetLeverage sets the venue leverage for symbol and mirrors it onto the
// cached position if one is open.
func (m *Manager) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error {
	if err := m.rest.SetLeverage(ctx, symbol, leverage); err != nil {
		return err
	}
	m.mu.Lock()
	if p, ok := m.positions[symbol]; ok {
		p.Leverage = leverage
		m.positions[symbol] = p
	}
	m.mu.Unlock()
	log.WithField("symbol", symbol).WithField("leverage", leverage.String()).Info("leverage set")
	return nil
}

// GetLongPositions returns every cached long position.
func (m *Manager) GetLongPositions() []types.Position {
	return m.filterBySide(types.PositionLong)
}

// GetShortPositions returns every cached short position.
func (m *Manager) GetShortPositions() []types.Position {
	return m.filterBySide(types.PositionShort)
}

func (m *Manager) filterBySide(side types.PositionSide) []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Position
	for _, p := range m.positions {
		if p.Side == side {
			out = append(out, p)
		}
	}
	return out
}
