// Package ordermanager submits orders idempotently via a client-assigned
// UUID, normalizes requested quantity against venue instrument rules
// before submission, and tracks each order's local shadow state until it
// reaches a terminal status.
package ordermanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/clock"
	"github.com/ashfall-systems/perpcore/internal/exchange"
	"github.com/ashfall-systems/perpcore/internal/logging"
	"github.com/ashfall-systems/perpcore/internal/types"
)

var log = logging.For("order_manager")

// Manager submits orders through a RestAPI client, normalizing quantity
// against cached instrument rules and tracking in-flight state locally.
type Manager struct {
	rest  exchange.RestAPI
	clock clock.Clock

	mu         sync.Mutex
	inFlight   map[string]*types.InFlightOrder
	instrument map[string]types.InstrumentInfo
}

// New builds a Manager over rest, using c for timestamping local state.
func New(rest exchange.RestAPI, c clock.Clock) *Manager {
	return &Manager{
		rest: rest, clock: c,
		inFlight:   make(map[string]*types.InFlightOrder),
		instrument: make(map[string]types.InstrumentInfo),
	}
}

// SubmitOrder assigns a client order id if req left one blank, normalizes
// quantity against the symbol's instrument rules, submits via the venue,
// and returns the tracked in-flight order.
func (m *Manager) SubmitOrder(ctx context.Context, req types.OrderRequest, strategyName string) (*types.InFlightOrder, error) {
	started := time.Now()
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	req.ClientOrderID = clientID

	if err := m.normalizeQuantity(ctx, &req); err != nil {
		log.WithField("symbol", req.Symbol).WithError(err).Warn("order rejected by quantity normalization")
		return nil, err
	}

	inFlight := &types.InFlightOrder{
		ClientOrderID: clientID, Symbol: req.Symbol, Side: req.Side,
		OrderType: req.OrderType, Quantity: req.Quantity, Price: req.Price,
		Status: types.InFlightPendingCreate, StrategyName: strategyName,
		CreatedAtMs: m.clock.NowMs(),
	}
	m.mu.Lock()
	m.inFlight[clientID] = inFlight
	m.mu.Unlock()

	result, err := m.rest.PlaceOrder(ctx, req)
	if err != nil {
		m.mu.Lock()
		inFlight.Status = types.InFlightDone
		m.mu.Unlock()
		log.WithFields(map[string]interface{}{"client_id": clientID, "symbol": req.Symbol}).WithError(err).Error("order submit failed")
		return inFlight, err
	}

	m.mu.Lock()
	inFlight.ExchangeOrderID = result.OrderID
	inFlight.FilledQty = result.FilledQty
	inFlight.AvgFillPrice = result.AvgFillPrice
	inFlight.Fee = result.Fee
	inFlight.Status = types.InFlightOpen
	inFlight.LastUpdateMs = m.clock.NowMs()
	m.mu.Unlock()

	log.WithFields(map[string]interface{}{
		"client_id": clientID, "exchange_id": result.OrderID, "symbol": req.Symbol,
		"side": req.Side, "qty": req.Quantity.String(),
		"ack_latency_ms": time.Since(started).Milliseconds(),
	}).Info("order submitted")
	return inFlight, nil
}

func (m *Manager) normalizeQuantity(ctx context.Context, req *types.OrderRequest) error {
	info, err := m.instrumentInfo(ctx, req.Symbol)
	if err != nil {
		return err
	}

	qty := req.Quantity
	original := qty
	if info.MaxQty.GreaterThan(decimal.Zero) && qty.GreaterThan(info.MaxQty) {
		qty = info.MaxQty
		log.WithFields(map[string]interface{}{
			"symbol": req.Symbol, "original": original.String(), "clamped": qty.String(),
		}).Warn("order quantity clamped to instrument max")
	}
	if info.QtyStep.GreaterThan(decimal.Zero) {
		steps := qty.Div(info.QtyStep).Truncate(0)
		qty = steps.Mul(info.QtyStep)
	}
	if info.MinQty.GreaterThan(decimal.Zero) && qty.LessThan(info.MinQty) {
		return exchange.New(exchange.ErrInvalidOrder, fmt.Sprintf("order_qty_below_min: %s < %s for %s", qty, info.MinQty, req.Symbol), nil)
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		return exchange.New(exchange.ErrInvalidOrder, fmt.Sprintf("order_qty_invalid: %s for %s", qty, req.Symbol), nil)
	}
	req.Quantity = qty
	return nil
}

func (m *Manager) instrumentInfo(ctx context.Context, symbol string) (types.InstrumentInfo, error) {
	m.mu.Lock()
	info, ok := m.instrument[symbol]
	m.mu.Unlock()
	if ok {
		return info, nil
	}
	info, err := m.rest.GetInstrumentInfo(ctx, symbol)
	if err != nil {
		return types.InstrumentInfo{}, err
	}
	m.mu.Lock()
	m.instrument[symbol] = info
	m.mu.Unlock()
	return info, nil
}

// CancelOrder cancels a tracked order by client id. A venue order-not-found
// response and an already-terminal local order are both treated as
// successful cancellation.
func (m *Manager) CancelOrder(ctx context.Context, clientOrderID string) error {
	m.mu.Lock()
	inFlight, ok := m.inFlight[clientOrderID]
	m.mu.Unlock()
	if !ok {
		log.WithField("client_id", clientOrderID).Warn("cancel requested for unknown order")
		return nil
	}

	m.mu.Lock()
	if inFlight.Status == types.InFlightDone {
		m.mu.Unlock()
		return nil
	}
	inFlight.Status = types.InFlightPendingCancel
	m.mu.Unlock()

	err := m.rest.CancelOrder(ctx, inFlight.Symbol, inFlight.ExchangeOrderID)
	if err != nil {
		if exErr, ok := exchange.AsExchangeError(err); ok && exErr.Type == exchange.ErrOrderNotFound {
			m.mu.Lock()
			inFlight.Status = types.InFlightDone
			m.mu.Unlock()
			return nil
		}
		m.mu.Lock()
		inFlight.Status = types.InFlightOpen
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	inFlight.Status = types.InFlightDone
	m.mu.Unlock()
	log.WithField("client_id", clientOrderID).Info("order cancelled")
	return nil
}

// CancelAll cancels every open order for symbol, looping the venue's open
// orders rather than relying on a bulk-cancel venue call (not every venue
// adapter exposes one).
func (m *Manager) CancelAll(ctx context.Context, symbol string) error {
	open, err := m.rest.GetOpenOrders(ctx, symbol)
	if err != nil {
		return err
	}
	for _, o := range open {
		if err := m.rest.CancelOrder(ctx, symbol, o.OrderID); err != nil {
			if exErr, ok := exchange.AsExchangeError(err); !ok || exErr.Type != exchange.ErrOrderNotFound {
				return err
			}
		}
	}

	m.mu.Lock()
	for _, o := range m.inFlight {
		if o.Symbol == symbol && o.Status != types.InFlightDone {
			o.Status = types.InFlightDone
		}
	}
	m.mu.Unlock()
	log.WithField("symbol", symbol).Info("all orders cancelled")
	return nil
}

// UpdateFromExchange merges a venue order report into the matching
// in-flight order's local shadow state.
func (m *Manager) UpdateFromExchange(result types.OrderResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.inFlight {
		if o.ExchangeOrderID != result.OrderID {
			continue
		}
		o.FilledQty = result.FilledQty
		o.AvgFillPrice = result.AvgFillPrice
		o.Fee = result.Fee
		o.LastUpdateMs = result.UpdatedAtMs
		switch result.Status {
		case types.OrderStatusFilled, types.OrderStatusCancelled, types.OrderStatusRejected:
			o.Status = types.InFlightDone
		case types.OrderStatusPartiallyFilled:
			o.Status = types.InFlightPartial
		}
		return
	}
}

// GetOpenOrders returns copies of every locally-tracked order not yet
// terminal, optionally filtered to symbol.
func (m *Manager) GetOpenOrders(symbol string) []*types.InFlightOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []*types.InFlightOrder
	for _, o := range m.inFlight {
		if o.Status == types.InFlightDone {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		c := *o
		open = append(open, &c)
	}
	return open
}

// GetOrder returns a copy of the tracked order for clientOrderID, or nil.
func (m *Manager) GetOrder(clientOrderID string) *types.InFlightOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.inFlight[clientOrderID]
	if !ok {
		return nil
	}
	c := *o
	return &c
}

// CleanupDone prunes terminal orders beyond keepLast, returning how many
// were removed. Which done orders survive is arbitrary: Go maps have no
// stable order, so this is a size bound, not an LRU.
func (m *Manager) CleanupDone(keepLast int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var done []string
	for cid, o := range m.inFlight {
		if o.Status == types.InFlightDone {
			done = append(done, cid)
		}
	}
	if len(done) <= keepLast {
		return 0
	}
	toRemove := done[:len(done)-keepLast]
	for _, cid := range toRemove {
		delete(m.inFlight, cid)
	}
	return len(toRemove)
}

// InFlightCount returns the number of non-terminal tracked orders.
func (m *Manager) InFlightCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.inFlight {
		if o.Status != types.InFlightDone {
			n++
		}
	}
	return n
}
