package ordermanager

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/clock"
	"github.com/ashfall-systems/perpcore/internal/exchange"
	"github.com/ashfall-systems/perpcore/internal/types"
)

type fakeRest struct {
	instrument   types.InstrumentInfo
	placeResult  types.OrderResult
	placeErr     error
	cancelErr    error
	openOrders   []types.OrderResult
	lastPlaced   types.OrderRequest
	cancelCalled []string
}

func (f *fakeRest) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	f.lastPlaced = req
	if f.placeErr != nil {
		return types.OrderResult{}, f.placeErr
	}
	f.placeResult.ClientOrderID = req.ClientOrderID
	f.placeResult.Quantity = req.Quantity
	return f.placeResult, nil
}
func (f *fakeRest) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	f.cancelCalled = append(f.cancelCalled, exchangeOrderID)
	return f.cancelErr
}
func (f *fakeRest) GetOpenOrders(ctx context.Context, symbol string) ([]types.OrderResult, error) {
	return f.openOrders, nil
}
func (f *fakeRest) GetPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	return nil, nil
}
func (f *fakeRest) GetBalance(ctx context.Context) (types.AccountBalance, error) {
	return types.AccountBalance{}, nil
}
func (f *fakeRest) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error {
	return nil
}
func (f *fakeRest) SetTradingStop(ctx context.Context, symbol string, stopLoss, takeProfit *decimal.Decimal, positionIdx int) error {
	return nil
}
func (f *fakeRest) GetInstrumentInfo(ctx context.Context, symbol string) (types.InstrumentInfo, error) {
	return f.instrument, nil
}
func (f *fakeRest) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	return nil, nil
}
func (f *fakeRest) GetFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func newManagerWithFake() (*Manager, *fakeRest) {
	fake := &fakeRest{
		instrument: types.InstrumentInfo{
			Symbol: "BTCUSDT", MinQty: decimal.NewFromFloat(0.001),
			MaxQty: decimal.NewFromInt(100), QtyStep: decimal.NewFromFloat(0.001),
		},
		placeResult: types.OrderResult{OrderID: "ex-1", Status: types.OrderStatusNew},
	}
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(fake, c), fake
}

func TestSubmitOrder_AssignsClientIDWhenBlank(t *testing.T) {
	m, fake := newManagerWithFake()
	req := types.OrderRequest{Symbol: "BTCUSDT", Side: types.SideBuy, OrderType: types.OrderTypeMarket, Quantity: decimal.NewFromFloat(0.5)}

	inFlight, err := m.SubmitOrder(context.Background(), req, "ema_crossover")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inFlight.ClientOrderID == "" {
		t.Fatal("expected a generated client order id")
	}
	if fake.lastPlaced.ClientOrderID != inFlight.ClientOrderID {
		t.Fatal("expected the rest client to receive the same client order id")
	}
	if inFlight.Status != types.InFlightOpen {
		t.Fatalf("expected status open, got %s", inFlight.Status)
	}
}

func TestSubmitOrder_ClampsQuantityToMax(t *testing.T) {
	m, fake := newManagerWithFake()
	req := types.OrderRequest{Symbol: "BTCUSDT", Side: types.SideBuy, OrderType: types.OrderTypeMarket, Quantity: decimal.NewFromInt(500)}

	_, err := m.SubmitOrder(context.Background(), req, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fake.lastPlaced.Quantity.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected quantity clamped to 100, got %s", fake.lastPlaced.Quantity)
	}
}

func TestSubmitOrder_RejectsBelowMinQty(t *testing.T) {
	m, _ := newManagerWithFake()
	req := types.OrderRequest{Symbol: "BTCUSDT", Side: types.SideBuy, OrderType: types.OrderTypeMarket, Quantity: decimal.NewFromFloat(0.0001)}

	_, err := m.SubmitOrder(context.Background(), req, "")
	if err == nil {
		t.Fatal("expected rejection for quantity below min_qty")
	}
}

func TestCancelOrder_UnknownClientOrderIDIsNoop(t *testing.T) {
	m, _ := newManagerWithFake()
	if err := m.CancelOrder(context.Background(), "does-not-exist"); err != nil {
		t.Fatalf("expected no error for unknown order, got %v", err)
	}
}

func TestCancelOrder_OrderNotFoundTreatedAsSuccess(t *testing.T) {
	m, fake := newManagerWithFake()
	req := types.OrderRequest{Symbol: "BTCUSDT", Side: types.SideBuy, OrderType: types.OrderTypeMarket, Quantity: decimal.NewFromFloat(0.5)}
	inFlight, _ := m.SubmitOrder(context.Background(), req, "")

	fake.cancelErr = exchange.New(exchange.ErrOrderNotFound, "already closed", nil)
	if err := m.CancelOrder(context.Background(), inFlight.ClientOrderID); err != nil {
		t.Fatalf("expected order-not-found to be swallowed, got %v", err)
	}
	if m.GetOrder(inFlight.ClientOrderID).Status != types.InFlightDone {
		t.Fatal("expected order marked done after order-not-found cancel response")
	}
}

func TestGetOpenOrders_ExcludesDoneOrders(t *testing.T) {
	m, _ := newManagerWithFake()
	req := types.OrderRequest{Symbol: "BTCUSDT", Side: types.SideBuy, OrderType: types.OrderTypeMarket, Quantity: decimal.NewFromFloat(0.5)}
	inFlight, _ := m.SubmitOrder(context.Background(), req, "")

	if len(m.GetOpenOrders("BTCUSDT")) != 1 {
		t.Fatal("expected 1 open order before cancel")
	}
	_ = m.CancelOrder(context.Background(), inFlight.ClientOrderID)
	if len(m.GetOpenOrders("BTCUSDT")) != 0 {
		t.Fatal("expected 0 open orders after cancel")
	}
}
