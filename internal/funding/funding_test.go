package funding

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/strategy"
	"github.com/ashfall-systems/perpcore/internal/types"
)

type fakeRest struct {
	rates map[string]decimal.Decimal
	errs  map[string]error
}

func (f *fakeRest) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	return types.OrderResult{}, nil
}
func (f *fakeRest) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error { return nil }
func (f *fakeRest) GetOpenOrders(ctx context.Context, symbol string) ([]types.OrderResult, error) {
	return nil, nil
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
	return types.InstrumentInfo{}, nil
}
func (f *fakeRest) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	return nil, nil
}
func (f *fakeRest) GetFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err, ok := f.errs[symbol]; ok && err != nil {
		return decimal.Zero, err
	}
	return f.rates[symbol], nil
}

func TestFeeder_AppendsSampleOnSuccess(t *testing.T) {
	rest := &fakeRest{rates: map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromFloat(0.0001)}}
	f := NewFeeder(rest, nil, "")
	f.Refresh(context.Background(), "BTCUSDT")

	hist := f.History("BTCUSDT")
	if len(hist) != 1 || hist[0] != 0.0001 {
		t.Fatalf("expected one sample of 0.0001, got %v", hist)
	}
}

func TestFeeder_HistoryBoundedAt240Samples(t *testing.T) {
	rest := &fakeRest{rates: map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromFloat(0.0001)}}
	f := NewFeeder(rest, nil, "")
	for i := 0; i < 300; i++ {
		f.Refresh(context.Background(), "BTCUSDT")
	}
	if got := len(f.History("BTCUSDT")); got != historySize {
		t.Fatalf("expected history capped at %d, got %d", historySize, got)
	}
}

func TestFeeder_FailureResetsOnSuccess(t *testing.T) {
	rest := &fakeRest{errs: map[string]error{"BTCUSDT": errors.New("timeout")}}
	f := NewFeeder(rest, nil, "")
	f.Refresh(context.Background(), "BTCUSDT")
	f.Refresh(context.Background(), "BTCUSDT")
	if f.FailureCount("BTCUSDT") != 2 {
		t.Fatalf("expected 2 consecutive failures, got %d", f.FailureCount("BTCUSDT"))
	}

	rest.errs["BTCUSDT"] = nil
	rest.rates = map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromFloat(0.0002)}
	f.Refresh(context.Background(), "BTCUSDT")
	if f.FailureCount("BTCUSDT") != 0 {
		t.Fatalf("expected failure streak reset after success, got %d", f.FailureCount("BTCUSDT"))
	}
}

func TestFeeder_HistoryIsolatedPerSymbol(t *testing.T) {
	rest := &fakeRest{rates: map[string]decimal.Decimal{
		"BTCUSDT": decimal.NewFromFloat(0.0001),
		"ETHUSDT": decimal.NewFromFloat(-0.0002),
	}}
	f := NewFeeder(rest, nil, "")
	f.Refresh(context.Background(), "BTCUSDT")
	f.Refresh(context.Background(), "ETHUSDT")

	if len(f.History("BTCUSDT")) != 1 || len(f.History("ETHUSDT")) != 1 {
		t.Fatal("expected independent single-sample histories per symbol")
	}
	if f.History("BTCUSDT")[0] == f.History("ETHUSDT")[0] {
		t.Fatal("expected different funding rates per symbol")
	}
}

func TestFeeder_DisablesFundingArbAfterThreeFailuresAndReenablesOnSuccess(t *testing.T) {
	rest := &fakeRest{errs: map[string]error{"BTCUSDT": errors.New("timeout")}}
	arb := strategy.NewFundingRateArb([]string{"BTCUSDT"}, nil)
	sel := strategy.NewSelector([]strategy.Strategy{arb})
	f := NewFeeder(rest, SelectorStrategies{Selector: sel}, "funding_rate_arb")

	f.Refresh(context.Background(), "BTCUSDT")
	f.Refresh(context.Background(), "BTCUSDT")
	if !arb.Enabled() {
		t.Fatal("expected strategy still enabled after 2 failures")
	}

	f.Refresh(context.Background(), "BTCUSDT")
	if arb.Enabled() {
		t.Fatal("expected strategy disabled after 3 consecutive failures")
	}
	if !f.IsDegraded() {
		t.Fatal("expected feeder to report degraded")
	}

	rest.errs["BTCUSDT"] = nil
	rest.rates = map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromFloat(0.0001)}
	f.Refresh(context.Background(), "BTCUSDT")
	if !arb.Enabled() {
		t.Fatal("expected strategy re-enabled after first success")
	}
	if f.IsDegraded() {
		t.Fatal("expected feeder no longer degraded")
	}
}
