package positionmanager

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/types"
)

type fakeRest struct {
	positions    []types.Position
	leverageCalls map[string]decimal.Decimal
}

func (f *fakeRest) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	return types.OrderResult{}, nil
}
func (f *fakeRest) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error { return nil }
func (f *fakeRest) GetOpenOrders(ctx context.Context, symbol string) ([]types.OrderResult, error) {
	return nil, nil
}
func (f *fakeRest) GetPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	return f.positions, nil
}
func (f *fakeRest) GetBalance(ctx context.Context) (types.AccountBalance, error) {
	return types.AccountBalance{}, nil
}
func (f *fakeRest) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error {
	if f.leverageCalls == nil {
		f.leverageCalls = make(map[string]decimal.Decimal)
	}
	f.leverageCalls[symbol] = leverage
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
	return decimal.Zero, nil
}

func TestSyncPositions_DropsZeroSizePositions(t *testing.T) {
	fake := &fakeRest{positions: []types.Position{
		{Symbol: "BTCUSDT", Side: types.PositionLong, Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(50000)},
		{Symbol: "ETHUSDT", Side: types.PositionLong, Size: decimal.Zero, EntryPrice: decimal.NewFromInt(3000)},
	}}
	m := New(fake)
	_, err := m.SyncPositions(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.OpenPositionCount() != 1 {
		t.Fatalf("expected 1 open position, got %d", m.OpenPositionCount())
	}
	if m.HasPosition("ETHUSDT") {
		t.Fatal("expected zero-size ETHUSDT position dropped")
	}
}

func TestSyncPositions_FullReplaceDropsStalePositions(t *testing.T) {
	fake := &fakeRest{positions: []types.Position{
		{Symbol: "BTCUSDT", Side: types.PositionLong, Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(50000)},
	}}
	m := New(fake)
	_, _ = m.SyncPositions(context.Background(), "")

	fake.positions = []types.Position{
		{Symbol: "ETHUSDT", Side: types.PositionShort, Size: decimal.NewFromInt(2), EntryPrice: decimal.NewFromInt(3000)},
	}
	_, _ = m.SyncPositions(context.Background(), "")

	if m.HasPosition("BTCUSDT") {
		t.Fatal("expected a full resync to drop a position the venue no longer reports")
	}
	if !m.HasPosition("ETHUSDT") {
		t.Fatal("expected the newly reported ETHUSDT position present")
	}
}

func TestUpdatePosition_PartialUpdateLeavesOthersUntouched(t *testing.T) {
	fake := &fakeRest{positions: []types.Position{
		{Symbol: "BTCUSDT", Side: types.PositionLong, Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(50000)},
		{Symbol: "ETHUSDT", Side: types.PositionShort, Size: decimal.NewFromInt(2), EntryPrice: decimal.NewFromInt(3000)},
	}}
	m := New(fake)
	_, _ = m.SyncPositions(context.Background(), "")

	m.UpdatePosition(types.Position{Symbol: "BTCUSDT", Side: types.PositionLong, Size: decimal.Zero, EntryPrice: decimal.NewFromInt(50000)})

	if m.HasPosition("BTCUSDT") {
		t.Fatal("expected zero-size update to remove BTCUSDT")
	}
	if !m.HasPosition("ETHUSDT") {
		t.Fatal("expected ETHUSDT untouched by BTCUSDT's partial update")
	}
}

func TestTotalUnrealizedPnL_SumsAcrossPositions(t *testing.T) {
	fake := &fakeRest{positions: []types.Position{
		{Symbol: "BTCUSDT", Side: types.PositionLong, Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(50000), UnrealizedPnL: decimal.NewFromInt(100)},
		{Symbol: "ETHUSDT", Side: types.PositionShort, Size: decimal.NewFromInt(2), EntryPrice: decimal.NewFromInt(3000), UnrealizedPnL: decimal.NewFromInt(-40)},
	}}
	m := New(fake)
	_, _ = m.SyncPositions(context.Background(), "")

	got := m.TotalUnrealizedPnL()
	if !got.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected total unrealized PnL 60, got %s", got)
	}
}

func TestGetLongAndShortPositions_FilterBySide(t *testing.T) {
	fake := &fakeRest{positions: []types.Position{
		{Symbol: "BTCUSDT", Side: types.PositionLong, Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(50000)},
		{Symbol: "ETHUSDT", Side: types.PositionShort, Size: decimal.NewFromInt(2), EntryPrice: decimal.NewFromInt(3000)},
	}}
	m := New(fake)
	_, _ = m.SyncPositions(context.Background(), "")

	if len(m.GetLongPositions()) != 1 || m.GetLongPositions()[0].Symbol != "BTCUSDT" {
		t.Fatal("expected exactly the BTCUSDT long position")
	}
	if len(m.GetShortPositions()) != 1 || m.GetShortPositions()[0].Symbol != "ETHUSDT" {
		t.Fatal("expected exactly the ETHUSDT short position")
	}
}

func TestSetLeverage_MirrorsOntoCachedPosition(t *testing.T) {
	fake := &fakeRest{positions: []types.Position{
		{Symbol: "BTCUSDT", Side: types.PositionLong, Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(50000), Leverage: decimal.NewFromInt(1)},
	}}
	m := New(fake)
	_, _ = m.SyncPositions(context.Background(), "")

	if err := m.SetLeverage(context.Background(), "BTCUSDT", decimal.NewFromInt(5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ := m.GetPosition("BTCUSDT")
	if !p.Leverage.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected cached leverage updated to 5, got %s", p.Leverage)
	}
	if !fake.leverageCalls["BTCUSDT"].Equal(decimal.NewFromInt(5)) {
		t.Fatal("expected venue SetLeverage called with 5")
	}
}
