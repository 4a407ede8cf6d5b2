package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/types"
)

// RestAPI is the inbound venue contract every concrete exchange adapter
// (binance, bybit, hyperliquid) implements. The core never imports a
// vendor SDK directly outside of these adapters. Concrete adapters wrap a
// vendor SDK client and translate vendor errors into the ErrorType
// taxonomy.
type RestAPI interface {
	// PlaceOrder submits req and returns the venue's ack. Implementations
	// must treat req.ClientOrderID as the idempotency key: resubmitting an
	// identical client order id must not create a second order.
	PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)

	// CancelOrder cancels a live order. Implementations must translate a
	// venue "order not found" response into a nil error: the order manager
	// treats a cancel of an already-closed order as success.
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error

	// GetOpenOrders returns the venue's live open-order list for symbol, or
	// every symbol when symbol is empty.
	GetOpenOrders(ctx context.Context, symbol string) ([]types.OrderResult, error)

	// GetPositions returns the venue's current confirmed positions for
	// symbol, or every symbol when symbol is empty.
	GetPositions(ctx context.Context, symbol string) ([]types.Position, error)

	// GetBalance returns the account-level equity snapshot.
	GetBalance(ctx context.Context) (types.AccountBalance, error)

	// SetLeverage sets the venue leverage for symbol.
	SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error

	// SetTradingStop sets or updates the venue-side stop-loss/take-profit
	// trigger attached to an open position.
	SetTradingStop(ctx context.Context, symbol string, stopLoss, takeProfit *decimal.Decimal, positionIdx int) error

	// GetInstrumentInfo returns cached trading-rule metadata for symbol.
	GetInstrumentInfo(ctx context.Context, symbol string) (types.InstrumentInfo, error)

	// GetKlines returns the most recent candles for symbol/interval, oldest
	// first, capped at limit.
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error)

	// GetFundingRate returns the current funding rate for symbol as a
	// decimal fraction (e.g. 0.0001 for 1bp).
	GetFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error)
}
