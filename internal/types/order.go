package types

import "github.com/shopspring/decimal"

// OrderSide is buy or sell.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType is the venue order type. The core only ever submits market
// orders; limit is carried for completeness of the venue contract.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the venue-reported lifecycle status of a submitted order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// OrderRequest is the intent submitted to the venue. ClientOrderID is the
// sole idempotency key across retries; the order manager assigns one if
// the caller left it blank.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	OrderType     OrderType
	Quantity      decimal.Decimal
	Price         *decimal.Decimal
	StopLoss      *decimal.Decimal
	TakeProfit    *decimal.Decimal
	ReduceOnly    bool
	PositionIdx   int
	ClientOrderID string
}

// OrderResult is the venue's ack/fill report for an order.
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	OrderType     OrderType
	Quantity      decimal.Decimal
	Price         *decimal.Decimal
	AvgFillPrice  *decimal.Decimal
	FilledQty     decimal.Decimal
	Status        OrderStatus
	Fee           decimal.Decimal
	CreatedAtMs   int64
	UpdatedAtMs   int64
}

// InFlightOrderStatus is the local shadow state of a submitted order.
type InFlightOrderStatus string

const (
	InFlightPendingCreate InFlightOrderStatus = "pending_create"
	InFlightOpen          InFlightOrderStatus = "open"
	InFlightPartial       InFlightOrderStatus = "partially_filled"
	InFlightPendingCancel InFlightOrderStatus = "pending_cancel"
	InFlightDone          InFlightOrderStatus = "done"
)

// InFlightOrder is the order manager's local shadow of a live order.
type InFlightOrder struct {
	ClientOrderID   string
	ExchangeOrderID string
	Symbol          string
	Side            OrderSide
	OrderType       OrderType
	Quantity        decimal.Decimal
	Price           *decimal.Decimal
	FilledQty       decimal.Decimal
	AvgFillPrice    *decimal.Decimal
	Fee             decimal.Decimal
	Status          InFlightOrderStatus
	StrategyName    string
	CreatedAtMs     int64
	LastUpdateMs    int64
}

// InstrumentInfo is cached per-symbol trading-rule metadata used to clamp
// and truncate orders before submission.
type InstrumentInfo struct {
	Symbol      string
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	QtyStep     decimal.Decimal
	TickSize    decimal.Decimal
	MaxLeverage decimal.Decimal
}
