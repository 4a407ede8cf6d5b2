// Package binance adapts Binance USDⓈ-M futures to the exchange.RestAPI
// contract.
package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/exchange"
	"github.com/ashfall-systems/perpcore/internal/logging"
	"github.com/ashfall-systems/perpcore/internal/types"
)

var log = logging.For("exchange.binance")

// Client wraps a futures.Client and satisfies exchange.RestAPI.
type Client struct {
	raw *futures.Client
}

// New builds a Client against the live (or testnet) Binance USDⓈ-M API.
func New(apiKey, apiSecret string, testnet bool) *Client {
	if testnet {
		futures.UseTestnet = true
	}
	return &Client{raw: futures.NewClient(apiKey, apiSecret)}
}

func (c *Client) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	svc := c.raw.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(toBinanceSide(req.Side)).
		Type(toBinanceOrderType(req.OrderType)).
		Quantity(req.Quantity.String()).
		NewClientOrderID(req.ClientOrderID)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.OrderType == types.OrderTypeLimit && req.Price != nil {
		svc = svc.Price(req.Price.String()).TimeInForce(futures.TimeInForceTypeGTC)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return types.OrderResult{}, translateErr(err)
	}
	return toOrderResult(res), nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	orderID, perr := strconv.ParseInt(exchangeOrderID, 10, 64)
	if perr != nil {
		return exchange.New(exchange.ErrInvalidOrder, "invalid binance order id "+exchangeOrderID, perr)
	}
	_, err := c.raw.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err == nil {
		return nil
	}
	classified := translateErr(err)
	if classified.Type == exchange.ErrOrderNotFound {
		return nil
	}
	return classified
}

func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]types.OrderResult, error) {
	svc := c.raw.NewListOpenOrdersService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	orders, err := svc.Do(ctx)
	if err != nil {
		return nil, translateErr(err)
	}
	out := make([]types.OrderResult, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResultFromOpen(o))
	}
	return out, nil
}

func (c *Client) GetPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	svc := c.raw.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	risks, err := svc.Do(ctx)
	if err != nil {
		return nil, translateErr(err)
	}
	out := make([]types.Position, 0, len(risks))
	for _, r := range risks {
		pos, ok := toPosition(r)
		if ok {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (c *Client) GetBalance(ctx context.Context) (types.AccountBalance, error) {
	account, err := c.raw.NewGetAccountService().Do(ctx)
	if err != nil {
		return types.AccountBalance{}, translateErr(err)
	}
	equity, _ := decimal.NewFromString(account.TotalMarginBalance)
	wallet, _ := decimal.NewFromString(account.TotalWalletBalance)
	avail, _ := decimal.NewFromString(account.AvailableBalance)
	upnl, _ := decimal.NewFromString(account.TotalUnrealizedProfit)
	return types.AccountBalance{
		TotalEquity:           equity,
		TotalWalletBalance:    wallet,
		TotalAvailableBalance: avail,
		TotalUnrealizedPnL:    upnl,
	}, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error {
	lev := int(leverage.IntPart())
	_, err := c.raw.NewChangeLeverageService().Symbol(symbol).Leverage(lev).Do(ctx)
	return translateErr(err)
}

func (c *Client) SetTradingStop(ctx context.Context, symbol string, stopLoss, takeProfit *decimal.Decimal, positionIdx int) error {
	side := futures.SideTypeSell
	if positionIdx < 0 {
		side = futures.SideTypeBuy
	}
	if stopLoss != nil {
		_, err := c.raw.NewCreateOrderService().Symbol(symbol).
			Side(side).Type(futures.OrderTypeStopMarket).
			StopPrice(stopLoss.String()).ClosePosition(true).Do(ctx)
		if err != nil {
			return translateErr(err)
		}
	}
	if takeProfit != nil {
		_, err := c.raw.NewCreateOrderService().Symbol(symbol).
			Side(side).Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(takeProfit.String()).ClosePosition(true).Do(ctx)
		if err != nil {
			return translateErr(err)
		}
	}
	return nil
}

func (c *Client) GetInstrumentInfo(ctx context.Context, symbol string) (types.InstrumentInfo, error) {
	info, err := c.raw.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return types.InstrumentInfo{}, translateErr(err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		out := types.InstrumentInfo{Symbol: symbol}
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "LOT_SIZE":
				out.MinQty, _ = decimal.NewFromString(fmt.Sprintf("%v", f["minQty"]))
				out.MaxQty, _ = decimal.NewFromString(fmt.Sprintf("%v", f["maxQty"]))
				out.QtyStep, _ = decimal.NewFromString(fmt.Sprintf("%v", f["stepSize"]))
			case "PRICE_FILTER":
				out.TickSize, _ = decimal.NewFromString(fmt.Sprintf("%v", f["tickSize"]))
			}
		}
		return out, nil
	}
	return types.InstrumentInfo{}, exchange.New(exchange.ErrInvalidOrder, "unknown symbol "+symbol, nil)
}

func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	klines, err := c.raw.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, translateErr(err)
	}
	out := make([]types.Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := decimal.NewFromString(k.Open)
		high, _ := decimal.NewFromString(k.High)
		low, _ := decimal.NewFromString(k.Low)
		cls, _ := decimal.NewFromString(k.Close)
		vol, _ := decimal.NewFromString(k.Volume)
		out = append(out, types.Candle{
			Symbol: symbol, Timeframe: interval, OpenTime: k.OpenTime,
			Open: open, High: high, Low: low, Close: cls, Volume: vol,
			IsClosed: true,
		})
	}
	return out, nil
}

func (c *Client) GetFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	rates, err := c.raw.NewFundingRateService().Symbol(symbol).Limit(1).Do(ctx)
	if err != nil {
		return decimal.Zero, translateErr(err)
	}
	if len(rates) == 0 {
		return decimal.Zero, exchange.New(exchange.ErrUnknown, "no funding rate returned for "+symbol, nil)
	}
	rate, _ := decimal.NewFromString(rates[len(rates)-1].FundingRate)
	return rate, nil
}

func toBinanceSide(s types.OrderSide) futures.SideType {
	if s == types.SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func toBinanceOrderType(t types.OrderType) futures.OrderType {
	if t == types.OrderTypeLimit {
		return futures.OrderTypeLimit
	}
	return futures.OrderTypeMarket
}

func toOrderResult(o *futures.CreateOrderResponse) types.OrderResult {
	qty, _ := decimal.NewFromString(o.OrigQuantity)
	filled, _ := decimal.NewFromString(o.ExecutedQuantity)
	price, _ := decimal.NewFromString(o.Price)
	return types.OrderResult{
		OrderID:       fmt.Sprintf("%d", o.OrderID),
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Quantity:      qty,
		FilledQty:     filled,
		Price:         &price,
		Status:        toOrderStatus(string(o.Status)),
	}
}

func toOrderResultFromOpen(o *futures.Order) types.OrderResult {
	qty, _ := decimal.NewFromString(o.OrigQuantity)
	filled, _ := decimal.NewFromString(o.ExecutedQuantity)
	price, _ := decimal.NewFromString(o.Price)
	return types.OrderResult{
		OrderID:       fmt.Sprintf("%d", o.OrderID),
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Quantity:      qty,
		FilledQty:     filled,
		Price:         &price,
		Status:        toOrderStatus(string(o.Status)),
		UpdatedAtMs:   o.UpdateTime,
	}
}

func toOrderStatus(s string) types.OrderStatus {
	switch s {
	case "NEW":
		return types.OrderStatusNew
	case "PARTIALLY_FILLED":
		return types.OrderStatusPartiallyFilled
	case "FILLED":
		return types.OrderStatusFilled
	case "CANCELED", "EXPIRED":
		return types.OrderStatusCancelled
	case "REJECTED":
		return types.OrderStatusRejected
	default:
		return types.OrderStatusNew
	}
}

func toPosition(r *futures.PositionRisk) (types.Position, bool) {
	size, _ := decimal.NewFromString(r.PositionAmt)
	if size.IsZero() {
		return types.Position{}, false
	}
	entry, _ := decimal.NewFromString(r.EntryPrice)
	mark, _ := decimal.NewFromString(r.MarkPrice)
	upnl, _ := decimal.NewFromString(r.UnRealizedProfit)
	leverage, _ := decimal.NewFromString(r.Leverage)
	liq, _ := decimal.NewFromString(r.LiquidationPrice)
	side := types.PositionLong
	if size.IsNegative() {
		side = types.PositionShort
	}
	return types.Position{
		Symbol:           r.Symbol,
		Side:             side,
		Size:             size.Abs(),
		EntryPrice:       entry,
		MarkPrice:        mark,
		LiquidationPrice: &liq,
		Leverage:         leverage,
		UnrealizedPnL:    upnl,
	}, true
}

// translateErr classifies a go-binance error into the exchange taxonomy.
// Binance's REST errors arrive as *futures.APIError carrying a numeric
// code; the ranges below follow Binance's published error-code scheme.
func translateErr(err error) *exchange.Error {
	if err == nil {
		return nil
	}
	var apiErr *futures.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == -2019 || apiErr.Code == -2018:
			return exchange.New(exchange.ErrInsufficientFunds, apiErr.Message, err)
		case apiErr.Code == -2011 || apiErr.Code == -2013:
			return exchange.New(exchange.ErrOrderNotFound, apiErr.Message, err)
		case apiErr.Code == -1021 || apiErr.Code == -1022 || apiErr.Code == -2014 || apiErr.Code == -2015:
			return exchange.New(exchange.ErrAuthentication, apiErr.Message, err)
		case apiErr.Code == -1003:
			return exchange.New(exchange.ErrRateLimit, apiErr.Message, err)
		case apiErr.Code <= -1100 && apiErr.Code >= -1199:
			return exchange.New(exchange.ErrInvalidOrder, apiErr.Message, err)
		default:
			return exchange.New(exchange.ErrUnknown, apiErr.Message, err)
		}
	}
	log.WithError(err).Warn("unclassified binance transport error")
	return exchange.New(exchange.ErrNetwork, "binance transport error", err)
}
