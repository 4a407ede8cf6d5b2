// Package bybit adapts Bybit's v5 USDT perpetual API to the
// exchange.RestAPI contract.
package bybit

import (
	"context"
	"fmt"
	"strconv"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/exchange"
	"github.com/ashfall-systems/perpcore/internal/logging"
	"github.com/ashfall-systems/perpcore/internal/types"
)

var log = logging.For("exchange.bybit")

const category = "linear"

// Client wraps a bybit.Client and satisfies exchange.RestAPI.
type Client struct {
	raw *bybit.Client
}

// New builds a Client against Bybit's v5 unified-trading API.
func New(apiKey, apiSecret string, testnet bool) *Client {
	baseURL := bybit.MAINNET
	if testnet {
		baseURL = bybit.TESTNET
	}
	return &Client{raw: bybit.NewBybitHttpClient(apiKey, apiSecret, bybit.WithBaseURL(baseURL))}
}

func (c *Client) do(ctx context.Context, method, path string, params map[string]interface{}) (*bybit.ServerResponse, error) {
	res, err := c.raw.NewUtaBybitServiceWithParams(params).Execute(ctx, method, path)
	if err != nil {
		return nil, translateErr(err, 0, "")
	}
	if res.RetCode != 0 {
		return nil, translateErr(nil, res.RetCode, res.RetMsg)
	}
	return res, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	params := map[string]interface{}{
		"category":    category,
		"symbol":      req.Symbol,
		"side":        toBybitSide(req.Side),
		"orderType":   toBybitOrderType(req.OrderType),
		"qty":         req.Quantity.String(),
		"orderLinkId": req.ClientOrderID,
		"reduceOnly":  req.ReduceOnly,
		"positionIdx": req.PositionIdx,
	}
	if req.OrderType == types.OrderTypeLimit && req.Price != nil {
		params["price"] = req.Price.String()
		params["timeInForce"] = "GTC"
	}
	res, err := c.do(ctx, "POST", "/v5/order/create", params)
	if err != nil {
		return types.OrderResult{}, err
	}
	result, _ := res.Result.(map[string]interface{})
	return types.OrderResult{
		OrderID:       fmt.Sprintf("%v", result["orderId"]),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		OrderType:     req.OrderType,
		Quantity:      req.Quantity,
		Status:        types.OrderStatusNew,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	_, err := c.do(ctx, "POST", "/v5/order/cancel", map[string]interface{}{
		"category": category, "symbol": symbol, "orderId": exchangeOrderID,
	})
	if classified, ok := exchange.AsExchangeError(err); ok && classified.Type == exchange.ErrOrderNotFound {
		return nil
	}
	return err
}

func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]types.OrderResult, error) {
	params := map[string]interface{}{"category": category}
	if symbol != "" {
		params["symbol"] = symbol
	}
	res, err := c.do(ctx, "GET", "/v5/order/realtime", params)
	if err != nil {
		return nil, err
	}
	return parseOrderList(res)
}

func (c *Client) GetPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	params := map[string]interface{}{"category": category}
	if symbol != "" {
		params["symbol"] = symbol
	}
	res, err := c.do(ctx, "GET", "/v5/position/list", params)
	if err != nil {
		return nil, err
	}
	return parsePositionList(res)
}

func (c *Client) GetBalance(ctx context.Context) (types.AccountBalance, error) {
	res, err := c.do(ctx, "GET", "/v5/account/wallet-balance", map[string]interface{}{"accountType": "UNIFIED"})
	if err != nil {
		return types.AccountBalance{}, err
	}
	result, _ := res.Result.(map[string]interface{})
	list, _ := result["list"].([]interface{})
	if len(list) == 0 {
		return types.AccountBalance{}, nil
	}
	acct, _ := list[0].(map[string]interface{})
	return types.AccountBalance{
		TotalEquity:           decFromAny(acct["totalEquity"]),
		TotalWalletBalance:    decFromAny(acct["totalWalletBalance"]),
		TotalAvailableBalance: decFromAny(acct["totalAvailableBalance"]),
		TotalUnrealizedPnL:    decFromAny(acct["totalPerpUPL"]),
	}, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error {
	_, err := c.do(ctx, "POST", "/v5/position/set-leverage", map[string]interface{}{
		"category": category, "symbol": symbol,
		"buyLeverage": leverage.String(), "sellLeverage": leverage.String(),
	})
	return err
}

func (c *Client) SetTradingStop(ctx context.Context, symbol string, stopLoss, takeProfit *decimal.Decimal, positionIdx int) error {
	params := map[string]interface{}{"category": category, "symbol": symbol, "positionIdx": positionIdx}
	if stopLoss != nil {
		params["stopLoss"] = stopLoss.String()
	}
	if takeProfit != nil {
		params["takeProfit"] = takeProfit.String()
	}
	_, err := c.do(ctx, "POST", "/v5/position/trading-stop", params)
	return err
}

func (c *Client) GetInstrumentInfo(ctx context.Context, symbol string) (types.InstrumentInfo, error) {
	res, err := c.do(ctx, "GET", "/v5/market/instruments-info", map[string]interface{}{
		"category": category, "symbol": symbol,
	})
	if err != nil {
		return types.InstrumentInfo{}, err
	}
	result, _ := res.Result.(map[string]interface{})
	list, _ := result["list"].([]interface{})
	if len(list) == 0 {
		return types.InstrumentInfo{}, exchange.New(exchange.ErrInvalidOrder, "unknown symbol "+symbol, nil)
	}
	inst, _ := list[0].(map[string]interface{})
	lotFilter, _ := inst["lotSizeFilter"].(map[string]interface{})
	priceFilter, _ := inst["priceFilter"].(map[string]interface{})
	leverageFilter, _ := inst["leverageFilter"].(map[string]interface{})
	return types.InstrumentInfo{
		Symbol:      symbol,
		MinQty:      decFromAny(lotFilter["minOrderQty"]),
		MaxQty:      decFromAny(lotFilter["maxOrderQty"]),
		QtyStep:     decFromAny(lotFilter["qtyStep"]),
		TickSize:    decFromAny(priceFilter["tickSize"]),
		MaxLeverage: decFromAny(leverageFilter["maxLeverage"]),
	}, nil
}

func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	res, err := c.do(ctx, "GET", "/v5/market/kline", map[string]interface{}{
		"category": category, "symbol": symbol, "interval": interval, "limit": limit,
	})
	if err != nil {
		return nil, err
	}
	result, _ := res.Result.(map[string]interface{})
	rows, _ := result["list"].([]interface{})
	out := make([]types.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row, ok := rows[i].([]interface{})
		if !ok || len(row) < 6 {
			continue
		}
		openTime, _ := strconv.ParseInt(fmt.Sprintf("%v", row[0]), 10, 64)
		out = append(out, types.Candle{
			Symbol: symbol, Timeframe: interval, OpenTime: openTime,
			Open: decFromAny(row[1]), High: decFromAny(row[2]), Low: decFromAny(row[3]),
			Close: decFromAny(row[4]), Volume: decFromAny(row[5]), IsClosed: true,
		})
	}
	return out, nil
}

func (c *Client) GetFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	res, err := c.do(ctx, "GET", "/v5/market/tickers", map[string]interface{}{
		"category": category, "symbol": symbol,
	})
	if err != nil {
		return decimal.Zero, err
	}
	result, _ := res.Result.(map[string]interface{})
	list, _ := result["list"].([]interface{})
	if len(list) == 0 {
		return decimal.Zero, exchange.New(exchange.ErrUnknown, "no ticker returned for "+symbol, nil)
	}
	ticker, _ := list[0].(map[string]interface{})
	return decFromAny(ticker["fundingRate"]), nil
}

func toBybitSide(s types.OrderSide) string {
	if s == types.SideSell {
		return "Sell"
	}
	return "Buy"
}

func toBybitOrderType(t types.OrderType) string {
	if t == types.OrderTypeLimit {
		return "Limit"
	}
	return "Market"
}

func decFromAny(v interface{}) decimal.Decimal {
	d, err := decimal.NewFromString(fmt.Sprintf("%v", v))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseOrderList(res *bybit.ServerResponse) ([]types.OrderResult, error) {
	result, _ := res.Result.(map[string]interface{})
	rows, _ := result["list"].([]interface{})
	out := make([]types.OrderResult, 0, len(rows))
	for _, r := range rows {
		o, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, types.OrderResult{
			OrderID:       fmt.Sprintf("%v", o["orderId"]),
			ClientOrderID: fmt.Sprintf("%v", o["orderLinkId"]),
			Symbol:        fmt.Sprintf("%v", o["symbol"]),
			Quantity:      decFromAny(o["qty"]),
			FilledQty:     decFromAny(o["cumExecQty"]),
			Status:        toOrderStatus(fmt.Sprintf("%v", o["orderStatus"])),
		})
	}
	return out, nil
}

func parsePositionList(res *bybit.ServerResponse) ([]types.Position, error) {
	result, _ := res.Result.(map[string]interface{})
	rows, _ := result["list"].([]interface{})
	out := make([]types.Position, 0, len(rows))
	for _, r := range rows {
		p, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		size := decFromAny(p["size"])
		if size.IsZero() {
			continue
		}
		side := types.PositionLong
		if fmt.Sprintf("%v", p["side"]) == "Sell" {
			side = types.PositionShort
		}
		liq := decFromAny(p["liqPrice"])
		out = append(out, types.Position{
			Symbol:           fmt.Sprintf("%v", p["symbol"]),
			Side:             side,
			Size:             size,
			EntryPrice:       decFromAny(p["avgPrice"]),
			MarkPrice:        decFromAny(p["markPrice"]),
			LiquidationPrice: &liq,
			Leverage:         decFromAny(p["leverage"]),
			UnrealizedPnL:    decFromAny(p["unrealisedPnl"]),
			RealizedPnL:      decFromAny(p["cumRealisedPnl"]),
		})
	}
	return out, nil
}

func toOrderStatus(s string) types.OrderStatus {
	switch s {
	case "New", "Created":
		return types.OrderStatusNew
	case "PartiallyFilled":
		return types.OrderStatusPartiallyFilled
	case "Filled":
		return types.OrderStatusFilled
	case "Cancelled", "Deactivated":
		return types.OrderStatusCancelled
	case "Rejected":
		return types.OrderStatusRejected
	default:
		return types.OrderStatusNew
	}
}

// translateErr classifies a bybit v5 retCode (or a raw transport err) into
// the exchange taxonomy. Bybit's retCode scheme is documented per-endpoint
// but these ranges cover the common account/order/auth failures.
func translateErr(transportErr error, retCode int, retMsg string) *exchange.Error {
	if transportErr != nil {
		log.WithError(transportErr).Warn("unclassified bybit transport error")
		return exchange.New(exchange.ErrNetwork, "bybit transport error", transportErr)
	}
	switch retCode {
	case 110001, 110003:
		return exchange.New(exchange.ErrOrderNotFound, retMsg, nil)
	case 110007, 110012:
		return exchange.New(exchange.ErrInsufficientFunds, retMsg, nil)
	case 10003, 10004, 10005:
		return exchange.New(exchange.ErrAuthentication, retMsg, nil)
	case 10006:
		return exchange.New(exchange.ErrRateLimit, retMsg, nil)
	case 110017, 110043, 110045:
		return exchange.New(exchange.ErrInvalidOrder, retMsg, nil)
	default:
		return exchange.New(exchange.ErrUnknown, retMsg, nil)
	}
}
