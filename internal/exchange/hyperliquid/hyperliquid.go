// Package hyperliquid adapts Hyperliquid's perpetuals API to the
// exchange.RestAPI contract.
package hyperliquid

import (
	"context"
	"fmt"
	"strings"

	hl "github.com/sonirico/go-hyperliquid"
	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/exchange"
	"github.com/ashfall-systems/perpcore/internal/logging"
	"github.com/ashfall-systems/perpcore/internal/types"
)

var log = logging.For("exchange.hyperliquid")

// Client wraps Hyperliquid's exchange (write) and info (read) clients and
// satisfies exchange.RestAPI.
type Client struct {
	exchange *hl.Exchange
	info     *hl.Info
	wallet   string
}

// New builds a Client signing orders with privateKey for walletAddr.
func New(privateKey, walletAddr string, testnet bool) (*Client, error) {
	baseURL := hl.MainnetAPIURL
	if testnet {
		baseURL = hl.TestnetAPIURL
	}
	ex, err := hl.NewExchange(privateKey, baseURL, walletAddr)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: init exchange client: %w", err)
	}
	return &Client{
		exchange: ex,
		info:     hl.NewInfo(baseURL),
		wallet:   walletAddr,
	}, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	isBuy := req.Side == types.SideBuy
	orderType := hl.OrderType{Limit: &hl.LimitOrderType{Tif: "Ioc"}}
	if req.OrderType == types.OrderTypeLimit {
		orderType = hl.OrderType{Limit: &hl.LimitOrderType{Tif: "Gtc"}}
	}
	price := "0"
	if req.Price != nil {
		price = req.Price.String()
	}
	res, err := c.exchange.Order(hl.OrderRequest{
		Coin:       req.Symbol,
		IsBuy:      isBuy,
		Size:       req.Quantity.InexactFloat64(),
		LimitPx:    price,
		OrderType:  orderType,
		ReduceOnly: req.ReduceOnly,
		Cloid:      req.ClientOrderID,
	}, ctx)
	if err != nil {
		return types.OrderResult{}, translateErr(err)
	}
	if res.Status != "ok" {
		return types.OrderResult{}, exchange.New(exchange.ErrInvalidOrder, res.Status, nil)
	}
	return types.OrderResult{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		OrderType:     req.OrderType,
		Quantity:      req.Quantity,
		Status:        types.OrderStatusNew,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	_, err := c.exchange.CancelByCloid(symbol, exchangeOrderID, ctx)
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
	orders, err := c.info.OpenOrders(c.wallet, ctx)
	if err != nil {
		return nil, translateErr(err)
	}
	out := make([]types.OrderResult, 0, len(orders))
	for _, o := range orders {
		if symbol != "" && o.Coin != symbol {
			continue
		}
		side := types.SideBuy
		if strings.EqualFold(o.Side, "A") || strings.EqualFold(o.Side, "sell") {
			side = types.SideSell
		}
		qty, _ := decimal.NewFromString(o.Sz)
		out = append(out, types.OrderResult{
			OrderID:       fmt.Sprintf("%d", o.Oid),
			ClientOrderID: o.Cloid,
			Symbol:        o.Coin,
			Side:          side,
			Quantity:      qty,
			Status:        types.OrderStatusNew,
		})
	}
	return out, nil
}

func (c *Client) GetPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	state, err := c.info.UserState(c.wallet, ctx)
	if err != nil {
		return nil, translateErr(err)
	}
	out := make([]types.Position, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		if symbol != "" && ap.Position.Coin != symbol {
			continue
		}
		size, _ := decimal.NewFromString(ap.Position.Szi)
		if size.IsZero() {
			continue
		}
		side := types.PositionLong
		if size.IsNegative() {
			side = types.PositionShort
		}
		entry, _ := decimal.NewFromString(ap.Position.EntryPx)
		upnl, _ := decimal.NewFromString(ap.Position.UnrealizedPnl)
		leverage, _ := decimal.NewFromString(fmt.Sprintf("%v", ap.Position.Leverage.Value))
		liq, _ := decimal.NewFromString(ap.Position.LiquidationPx)
		out = append(out, types.Position{
			Symbol:           ap.Position.Coin,
			Side:             side,
			Size:             size.Abs(),
			EntryPrice:       entry,
			LiquidationPrice: &liq,
			Leverage:         leverage,
			UnrealizedPnL:    upnl,
		})
	}
	return out, nil
}

func (c *Client) GetBalance(ctx context.Context) (types.AccountBalance, error) {
	state, err := c.info.UserState(c.wallet, ctx)
	if err != nil {
		return types.AccountBalance{}, translateErr(err)
	}
	equity, _ := decimal.NewFromString(state.MarginSummary.AccountValue)
	withdrawable, _ := decimal.NewFromString(state.Withdrawable)
	upnl := decimal.Zero
	for _, ap := range state.AssetPositions {
		p, _ := decimal.NewFromString(ap.Position.UnrealizedPnl)
		upnl = upnl.Add(p)
	}
	return types.AccountBalance{
		TotalEquity:           equity,
		TotalWalletBalance:    equity.Sub(upnl),
		TotalAvailableBalance: withdrawable,
		TotalUnrealizedPnL:    upnl,
	}, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error {
	_, err := c.exchange.UpdateLeverage(symbol, "cross", int(leverage.IntPart()), ctx)
	return translateErr(err)
}

func (c *Client) SetTradingStop(ctx context.Context, symbol string, stopLoss, takeProfit *decimal.Decimal, positionIdx int) error {
	if stopLoss != nil {
		if _, err := c.exchange.Order(hl.OrderRequest{
			Coin: symbol, IsBuy: positionIdx < 0,
			OrderType:  hl.OrderType{Trigger: &hl.TriggerOrderType{TriggerPx: stopLoss.String(), IsMarket: true, Tpsl: "sl"}},
			ReduceOnly: true,
		}, ctx); err != nil {
			return translateErr(err)
		}
	}
	if takeProfit != nil {
		if _, err := c.exchange.Order(hl.OrderRequest{
			Coin: symbol, IsBuy: positionIdx < 0,
			OrderType:  hl.OrderType{Trigger: &hl.TriggerOrderType{TriggerPx: takeProfit.String(), IsMarket: true, Tpsl: "tp"}},
			ReduceOnly: true,
		}, ctx); err != nil {
			return translateErr(err)
		}
	}
	return nil
}

func (c *Client) GetInstrumentInfo(ctx context.Context, symbol string) (types.InstrumentInfo, error) {
	meta, err := c.info.Meta(ctx)
	if err != nil {
		return types.InstrumentInfo{}, translateErr(err)
	}
	for _, a := range meta.Universe {
		if a.Name != symbol {
			continue
		}
		step := decimal.New(1, int32(-a.SzDecimals))
		return types.InstrumentInfo{
			Symbol:      symbol,
			MinQty:      step,
			MaxQty:      decimal.NewFromInt(1_000_000),
			QtyStep:     step,
			MaxLeverage: decimal.NewFromInt(int64(a.MaxLeverage)),
		}, nil
	}
	return types.InstrumentInfo{}, exchange.New(exchange.ErrInvalidOrder, "unknown symbol "+symbol, nil)
}

func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	candles, err := c.info.CandleSnapshot(symbol, interval, ctx)
	if err != nil {
		return nil, translateErr(err)
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]types.Candle, 0, len(candles))
	for _, k := range candles {
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
	ctxs, err := c.info.MetaAndAssetCtxs(ctx)
	if err != nil {
		return decimal.Zero, translateErr(err)
	}
	for i, a := range ctxs.Meta.Universe {
		if a.Name != symbol || i >= len(ctxs.AssetCtxs) {
			continue
		}
		rate, _ := decimal.NewFromString(ctxs.AssetCtxs[i].Funding)
		return rate, nil
	}
	return decimal.Zero, exchange.New(exchange.ErrUnknown, "no funding rate returned for "+symbol, nil)
}

// translateErr classifies a go-hyperliquid error. The SDK surfaces venue
// rejections as plain errors carrying the venue's message text, so
// classification here is substring-based rather than a code lookup.
func translateErr(err error) *exchange.Error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient"):
		return exchange.New(exchange.ErrInsufficientFunds, err.Error(), err)
	case strings.Contains(msg, "not found") || strings.Contains(msg, "unknown order"):
		return exchange.New(exchange.ErrOrderNotFound, err.Error(), err)
	case strings.Contains(msg, "signature") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "api wallet"):
		return exchange.New(exchange.ErrAuthentication, err.Error(), err)
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many"):
		return exchange.New(exchange.ErrRateLimit, err.Error(), err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") || strings.Contains(msg, "eof"):
		return exchange.New(exchange.ErrNetwork, err.Error(), err)
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "reduce only") || strings.Contains(msg, "tick"):
		return exchange.New(exchange.ErrInvalidOrder, err.Error(), err)
	default:
		log.WithError(err).Warn("unclassified hyperliquid error")
		return exchange.New(exchange.ErrUnknown, err.Error(), err)
	}
}
