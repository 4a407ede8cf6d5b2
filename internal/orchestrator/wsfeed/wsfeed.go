// Package wsfeed is a gorilla/websocket push feed for kline, order,
// position, and balance updates, feeding them straight into an
// Orchestrator instead of having the poll-and-analyze cycle fetch REST
// snapshots on a timer. Message shape follows Bybit v5's
// topic-plus-data envelope (kline.<interval>.<symbol>, order, position,
// wallet), since bybit is the default configured venue; a different venue
// adapter can still drive the orchestrator purely through polling without
// this package.
//
// Grounded on the pack's guyghost-constantine Hyperliquid websocket client
// (internal/exchanges/hyperliquid/websocket.go): a mutex-guarded *websocket.Conn,
// a done channel closed on Close to stop the read loop, and a reconnect
// loop on read error. That client's single global handler is split here
// into one callback per topic and the hardcoded reconnect sleep is driven
// by an injected clock.Clock so tests don't block on real time.
package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/clock"
	"github.com/ashfall-systems/perpcore/internal/logging"
	"github.com/ashfall-systems/perpcore/internal/types"
)

var log = logging.For("wsfeed")

const reconnectDelay = 5 * time.Second

// Handlers are the callbacks the feed invokes as messages arrive. Any nil
// handler silently drops messages on that topic.
type Handlers struct {
	OnKline    func(types.Candle)
	OnOrder    func(types.OrderResult)
	OnPosition func(types.Position)
	OnBalance  func(types.AccountBalance)
}

// Dialer abstracts websocket.DefaultDialer so tests can substitute an
// in-process connection without opening a real socket.
type Dialer interface {
	DialContext(ctx context.Context, url string, header map[string][]string) (*websocket.Conn, error)
}

type defaultDialer struct{}

func (defaultDialer) DialContext(ctx context.Context, url string, header map[string][]string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

// Feed is a single websocket connection subscribed to one or more topics,
// dispatching parsed messages to Handlers. It reconnects automatically on
// read error until Close is called.
type Feed struct {
	url    string
	dialer Dialer
	clock  clock.Clock
	handle Handlers

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	stopped bool
}

// New builds a Feed targeting url with the given Handlers. Pass nil for
// clk to use the real wall clock.
func New(url string, handlers Handlers, clk clock.Clock) *Feed {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Feed{url: url, dialer: defaultDialer{}, clock: clk, handle: handlers, done: make(chan struct{})}
}

// SetDialer overrides the production dialer, for tests.
func (f *Feed) SetDialer(d Dialer) { f.dialer = d }

// Connect dials the websocket and starts the read loop on its own
// goroutine. It returns once the initial dial succeeds; reconnects after
// that happen transparently in the background.
func (f *Feed) Connect(ctx context.Context) error {
	conn, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("wsfeed: dial %s: %w", f.url, err)
	}

	f.mu.Lock()
	select {
	case <-f.done:
		f.done = make(chan struct{})
	default:
	}
	f.conn = conn
	f.stopped = false
	done := f.done
	f.mu.Unlock()

	go f.readLoop(ctx, done)
	return nil
}

// Close stops the read loop and closes the connection. Safe to call more
// than once.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return nil
	}
	f.stopped = true
	close(f.done)
	if f.conn != nil {
		err := f.conn.Close()
		f.conn = nil
		return err
	}
	return nil
}

func (f *Feed) readLoop(ctx context.Context, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		default:
		}

		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			log.WithError(err).Warn("wsfeed read error; reconnecting")
			if !f.reconnect(ctx, done) {
				return
			}
			continue
		}

		f.dispatch(message)
	}
}

// reconnect waits reconnectDelay (via the injected clock, so fake-clock
// tests don't actually block) and re-dials. It returns false if Close was
// called or ctx was cancelled meanwhile; a failed redial is logged and
// returns true so the caller tries again.
func (f *Feed) reconnect(ctx context.Context, done chan struct{}) bool {
	f.clock.Sleep(reconnectDelay)

	select {
	case <-done:
		return false
	case <-ctx.Done():
		return false
	default:
	}

	conn, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		log.WithError(err).Warn("wsfeed reconnect dial failed; will retry")
		return true
	}

	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.conn = conn
	f.mu.Unlock()
	return true
}

// wireMessage is the Bybit v5-style topic envelope every push message
// arrives wrapped in.
type wireMessage struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

func (f *Feed) dispatch(raw []byte) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Topic == "" {
		return
	}

	switch {
	case strings.HasPrefix(msg.Topic, "kline."):
		f.dispatchKline(msg.Topic, msg.Data)
	case msg.Topic == "order":
		f.dispatchOrders(msg.Data)
	case msg.Topic == "position":
		f.dispatchPositions(msg.Data)
	case msg.Topic == "wallet":
		f.dispatchBalance(msg.Data)
	}
}

type wireKline struct {
	Start    int64  `json:"start"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
	Confirm  bool   `json:"confirm"`
	Interval string `json:"interval"`
}

func (f *Feed) dispatchKline(topic string, data json.RawMessage) {
	if f.handle.OnKline == nil {
		return
	}
	parts := strings.SplitN(topic, ".", 3)
	symbol := ""
	if len(parts) == 3 {
		symbol = parts[2]
	}

	var bars []wireKline
	if err := json.Unmarshal(data, &bars); err != nil {
		return
	}
	for _, b := range bars {
		f.handle.OnKline(types.Candle{
			Symbol: symbol, Timeframe: b.Interval, OpenTime: b.Start,
			Open: decOrZero(b.Open), High: decOrZero(b.High), Low: decOrZero(b.Low),
			Close: decOrZero(b.Close), Volume: decOrZero(b.Volume), IsClosed: b.Confirm,
		})
	}
}

type wireOrder struct {
	OrderID       string `json:"orderId"`
	OrderLinkID   string `json:"orderLinkId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	OrderType     string `json:"orderType"`
	Qty           string `json:"qty"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	CumExecQty    string `json:"cumExecQty"`
	OrderStatus   string `json:"orderStatus"`
	CumExecFee    string `json:"cumExecFee"`
}

func (f *Feed) dispatchOrders(data json.RawMessage) {
	if f.handle.OnOrder == nil {
		return
	}
	var orders []wireOrder
	if err := json.Unmarshal(data, &orders); err != nil {
		return
	}
	for _, o := range orders {
		f.handle.OnOrder(types.OrderResult{
			OrderID: o.OrderID, ClientOrderID: o.OrderLinkID, Symbol: o.Symbol,
			Side: toOrderSide(o.Side), OrderType: toOrderType(o.OrderType),
			Quantity: decOrZero(o.Qty), Price: decPtrOrNil(o.Price), AvgFillPrice: decPtrOrNil(o.AvgPrice),
			FilledQty: decOrZero(o.CumExecQty), Status: toOrderStatus(o.OrderStatus), Fee: decOrZero(o.CumExecFee),
		})
	}
}

type wirePosition struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	EntryPrice    string `json:"entryPrice"`
	MarkPrice     string `json:"markPrice"`
	UnrealizedPnL string `json:"unrealisedPnl"`
}

func (f *Feed) dispatchPositions(data json.RawMessage) {
	if f.handle.OnPosition == nil {
		return
	}
	var positions []wirePosition
	if err := json.Unmarshal(data, &positions); err != nil {
		return
	}
	for _, p := range positions {
		f.handle.OnPosition(types.Position{
			Symbol: p.Symbol, Side: toPositionSide(p.Side), Size: decOrZero(p.Size),
			EntryPrice: decOrZero(p.EntryPrice), MarkPrice: decOrZero(p.MarkPrice),
			UnrealizedPnL: decOrZero(p.UnrealizedPnL),
		})
	}
}

type wireWallet struct {
	TotalEquity           string `json:"totalEquity"`
	TotalWalletBalance    string `json:"totalWalletBalance"`
	TotalAvailableBalance string `json:"totalAvailableBalance"`
	TotalPerpUPL          string `json:"totalPerpUPL"`
}

func (f *Feed) dispatchBalance(data json.RawMessage) {
	if f.handle.OnBalance == nil {
		return
	}
	var wallets []wireWallet
	if err := json.Unmarshal(data, &wallets); err != nil || len(wallets) == 0 {
		return
	}
	w := wallets[0]
	f.handle.OnBalance(types.AccountBalance{
		TotalEquity: decOrZero(w.TotalEquity), TotalWalletBalance: decOrZero(w.TotalWalletBalance),
		TotalAvailableBalance: decOrZero(w.TotalAvailableBalance), TotalUnrealizedPnL: decOrZero(w.TotalPerpUPL),
	})
}

// SubscribeKlines sends a Bybit v5-style subscribe frame for
// kline.<interval>.<symbol> for every symbol.
func (f *Feed) SubscribeKlines(symbols []string, interval string) error {
	topics := make([]string, 0, len(symbols))
	for _, s := range symbols {
		topics = append(topics, fmt.Sprintf("kline.%s.%s", interval, s))
	}
	return f.send(topics)
}

// SubscribeOrders subscribes to the private order-update stream.
func (f *Feed) SubscribeOrders() error { return f.send([]string{"order"}) }

// SubscribePositions subscribes to the private position-update stream.
func (f *Feed) SubscribePositions() error { return f.send([]string{"position"}) }

// SubscribeBalance subscribes to the private wallet-balance stream.
func (f *Feed) SubscribeBalance() error { return f.send([]string{"wallet"}) }

func (f *Feed) send(topics []string) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("wsfeed: not connected")
	}
	payload, err := json.Marshal(map[string]any{"op": "subscribe", "args": topics})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func decOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decPtrOrNil(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

func toOrderSide(s string) types.OrderSide {
	if strings.EqualFold(s, "sell") {
		return types.SideSell
	}
	return types.SideBuy
}

func toOrderType(s string) types.OrderType {
	if strings.EqualFold(s, "limit") {
		return types.OrderTypeLimit
	}
	return types.OrderTypeMarket
}

func toOrderStatus(s string) types.OrderStatus {
	switch strings.ToLower(s) {
	case "filled":
		return types.OrderStatusFilled
	case "partiallyfilled":
		return types.OrderStatusPartiallyFilled
	case "cancelled", "canceled":
		return types.OrderStatusCancelled
	case "rejected":
		return types.OrderStatusRejected
	default:
		return types.OrderStatusNew
	}
}

func toPositionSide(s string) types.PositionSide {
	if strings.EqualFold(s, "sell") || strings.EqualFold(s, "short") {
		return types.PositionShort
	}
	return types.PositionLong
}
