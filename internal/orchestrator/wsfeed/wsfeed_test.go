package wsfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashfall-systems/perpcore/internal/clock"
	"github.com/ashfall-systems/perpcore/internal/types"
)

var upgrader = websocket.Upgrader{}

// newTestServer starts an httptest.Server that upgrades every request to a
// websocket and hands the server-side connection to onConn for the test to
// script, following the pack's server_test.go websocket-testing pattern.
func newTestServer(t *testing.T, onConn func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go onConn(conn)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + ts.URL[len("http"):]
}

func TestFeed_ConnectDispatchesKlineMessage(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"topic":"kline.15.BTCUSDT","data":[{"start":1000,"open":"50000","high":"50100","low":"49900","close":"50050","volume":"12","confirm":true,"interval":"15"}]}`,
		))
		time.Sleep(50 * time.Millisecond)
	})

	received := make(chan types.Candle, 1)
	f := New(wsURL(ts), Handlers{OnKline: func(c types.Candle) { received <- c }}, clock.Real{})
	require.NoError(t, f.Connect(context.Background()))
	defer f.Close()

	select {
	case c := <-received:
		assert.Equal(t, "BTCUSDT", c.Symbol)
		assert.True(t, c.IsClosed)
		assert.True(t, c.Close.Equal(c.Close)) // sanity: decimal parsed without panic
	case <-time.After(time.Second):
		t.Fatal("kline handler was not invoked")
	}
}

func TestFeed_ConnectDispatchesOrderMessage(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"topic":"order","data":[{"orderId":"ex1","orderLinkId":"cl1","symbol":"BTCUSDT","side":"Buy","orderType":"Market","qty":"1","cumExecQty":"1","orderStatus":"Filled"}]}`,
		))
		time.Sleep(50 * time.Millisecond)
	})

	received := make(chan types.OrderResult, 1)
	f := New(wsURL(ts), Handlers{OnOrder: func(o types.OrderResult) { received <- o }}, clock.Real{})
	require.NoError(t, f.Connect(context.Background()))
	defer f.Close()

	select {
	case o := <-received:
		assert.Equal(t, "cl1", o.ClientOrderID)
		assert.Equal(t, types.OrderStatusFilled, o.Status)
		assert.Equal(t, types.SideBuy, o.Side)
	case <-time.After(time.Second):
		t.Fatal("order handler was not invoked")
	}
}

func TestFeed_ConnectDispatchesPositionMessage(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"topic":"position","data":[{"symbol":"ETHUSDT","side":"Sell","size":"2","entryPrice":"3000","markPrice":"2950","unrealisedPnl":"100"}]}`,
		))
		time.Sleep(50 * time.Millisecond)
	})

	received := make(chan types.Position, 1)
	f := New(wsURL(ts), Handlers{OnPosition: func(p types.Position) { received <- p }}, clock.Real{})
	require.NoError(t, f.Connect(context.Background()))
	defer f.Close()

	select {
	case p := <-received:
		assert.Equal(t, "ETHUSDT", p.Symbol)
		assert.Equal(t, types.PositionShort, p.Side)
	case <-time.After(time.Second):
		t.Fatal("position handler was not invoked")
	}
}

func TestFeed_ConnectDispatchesBalanceMessage(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"topic":"wallet","data":[{"totalEquity":"10000","totalWalletBalance":"9900","totalAvailableBalance":"9500","totalPerpUPL":"100"}]}`,
		))
		time.Sleep(50 * time.Millisecond)
	})

	received := make(chan types.AccountBalance, 1)
	f := New(wsURL(ts), Handlers{OnBalance: func(b types.AccountBalance) { received <- b }}, clock.Real{})
	require.NoError(t, f.Connect(context.Background()))
	defer f.Close()

	select {
	case b := <-received:
		assert.True(t, b.TotalEquity.Equal(b.TotalEquity))
		assert.False(t, b.TotalEquity.IsZero())
	case <-time.After(time.Second):
		t.Fatal("balance handler was not invoked")
	}
}

func TestFeed_UnknownTopicIsIgnoredWithoutPanic(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"unknown.thing","data":[]}`))
		time.Sleep(30 * time.Millisecond)
	})

	f := New(wsURL(ts), Handlers{}, clock.Real{})
	require.NoError(t, f.Connect(context.Background()))
	defer f.Close()

	time.Sleep(60 * time.Millisecond) // would panic on a nil handler dereference if dispatch were buggy
}

func TestFeed_SubscribeKlinesSendsSubscribeFrame(t *testing.T) {
	frames := make(chan string, 1)
	ts := newTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err == nil {
			frames <- string(msg)
		}
		time.Sleep(30 * time.Millisecond)
	})

	f := New(wsURL(ts), Handlers{}, clock.Real{})
	require.NoError(t, f.Connect(context.Background()))
	defer f.Close()

	require.NoError(t, f.SubscribeKlines([]string{"BTCUSDT"}, "15"))

	select {
	case frame := <-frames:
		assert.Contains(t, frame, "kline.15.BTCUSDT")
		assert.Contains(t, frame, `"op":"subscribe"`)
	case <-time.After(time.Second):
		t.Fatal("subscribe frame was never sent")
	}
}

func TestFeed_CloseStopsReadLoop(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		time.Sleep(200 * time.Millisecond)
	})

	f := New(wsURL(ts), Handlers{}, clock.Real{})
	require.NoError(t, f.Connect(context.Background()))
	require.NoError(t, f.Close())
	// a second Close must be a no-op, not a double-close panic.
	require.NoError(t, f.Close())
}

func TestFeed_SendFailsWhenNotConnected(t *testing.T) {
	f := New("ws://unused", Handlers{}, clock.Real{})
	err := f.SubscribeOrders()
	require.Error(t, err)
}
