package wsfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepulse/internal/model"
	"tradepulse/internal/model/enum"
	"tradepulse/internal/provider"
	"tradepulse/pkg/exception"
)

type upstream struct {
	srv     *httptest.Server
	apiKey  string
	onOrder func(frame map[string]any) any

	mu    sync.Mutex
	conn  *websocket.Conn
	recvd []map[string]any
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()

	u := &upstream{}
	upgrader := websocket.Upgrader{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u.apiKey != "" && r.Header.Get("Authorization") != u.apiKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		u.mu.Lock()
		u.conn = conn
		u.mu.Unlock()

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]any
			if err := sonic.ConfigFastest.Unmarshal(payload, &frame); err != nil {
				continue
			}
			u.mu.Lock()
			u.recvd = append(u.recvd, frame)
			u.mu.Unlock()
			if frame["op"] == "order" && u.onOrder != nil {
				if ack := u.onOrder(frame); ack != nil {
					u.push(t, ack)
				}
			}
		}
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) url() string {
	return "ws" + strings.TrimPrefix(u.srv.URL, "http")
}

func (u *upstream) push(t *testing.T, v any) {
	t.Helper()

	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	require.NotNil(t, conn, "no client session yet")

	payload, err := sonic.ConfigFastest.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func (u *upstream) dropSession() {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (u *upstream) frames(op string) []map[string]any {
	u.mu.Lock()
	defer u.mu.Unlock()

	var out []map[string]any
	for _, f := range u.recvd {
		if f["op"] == op {
			out = append(out, f)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func startSession(t *testing.T, p *Provider) (*tickSink, chan error, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	sink := &tickSink{}
	done := make(chan error, 1)
	go func() {
		done <- p.Stream(ctx, sink.accept)
	}()
	return sink, done, cancel
}

type tickSink struct {
	mu    sync.Mutex
	ticks []model.RawTick
}

func (s *tickSink) accept(raw model.RawTick) {
	s.mu.Lock()
	s.ticks = append(s.ticks, raw)
	s.mu.Unlock()
}

func (s *tickSink) snapshot() []model.RawTick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.RawTick(nil), s.ticks...)
}

func TestConnectAuth(t *testing.T) {
	u := newUpstream(t)
	u.apiKey = "secret-key"

	p := New(Config{URL: u.url()})
	err := p.Connect(context.Background(), provider.Credentials{APIKey: "wrong"})
	require.ErrorIs(t, err, exception.ErrAuthFailed)

	require.NoError(t, p.Connect(context.Background(), provider.Credentials{APIKey: "secret-key"}))
	require.NoError(t, p.Connect(context.Background(), provider.Credentials{APIKey: "secret-key"}))
	require.NoError(t, p.Disconnect())
}

func TestStreamRequiresConnect(t *testing.T) {
	p := New(Config{URL: "ws://127.0.0.1:1"})
	err := p.Stream(context.Background(), func(model.RawTick) {})
	require.ErrorIs(t, err, exception.ErrNotConnected)
}

func TestStreamDeliversTicks(t *testing.T) {
	u := newUpstream(t)

	p := New(Config{URL: u.url(), Symbols: []string{"AAPL"}})
	require.NoError(t, p.Connect(context.Background(), provider.Credentials{}))
	defer p.Disconnect()

	sink, done, cancel := startSession(t, p)
	waitFor(t, func() bool { return len(u.frames("subscribe")) > 0 })

	u.push(t, map[string]any{"type": "heartbeat"})
	u.push(t, map[string]any{"type": "tick", "symbol": "AAPL", "price": 187.25, "volume": 300, "timestamp": 1700000000000})
	u.push(t, map[string]any{"type": "tick", "symbol": "AAPL", "price": 187.3, "volume": 150, "timestamp": 1700000000500})
	u.push(t, map[string]any{"garbage": true})

	waitFor(t, func() bool { return len(sink.snapshot()) >= 2 })
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	ticks := sink.snapshot()
	require.Len(t, ticks, 2)
	assert.Equal(t, "AAPL", ticks[0].Symbol)
	assert.Equal(t, "wsfeed", ticks[0].ProviderID)
	assert.True(t, ticks[0].Price.Equal(decimal.RequireFromString("187.25")))
	assert.Equal(t, int64(300), ticks[0].Volume)
	assert.Equal(t, int64(1700000000000), ticks[0].Timestamp.UnixMilli())
	assert.Equal(t, int64(150), ticks[1].Volume)
}

func TestStreamEndsWhenUpstreamDrops(t *testing.T) {
	u := newUpstream(t)

	p := New(Config{URL: u.url(), Symbols: []string{"AAPL"}})
	require.NoError(t, p.Connect(context.Background(), provider.Credentials{}))
	defer p.Disconnect()

	_, done, cancel := startSession(t, p)
	defer cancel()
	waitFor(t, func() bool { return len(u.frames("subscribe")) > 0 })

	u.dropSession()
	require.ErrorIs(t, <-done, exception.ErrStreamClosed)
}

func TestSubmitOrderFilled(t *testing.T) {
	u := newUpstream(t)
	u.onOrder = func(frame map[string]any) any {
		return map[string]any{
			"type":          "orderAck",
			"clientOrderId": frame["clientOrderId"],
			"venueOrderId":  "V-77",
			"status":        "FILLED",
			"fillPrice":     101.5,
			"filledQty":     10,
		}
	}

	p := New(Config{URL: u.url()})
	require.NoError(t, p.Connect(context.Background(), provider.Credentials{}))
	defer p.Disconnect()

	_, _, cancel := startSession(t, p)
	defer cancel()

	order := model.Order{
		ID:        "ord-1",
		Symbol:    "AAPL",
		Side:      enum.OrderSideBuy,
		Quantity:  10,
		OrderType: enum.OrderTypeLimit,
	}
	order.LimitPrice = decimal.RequireFromString("101.5")
	order.HasLimit = true

	result, err := p.SubmitOrder(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", result.OrderID)
	assert.Equal(t, "V-77", result.VenueOrderID)
	assert.Equal(t, enum.OrderStatusFilled, result.Status)
	assert.True(t, result.FillPrice.Equal(decimal.RequireFromString("101.5")))
	assert.Equal(t, int64(10), result.FilledQty)
}

func TestSubmitOrderRejected(t *testing.T) {
	u := newUpstream(t)
	u.onOrder = func(frame map[string]any) any {
		return map[string]any{
			"type":          "orderAck",
			"clientOrderId": frame["clientOrderId"],
			"status":        "REJECTED",
		}
	}

	p := New(Config{URL: u.url()})
	require.NoError(t, p.Connect(context.Background(), provider.Credentials{}))
	defer p.Disconnect()

	_, _, cancel := startSession(t, p)
	defer cancel()

	_, err := p.SubmitOrder(context.Background(), model.Order{ID: "ord-2", Symbol: "AAPL", Side: enum.OrderSideSell, Quantity: 5, OrderType: enum.OrderTypeMarket})
	require.ErrorIs(t, err, exception.ErrRejectedByVenue)
}

func TestSubmitOrderAckTimeout(t *testing.T) {
	u := newUpstream(t)

	p := New(Config{URL: u.url(), AckTimeout: 50 * time.Millisecond})
	require.NoError(t, p.Connect(context.Background(), provider.Credentials{}))
	defer p.Disconnect()

	_, _, cancel := startSession(t, p)
	defer cancel()

	_, err := p.SubmitOrder(context.Background(), model.Order{ID: "ord-3", Symbol: "AAPL", Side: enum.OrderSideBuy, Quantity: 1, OrderType: enum.OrderTypeMarket})
	require.ErrorIs(t, err, exception.ErrSubmitTimeout)
}

func TestSubmitOrderFailsWhenSessionDrops(t *testing.T) {
	u := newUpstream(t)

	p := New(Config{URL: u.url(), AckTimeout: 5 * time.Second})
	require.NoError(t, p.Connect(context.Background(), provider.Credentials{}))
	defer p.Disconnect()

	_, done, cancel := startSession(t, p)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := p.SubmitOrder(context.Background(), model.Order{ID: "ord-4", Symbol: "AAPL", Side: enum.OrderSideBuy, Quantity: 1, OrderType: enum.OrderTypeMarket})
		errCh <- err
	}()
	waitFor(t, func() bool { return len(u.frames("order")) > 0 })

	u.dropSession()
	require.ErrorIs(t, <-done, exception.ErrStreamClosed)
	require.ErrorIs(t, <-errCh, exception.ErrSubmitTimeout)
}

func TestSetSymbolsSendsDiff(t *testing.T) {
	u := newUpstream(t)

	p := New(Config{URL: u.url(), Symbols: []string{"AAPL", "MSFT"}})
	require.NoError(t, p.Connect(context.Background(), provider.Credentials{}))
	defer p.Disconnect()

	waitFor(t, func() bool { return len(u.frames("subscribe")) == 1 })
	p.SetSymbols([]string{"MSFT", "TSLA"})

	waitFor(t, func() bool { return len(u.frames("unsubscribe")) == 1 && len(u.frames("subscribe")) == 2 })
	unsub := u.frames("unsubscribe")[0]
	assert.Equal(t, []any{"AAPL"}, unsub["symbols"])
	sub := u.frames("subscribe")[1]
	assert.Equal(t, []any{"TSLA"}, sub["symbols"])
}
