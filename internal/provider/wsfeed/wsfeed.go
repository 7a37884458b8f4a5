package wsfeed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradepulse/internal/model"
	"tradepulse/internal/model/enum"
	"tradepulse/internal/provider"
	"tradepulse/pkg/exception"
	"tradepulse/pkg/scanner"
)

const (
	defaultProviderID       = "wsfeed"
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 15 * time.Second
	defaultReadTimeout      = 45 * time.Second
	defaultAckTimeout       = 5 * time.Second
)

// Config controls the websocket feed session.
type Config struct {
	URL     string
	Symbols []string

	ProviderID       string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	AckTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.ProviderID == "" {
		c.ProviderID = defaultProviderID
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = defaultAckTimeout
	}
	return c
}

type subscribeFrame struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

type orderFrame struct {
	Op            string `json:"op"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Quantity      int64  `json:"quantity"`
	OrderType     string `json:"orderType"`
	LimitPrice    string `json:"limitPrice,omitempty"`
}

type tickEvent struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
	Timestamp int64           `json:"timestamp"`
}

type ackEvent struct {
	Type          string          `json:"type"`
	ClientOrderID string          `json:"clientOrderId"`
	VenueOrderID  string          `json:"venueOrderId"`
	Status        string          `json:"status"`
	FillPrice     decimal.Decimal `json:"fillPrice"`
	FilledQty     int64           `json:"filledQty"`
}

// Provider streams ticks from an upstream websocket feed and forwards
// orders over the same session, matching acks by client order id. Each
// inbound frame is type-sniffed with the byte scanner before the full
// decode so heartbeats stay cheap.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	symbols   []string
	pending   map[string]chan ackEvent

	writeMu      sync.Mutex
	heartbeatSeq uint64
}

func New(cfg Config) *Provider {
	cfg = cfg.withDefaults()
	return &Provider{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		symbols: append([]string(nil), cfg.Symbols...),
		pending: make(map[string]chan ackEvent),
	}
}

func (p *Provider) Name() string {
	return p.cfg.ProviderID
}

// Connect dials the upstream and sends the initial subscribe payload.
// Already connected is a no-op.
func (p *Provider) Connect(ctx context.Context, creds provider.Credentials) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected {
		return nil
	}

	header := http.Header{}
	if creds.APIKey != "" {
		header.Set("Authorization", creds.APIKey)
	}

	conn, resp, err := p.dialer.DialContext(ctx, p.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return exception.ErrAuthFailed
		}
		return errors.Wrap(exception.ErrProviderUnavailable, err.Error()).With("url", p.cfg.URL)
	}

	p.conn = conn
	p.connected = true

	if len(p.symbols) > 0 {
		if err := p.send(conn, subscribeFrame{Op: "subscribe", Symbols: p.symbols}); err != nil {
			p.closeLocked()
			return errors.Wrap(exception.ErrProviderUnavailable, err.Error())
		}
	}
	return nil
}

// Stream pumps inbound frames until the context is cancelled or the
// connection drops. A drop fails pending order waiters and returns
// ErrStreamClosed.
func (p *Provider) Stream(ctx context.Context, sink provider.Sink) error {
	if sink == nil {
		return exception.ErrNilSink
	}

	p.mu.Lock()
	conn := p.conn
	connected := p.connected
	p.mu.Unlock()
	if !connected || conn == nil {
		return exception.ErrNotConnected
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout))

	pingDone := make(chan struct{})
	go p.pingLoop(conn, pingDone)
	defer close(pingDone)
	defer p.failPending()

	watch := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer watch()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(exception.ErrStreamClosed, err.Error())
		}
		p.route(payload, sink)
	}
}

func (p *Provider) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			p.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (p *Provider) route(payload []byte, sink provider.Sink) {
	kind, ok := scanner.ScanStringField(payload, []byte(`"type"`))
	if !ok {
		logs.Errorf("ws frame without type field: %s", payload)
		return
	}

	switch string(kind) {
	case "tick":
		var ev tickEvent
		if err := sonic.ConfigFastest.Unmarshal(payload, &ev); err != nil {
			logs.Errorf("unmarshal tick frame, err: %+v", err)
			return
		}
		sink(model.RawTick{
			Symbol:     ev.Symbol,
			Price:      ev.Price,
			Volume:     ev.Volume,
			Timestamp:  time.UnixMilli(ev.Timestamp).UTC(),
			ProviderID: p.cfg.ProviderID,
		})
	case "orderAck":
		var ev ackEvent
		if err := sonic.ConfigFastest.Unmarshal(payload, &ev); err != nil {
			logs.Errorf("unmarshal ack frame, err: %+v", err)
			return
		}
		p.deliverAck(ev)
	case "heartbeat":
		if seq, ok := scanner.ScanUintField(payload, []byte(`"seq"`)); ok {
			if p.heartbeatSeq != 0 && seq > p.heartbeatSeq+1 {
				logs.Warnf("heartbeat gap: %d -> %d", p.heartbeatSeq, seq)
			}
			p.heartbeatSeq = seq
		}
	default:
		logs.Infof("ignore ws frame type %s", kind)
	}
}

func (p *Provider) deliverAck(ev ackEvent) {
	p.mu.Lock()
	ch, ok := p.pending[ev.ClientOrderID]
	if ok {
		delete(p.pending, ev.ClientOrderID)
	}
	p.mu.Unlock()
	if ok {
		ch <- ev
	}
}

func (p *Provider) failPending() {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string]chan ackEvent)
	p.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// SubmitOrder sends the order frame and waits for its ack. No ack within
// AckTimeout (or a dropped session) maps to ErrSubmitTimeout.
func (p *Provider) SubmitOrder(ctx context.Context, order model.Order) (model.OrderResult, error) {
	p.mu.Lock()
	if !p.connected || p.conn == nil {
		p.mu.Unlock()
		return model.OrderResult{}, exception.ErrNotConnected
	}
	if _, ok := p.pending[order.ID]; ok {
		p.mu.Unlock()
		return model.OrderResult{}, exception.ErrDuplicateOrder
	}
	conn := p.conn
	ch := make(chan ackEvent, 1)
	p.pending[order.ID] = ch
	p.mu.Unlock()

	frame := orderFrame{
		Op:            "order",
		ClientOrderID: order.ID,
		Symbol:        order.Symbol,
		Side:          order.Side.String(),
		Quantity:      order.Quantity,
		OrderType:     order.OrderType.String(),
	}
	if order.HasLimit {
		frame.LimitPrice = order.LimitPrice.String()
	}

	if err := p.send(conn, frame); err != nil {
		p.dropPending(order.ID)
		return model.OrderResult{}, errors.Wrap(exception.ErrSubmitTimeout, err.Error())
	}

	timer := time.NewTimer(p.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		p.dropPending(order.ID)
		return model.OrderResult{}, exception.ErrSubmitTimeout
	case <-timer.C:
		p.dropPending(order.ID)
		return model.OrderResult{}, exception.ErrSubmitTimeout
	case ev, ok := <-ch:
		if !ok {
			return model.OrderResult{}, exception.ErrSubmitTimeout
		}
		return p.ackResult(order, ev)
	}
}

func (p *Provider) ackResult(order model.Order, ev ackEvent) (model.OrderResult, error) {
	switch ev.Status {
	case "FILLED":
		filled := ev.FilledQty
		if filled == 0 {
			filled = order.Quantity
		}
		return model.OrderResult{
			OrderID:      order.ID,
			VenueOrderID: ev.VenueOrderID,
			Status:       enum.OrderStatusFilled,
			FillPrice:    ev.FillPrice,
			FilledQty:    filled,
			FilledAt:     time.Now().UTC(),
		}, nil
	case "REJECTED":
		return model.OrderResult{}, exception.ErrRejectedByVenue
	default:
		return model.OrderResult{}, errors.Wrapf(exception.ErrRejectedByVenue, "unsupported ack status %q", ev.Status)
	}
}

func (p *Provider) dropPending(orderID string) {
	p.mu.Lock()
	delete(p.pending, orderID)
	p.mu.Unlock()
}

func (p *Provider) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *Provider) closeLocked() {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.connected = false
}

// SetSymbols diffs the current set and sends unsubscribe/subscribe frames.
func (p *Provider) SetSymbols(symbols []string) {
	p.mu.Lock()
	current := make(map[string]bool, len(p.symbols))
	for _, s := range p.symbols {
		current[s] = true
	}
	next := make(map[string]bool, len(symbols))
	var added []string
	for _, s := range symbols {
		next[s] = true
		if !current[s] {
			added = append(added, s)
		}
	}
	var removed []string
	for _, s := range p.symbols {
		if !next[s] {
			removed = append(removed, s)
		}
	}
	p.symbols = append([]string(nil), symbols...)
	conn := p.conn
	connected := p.connected
	p.mu.Unlock()

	if !connected || conn == nil {
		return
	}
	if len(removed) > 0 {
		if err := p.send(conn, subscribeFrame{Op: "unsubscribe", Symbols: removed}); err != nil {
			logs.Errorf("unsubscribe retarget failed, err: %+v", err)
		}
	}
	if len(added) > 0 {
		if err := p.send(conn, subscribeFrame{Op: "subscribe", Symbols: added}); err != nil {
			logs.Errorf("subscribe retarget failed, err: %+v", err)
		}
	}
}

func (p *Provider) send(conn *websocket.Conn, v any) error {
	payload, err := sonic.ConfigFastest.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal ws frame")
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}
