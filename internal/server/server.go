// Package server exposes the client-facing websocket endpoint. Each
// connection gets a hub delivery queue; a slow reader drops its oldest
// frames instead of stalling the publisher.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"tradepulse/internal/hub"
	"tradepulse/internal/model"
	"tradepulse/internal/model/enum"
	"tradepulse/internal/order"
	"tradepulse/internal/protocol"
	"tradepulse/pkg/exception"
)

const (
	defaultAddr     = ":8080"
	writeWait       = 5 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = 50 * time.Second
	maxMessageSize  = 64 * 1024
	shutdownTimeout = 5 * time.Second
)

// Config wires the websocket server.
type Config struct {
	Addr    string
	Hub     *hub.Hub
	Gateway *order.Gateway
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	return c
}

// Server owns the HTTP listener and the per-connection pumps.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New builds the server. Hub and Gateway are required.
func New(cfg Config) (*Server, error) {
	if cfg.Hub == nil || cfg.Gateway == nil {
		return nil, exception.ErrNilInstance
	}
	cfg = cfg.withDefaults()

	s := &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	s.httpSrv = &http.Server{Addr: cfg.Addr, Handler: mux}

	return s, nil
}

// Handler returns the route mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logs.Infof("websocket server listening on %s", s.cfg.Addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload, _ := sonic.ConfigFastest.Marshal(map[string]any{
		"status":  "ok",
		"clients": s.cfg.Hub.ClientCount(),
	})
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Warnf("upgrade from %s, err: %+v", r.RemoteAddr, err)
		return
	}

	clientID := uuid.NewString()
	queue, err := s.cfg.Hub.Register(clientID)
	if err != nil {
		logs.Warnf("register client %s, err: %+v", clientID, err)
		_ = conn.Close()
		return
	}

	logs.Infof("client %s connected from %s", clientID, r.RemoteAddr)
	defer logs.Infof("client %s disconnected", clientID)

	pingDone := make(chan struct{})
	go s.writePump(conn, queue, pingDone)
	go pingLoop(conn, pingDone)

	s.readPump(r.Context(), conn, clientID, queue)

	s.cfg.Hub.Disconnect(clientID)
	_ = conn.Close()
}

func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, clientID string, queue *hub.DeliveryQueue) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		req, err := protocol.DecodeClientRequest(payload)
		if err != nil {
			queue.Push(protocol.EncodeError(err.Error()))
			continue
		}

		switch req.Op {
		case protocol.OpSubscribe:
			symbols := normalizeSymbols(req.Symbols)
			if len(symbols) == 0 {
				queue.Push(protocol.EncodeError(exception.ErrEmptySymbolSet.Error()))
				continue
			}
			s.cfg.Hub.Subscribe(clientID, symbols)
		case protocol.OpUnsubscribe:
			symbols := normalizeSymbols(req.Symbols)
			if len(symbols) == 0 {
				queue.Push(protocol.EncodeError(exception.ErrEmptySymbolSet.Error()))
				continue
			}
			s.cfg.Hub.Unsubscribe(clientID, symbols)
		case protocol.OpOrder:
			s.handleOrder(ctx, req, queue)
		}
	}
}

func (s *Server) handleOrder(ctx context.Context, req protocol.ClientRequest, queue *hub.DeliveryQueue) {
	ord, err := buildOrder(req)
	if err != nil {
		queue.Push(protocol.EncodeError(err.Error()))
		return
	}

	decision := s.cfg.Gateway.Submit(ctx, ord)
	frame, err := protocol.EncodeDecision(decision)
	if err != nil {
		logs.Errorf("encode decision %s, err: %+v", decision.OrderID, err)
		return
	}
	queue.Push(frame)
}

func buildOrder(req protocol.ClientRequest) (model.Order, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return model.Order{}, exception.ErrOrderInvalidFields
	}
	if req.Quantity <= 0 {
		return model.Order{}, exception.ErrOrderInvalidFields
	}

	side := enum.ParseOrderSide(req.Side)
	if !side.IsAvailable() {
		return model.Order{}, exception.ErrOrderInvalidFields
	}

	orderType := enum.OrderTypeMarket
	if req.OrderType != "" {
		orderType = enum.ParseOrderType(req.OrderType)
		if !orderType.IsAvailable() {
			return model.Order{}, exception.ErrOrderInvalidFields
		}
	}

	ord := model.Order{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Side:        side,
		Quantity:    req.Quantity,
		OrderType:   orderType,
		StrategyID:  req.StrategyID,
		SubmittedAt: time.Now().UTC(),
	}
	if req.LimitPrice != nil {
		if req.LimitPrice.LessThanOrEqual(decimal.Zero) {
			return model.Order{}, exception.ErrOrderInvalidFields
		}
		ord.LimitPrice = *req.LimitPrice
		ord.HasLimit = true
	}
	if orderType == enum.OrderTypeLimit && !ord.HasLimit {
		return model.Order{}, exception.ErrOrderInvalidFields
	}
	return ord, nil
}

// writePump drains the delivery queue onto the socket. Queue close, via
// hub disconnect, ends the pump.
func (s *Server) writePump(conn *websocket.Conn, queue *hub.DeliveryQueue, pingDone chan<- struct{}) {
	defer close(pingDone)
	for {
		payload, ok := queue.Pop()
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			_ = conn.Close()
			return
		}
	}
}

func pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
