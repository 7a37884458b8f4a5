// Package store persists the order flow to PostgreSQL. Writes are
// asynchronous and never block the hot path: a full queue drops the
// write and counts it.
package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"gorm.io/gorm/clause"

	"tradepulse/internal/model"
	"tradepulse/pkg/conn"
	"tradepulse/pkg/exception"
)

const defaultQueueSize = 1024

// Config controls the async writer.
type Config struct {
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}

type eventKind uint8

const (
	eventDecision eventKind = iota + 1
	eventFill
)

type event struct {
	kind     eventKind
	order    model.Order
	decision model.RiskDecision
	fill     model.Fill
}

// Store is the write-through persistence layer for orders, decisions
// and trades.
type Store struct {
	client *conn.Client
	queue  chan event

	dropped uint64

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// New wraps an open database client.
func New(client *conn.Client, cfg Config) (*Store, error) {
	if client == nil || client.DB() == nil {
		return nil, exception.ErrNilInstance
	}
	cfg = cfg.withDefaults()
	return &Store{
		client: client,
		queue:  make(chan event, cfg.QueueSize),
		done:   make(chan struct{}),
	}, nil
}

// Start migrates the schema and launches the writer goroutine.
func (s *Store) Start(ctx context.Context) error {
	if err := s.client.DB().WithContext(ctx).AutoMigrate(&OrderRow{}, &DecisionRow{}, &TradeRow{}); err != nil {
		return err
	}
	s.startOnce.Do(func() {
		go s.run(ctx)
	})
	return nil
}

// Close stops accepting writes and waits for the queue to drain.
func (s *Store) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.queue)
		<-s.done
	})
}

// Dropped reports writes lost to a full queue.
func (s *Store) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return atomic.LoadUint64(&s.dropped)
}

// RecordDecision persists the order and its risk decision.
func (s *Store) RecordDecision(order model.Order, decision model.RiskDecision) {
	if s == nil {
		return
	}
	s.enqueue(event{kind: eventDecision, order: order, decision: decision})
}

// RecordFill persists a confirmed trade.
func (s *Store) RecordFill(fill model.Fill) {
	if s == nil {
		return
	}
	s.enqueue(event{kind: eventFill, fill: fill})
}

func (s *Store) enqueue(ev event) {
	defer func() {
		// Close races a late producer; count it as a drop.
		if recover() != nil {
			atomic.AddUint64(&s.dropped, 1)
		}
	}()
	select {
	case s.queue <- ev:
	default:
		if atomic.AddUint64(&s.dropped, 1)%100 == 1 {
			logs.Warnf("store queue full, dropped %d writes", atomic.LoadUint64(&s.dropped))
		}
	}
}

func (s *Store) run(ctx context.Context) {
	defer close(s.done)
	for ev := range s.queue {
		switch ev.kind {
		case eventDecision:
			s.writeDecision(ctx, ev.order, ev.decision)
		case eventFill:
			s.writeFill(ctx, ev.fill)
		}
	}
}

func (s *Store) writeDecision(ctx context.Context, order model.Order, decision model.RiskDecision) {
	db := s.client.DB().WithContext(ctx)

	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoNothing: true,
	}).Create(toOrderRow(order, decision.AccountID)).Error; err != nil {
		logs.Errorf("persist order %s, err: %+v", order.ID, err)
	}

	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoNothing: true,
	}).Create(toDecisionRow(decision)).Error; err != nil {
		logs.Errorf("persist decision %s, err: %+v", decision.OrderID, err)
	}
}

func (s *Store) writeFill(ctx context.Context, fill model.Fill) {
	if err := s.client.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoNothing: true,
	}).Create(toTradeRow(fill)).Error; err != nil {
		logs.Errorf("persist trade %s, err: %+v", fill.OrderID, err)
	}
}

// OrderRow mirrors an accepted or rejected order submission.
type OrderRow struct {
	OrderID     string          `gorm:"column:order_id;primaryKey;size:64"`
	AccountID   string          `gorm:"column:account_id;size:64;index"`
	Symbol      string          `gorm:"column:symbol;size:32;index"`
	Side        string          `gorm:"column:side;size:8"`
	Quantity    int64           `gorm:"column:quantity"`
	OrderType   string          `gorm:"column:order_type;size:16"`
	LimitPrice  decimal.Decimal `gorm:"column:limit_price;type:numeric(20,8)"`
	StrategyID  string          `gorm:"column:strategy_id;size:64"`
	SubmittedAt time.Time       `gorm:"column:submitted_at"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (OrderRow) TableName() string { return "orders" }

// DecisionRow is the risk verdict for one order.
type DecisionRow struct {
	OrderID   string          `gorm:"column:order_id;primaryKey;size:64"`
	AccountID string          `gorm:"column:account_id;size:64;index"`
	Outcome   string          `gorm:"column:outcome;size:16"`
	Reason    string          `gorm:"column:reason;size:32"`
	Notional  decimal.Decimal `gorm:"column:notional;type:numeric(20,8)"`
	DecidedAt time.Time       `gorm:"column:decided_at"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (DecisionRow) TableName() string { return "decisions" }

// TradeRow is a confirmed venue fill.
type TradeRow struct {
	OrderID   string          `gorm:"column:order_id;primaryKey;size:64"`
	AccountID string          `gorm:"column:account_id;size:64;index"`
	Symbol    string          `gorm:"column:symbol;size:32;index"`
	Side      string          `gorm:"column:side;size:8"`
	Quantity  int64           `gorm:"column:quantity"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(20,8)"`
	FilledAt  time.Time       `gorm:"column:filled_at"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (TradeRow) TableName() string { return "trades" }

func toOrderRow(order model.Order, accountID string) *OrderRow {
	row := &OrderRow{
		OrderID:     order.ID,
		AccountID:   accountID,
		Symbol:      order.Symbol,
		Side:        order.Side.String(),
		Quantity:    order.Quantity,
		OrderType:   order.OrderType.String(),
		StrategyID:  order.StrategyID,
		SubmittedAt: order.SubmittedAt,
	}
	if order.HasLimit {
		row.LimitPrice = order.LimitPrice
	}
	return row
}

func toDecisionRow(decision model.RiskDecision) *DecisionRow {
	row := &DecisionRow{
		OrderID:   decision.OrderID,
		AccountID: decision.AccountID,
		Outcome:   decision.Outcome.String(),
		Notional:  decision.Notional,
		DecidedAt: decision.DecidedAt,
	}
	if !decision.Accepted() {
		row.Reason = decision.Reason.String()
	}
	return row
}

func toTradeRow(fill model.Fill) *TradeRow {
	return &TradeRow{
		OrderID:   fill.OrderID,
		AccountID: fill.AccountID,
		Symbol:    fill.Symbol,
		Side:      fill.Side.String(),
		Quantity:  fill.Quantity,
		Price:     fill.Price,
		FilledAt:  fill.FilledAt,
	}
}
