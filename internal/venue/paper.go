package venue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradepulse/internal/model"
	"tradepulse/internal/model/enum"
	"tradepulse/pkg/exception"
)

// PriceSource resolves the last known market price for a symbol. The paper
// venue uses it to fill market orders.
type PriceSource func(symbol string) (decimal.Decimal, bool)

// Config controls paper venue behavior.
type Config struct {
	// Latency is the simulated venue round trip per order.
	Latency time.Duration

	// RejectRate injects venue rejections with the given probability,
	// for two-phase-commit failure drills. Zero disables it.
	RejectRate float64

	// Seed makes rejection rolls reproducible when non-zero.
	Seed int64
}

// Paper executes accepted orders without a real broker: every order fills
// immediately at the limit price, or at the last market price for market
// orders. Lifecycle is tracked in a Book so invalid transitions surface.
type Paper struct {
	cfg       Config
	book      *Book
	lastPrice PriceSource

	rngMu sync.Mutex
	rng   *rand.Rand
	seq   uint64
}

func NewPaper(cfg Config, lastPrice PriceSource) *Paper {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UTC().UnixNano()
	}
	return &Paper{
		cfg:       cfg,
		book:      NewBook(),
		lastPrice: lastPrice,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Book exposes the lifecycle book for inspection.
func (p *Paper) Book() *Book {
	return p.book
}

// Execute runs one order to a terminal status. The caller bounds the call
// with a context deadline; expiry maps to exception.ErrSubmitTimeout.
func (p *Paper) Execute(ctx context.Context, order model.Order) (model.OrderResult, error) {
	if order.Quantity <= 0 || !order.Side.IsAvailable() || !order.OrderType.IsAvailable() {
		return model.OrderResult{}, exception.ErrOrderInvalidFields
	}

	venueOrderID := fmt.Sprintf("PAPER-%d", atomic.AddUint64(&p.seq, 1))
	if _, err := p.book.Place(order, venueOrderID, time.Now().UTC()); err != nil {
		return model.OrderResult{}, errors.Wrap(err, "place order").With("order_id", order.ID)
	}

	if p.cfg.Latency > 0 {
		timer := time.NewTimer(p.cfg.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			_, _ = p.book.MarkCanceled(order.ID, time.Now().UTC())
			if ctx.Err() == context.DeadlineExceeded {
				return model.OrderResult{}, exception.ErrSubmitTimeout
			}
			return model.OrderResult{}, ctx.Err()
		case <-timer.C:
		}
	}

	if p.cfg.RejectRate > 0 && p.roll() < p.cfg.RejectRate {
		_, _ = p.book.MarkRejected(order.ID, time.Now().UTC())
		return model.OrderResult{}, exception.ErrRejectedByVenue
	}

	price, ok := p.fillPrice(order)
	if !ok {
		_, _ = p.book.MarkRejected(order.ID, time.Now().UTC())
		return model.OrderResult{}, errors.Wrap(exception.ErrRejectedByVenue, "no market price").With("symbol", order.Symbol)
	}

	now := time.Now().UTC()
	if _, err := p.book.MarkFilled(order.ID, price, now); err != nil {
		return model.OrderResult{}, errors.Wrap(err, "fill order").With("order_id", order.ID)
	}

	return model.OrderResult{
		OrderID:      order.ID,
		VenueOrderID: venueOrderID,
		Status:       enum.OrderStatusFilled,
		FillPrice:    price,
		FilledQty:    order.Quantity,
		FilledAt:     now,
	}, nil
}

func (p *Paper) fillPrice(order model.Order) (decimal.Decimal, bool) {
	if order.OrderType == enum.OrderTypeLimit && order.HasLimit {
		return order.LimitPrice, true
	}
	if p.lastPrice == nil {
		return decimal.Decimal{}, false
	}
	return p.lastPrice(order.Symbol)
}

func (p *Paper) roll() float64 {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Float64()
}
