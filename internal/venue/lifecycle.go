package venue

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradepulse/internal/model"
	"tradepulse/internal/model/enum"
	"tradepulse/pkg/exception"
)

// Entry is the venue's view of one order.
type Entry struct {
	OrderID      string
	VenueOrderID string
	Symbol       string
	Side         enum.OrderSide
	Quantity     int64
	Price        decimal.Decimal
	Status       enum.OrderStatus
	UpdatedAt    time.Time
}

// Book tracks order lifecycle on the venue side. Transitions out of a
// terminal status are rejected.
type Book struct {
	mu     sync.Mutex
	orders map[string]*Entry
}

func NewBook() *Book {
	return &Book{orders: make(map[string]*Entry)}
}

// Place registers a new order in Placed status.
func (b *Book) Place(order model.Order, venueOrderID string, now time.Time) (Entry, error) {
	if order.ID == "" {
		return Entry{}, exception.ErrUnknownOrder
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.orders[order.ID]; ok {
		return Entry{}, exception.ErrDuplicateOrder
	}
	e := &Entry{
		OrderID:      order.ID,
		VenueOrderID: venueOrderID,
		Symbol:       order.Symbol,
		Side:         order.Side,
		Quantity:     order.Quantity,
		Status:       enum.OrderStatusPlaced,
		UpdatedAt:    now,
	}
	b.orders[order.ID] = e
	return *e, nil
}

// MarkFilled transitions Placed -> Filled and records the fill price.
func (b *Book) MarkFilled(orderID string, price decimal.Decimal, now time.Time) (Entry, error) {
	return b.transition(orderID, enum.OrderStatusFilled, price, now)
}

// MarkRejected transitions Placed -> Rejected.
func (b *Book) MarkRejected(orderID string, now time.Time) (Entry, error) {
	return b.transition(orderID, enum.OrderStatusRejected, decimal.Decimal{}, now)
}

// MarkCanceled transitions Placed -> Canceled.
func (b *Book) MarkCanceled(orderID string, now time.Time) (Entry, error) {
	return b.transition(orderID, enum.OrderStatusCanceled, decimal.Decimal{}, now)
}

func (b *Book) transition(orderID string, to enum.OrderStatus, price decimal.Decimal, now time.Time) (Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.orders[orderID]
	if !ok {
		return Entry{}, exception.ErrUnknownOrder
	}
	if e.Status.IsTerminal() {
		return *e, exception.ErrInvalidTransition
	}
	e.Status = to
	e.UpdatedAt = now
	if to == enum.OrderStatusFilled {
		e.Price = price
	}
	return *e, nil
}

// Entry returns a copy of the order's current state.
func (b *Book) Entry(orderID string) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.orders[orderID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Count returns how many orders the book has seen.
func (b *Book) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}
