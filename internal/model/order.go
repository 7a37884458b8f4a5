package model

import (
	"time"

	"github.com/shopspring/decimal"

	"tradepulse/internal/model/enum"
)

// Order is a client order request. Immutable after creation; acceptance
// and rejection are recorded as separate RiskDecision records.
type Order struct {
	ID          string
	Symbol      string
	Side        enum.OrderSide
	Quantity    int64
	OrderType   enum.OrderType
	LimitPrice  decimal.Decimal
	HasLimit    bool
	StrategyID  string
	SubmittedAt time.Time
}

// OrderResult is the venue's terminal answer to a submitted order.
type OrderResult struct {
	OrderID      string
	VenueOrderID string
	Status       enum.OrderStatus
	FillPrice    decimal.Decimal
	FilledQty    int64
	FilledAt     time.Time
}

// Fill is the record emitted after a confirmed execution.
type Fill struct {
	OrderID   string
	Symbol    string
	Side      enum.OrderSide
	Quantity  int64
	Price     decimal.Decimal
	AccountID string
	FilledAt  time.Time
}
