package model

import (
	"time"

	"github.com/shopspring/decimal"

	"tradepulse/internal/model/enum"
)

// RiskDecision is produced exactly once per order. Immutable.
type RiskDecision struct {
	OrderID   string
	AccountID string
	Outcome   enum.Outcome
	Reason    enum.RejectReason
	Notional  decimal.Decimal
	DecidedAt time.Time
}

// Accepted reports whether the order may proceed to the venue.
func (d RiskDecision) Accepted() bool {
	return d.Outcome == enum.OutcomeAccepted
}
