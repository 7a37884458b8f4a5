package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradepulse/internal/model"
	"tradepulse/internal/model/enum"
)

func TestToOrderRow(t *testing.T) {
	submittedAt := time.Now().UTC()
	order := model.Order{
		ID:          "ord-1",
		Symbol:      "AAPL",
		Side:        enum.OrderSideBuy,
		Quantity:    10,
		OrderType:   enum.OrderTypeLimit,
		LimitPrice:  decimal.NewFromFloat(189.5),
		HasLimit:    true,
		StrategyID:  "momentum",
		SubmittedAt: submittedAt,
	}

	row := toOrderRow(order, "acct-1")
	if row.OrderID != "ord-1" || row.AccountID != "acct-1" {
		t.Fatalf("ids = %s/%s", row.OrderID, row.AccountID)
	}
	if row.Side != "BUY" || row.OrderType != "LIMIT" {
		t.Fatalf("side = %s, type = %s", row.Side, row.OrderType)
	}
	if !row.LimitPrice.Equal(decimal.NewFromFloat(189.5)) {
		t.Fatalf("limit price = %s", row.LimitPrice)
	}

	order.HasLimit = false
	if row := toOrderRow(order, "acct-1"); !row.LimitPrice.IsZero() {
		t.Fatalf("market order limit price = %s", row.LimitPrice)
	}
}

func TestToDecisionRow(t *testing.T) {
	decision := model.RiskDecision{
		OrderID:   "ord-2",
		AccountID: "acct-1",
		Outcome:   enum.OutcomeRejected,
		Reason:    enum.RejectReasonOversizedOrder,
		Notional:  decimal.NewFromInt(5000),
		DecidedAt: time.Now(),
	}

	row := toDecisionRow(decision)
	if row.Outcome != "REJECTED" || row.Reason != "OversizedOrder" {
		t.Fatalf("outcome = %s, reason = %s", row.Outcome, row.Reason)
	}

	decision.Outcome = enum.OutcomeAccepted
	if row := toDecisionRow(decision); row.Reason != "" {
		t.Fatalf("accepted decision reason = %s", row.Reason)
	}
}

func TestToTradeRow(t *testing.T) {
	fill := model.Fill{
		OrderID:   "ord-3",
		Symbol:    "MSFT",
		Side:      enum.OrderSideSell,
		Quantity:  5,
		Price:     decimal.NewFromInt(420),
		AccountID: "acct-2",
		FilledAt:  time.Now(),
	}

	row := toTradeRow(fill)
	if row.Side != "SELL" || row.Quantity != 5 {
		t.Fatalf("side = %s, qty = %d", row.Side, row.Quantity)
	}
	if !row.Price.Equal(decimal.NewFromInt(420)) {
		t.Fatalf("price = %s", row.Price)
	}
}
