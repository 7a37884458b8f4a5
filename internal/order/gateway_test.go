package order

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepulse/internal/model"
	"tradepulse/internal/model/enum"
	"tradepulse/internal/obs"
	"tradepulse/internal/risk"
	"tradepulse/pkg/exception"
)

type stubVenue struct {
	err    error
	result model.OrderResult
	orders []model.Order
	delay  time.Duration
}

func (s *stubVenue) Submit(ctx context.Context, order model.Order) (model.OrderResult, error) {
	s.orders = append(s.orders, order)
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return model.OrderResult{}, exception.ErrSubmitTimeout
		case <-time.After(s.delay):
		}
	}
	if s.err != nil {
		return model.OrderResult{}, s.err
	}
	res := s.result
	res.OrderID = order.ID
	return res, nil
}

func newTestGateway(t *testing.T, venue *stubVenue) (*Gateway, *risk.Engine) {
	t.Helper()
	engine := risk.NewEngine(risk.Config{})
	engine.Configure("acct-1", risk.Limits{
		BuyingPower:  decimal.NewFromInt(10000),
		MaxOrderSize: 100,
	})

	g, err := NewGateway(Config{
		Risk:          engine,
		Venue:         venue,
		Metrics:       obs.NewMetrics(),
		Traces:        obs.NewTraceGenerator(1),
		AccountID:     "acct-1",
		SubmitTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	return g, engine
}

func testOrder(id string, qty int64, limit int64) model.Order {
	return model.Order{
		ID:          id,
		Symbol:      "AAPL",
		Side:        enum.OrderSideBuy,
		Quantity:    qty,
		OrderType:   enum.OrderTypeLimit,
		LimitPrice:  decimal.NewFromInt(limit),
		HasLimit:    true,
		SubmittedAt: time.Now().UTC(),
	}
}

func TestSubmitFillCommitsReservation(t *testing.T) {
	venue := &stubVenue{result: model.OrderResult{
		VenueOrderID: "V-1",
		Status:       enum.OrderStatusFilled,
		FillPrice:    decimal.NewFromInt(150),
		FilledAt:     time.Now().UTC(),
	}}
	g, engine := newTestGateway(t, venue)

	decision := g.Submit(context.Background(), testOrder("ord-1", 50, 150))
	require.Equal(t, enum.OutcomeAccepted, decision.Outcome)
	require.Len(t, venue.orders, 1)

	state, ok := engine.AccountSnapshot("acct-1")
	require.True(t, ok)
	assert.True(t, state.BuyingPower.Equal(decimal.NewFromInt(2500)),
		"buying power %s", state.BuyingPower)
	assert.Equal(t, int64(50), state.Positions["AAPL"])
	assert.Equal(t, 0, engine.PendingReservations())
}

func TestSubmitVenueRejectReleasesReservation(t *testing.T) {
	venue := &stubVenue{err: exception.ErrRejectedByVenue}
	g, engine := newTestGateway(t, venue)

	decision := g.Submit(context.Background(), testOrder("ord-1", 50, 150))
	require.Equal(t, enum.OutcomeRejected, decision.Outcome)
	assert.Equal(t, enum.RejectReasonRejectedByVenue, decision.Reason)

	state, ok := engine.AccountSnapshot("acct-1")
	require.True(t, ok)
	assert.True(t, state.BuyingPower.Equal(decimal.NewFromInt(10000)),
		"buying power %s", state.BuyingPower)
	assert.Equal(t, int64(0), state.Positions["AAPL"])
	assert.Equal(t, 0, engine.PendingReservations())
}

func TestSubmitTimeoutRejectsWithTimeout(t *testing.T) {
	venue := &stubVenue{delay: time.Second}
	g, engine := newTestGateway(t, venue)

	decision := g.Submit(context.Background(), testOrder("ord-1", 50, 150))
	require.Equal(t, enum.OutcomeRejected, decision.Outcome)
	assert.Equal(t, enum.RejectReasonTimeout, decision.Reason)

	state, _ := engine.AccountSnapshot("acct-1")
	assert.True(t, state.BuyingPower.Equal(decimal.NewFromInt(10000)))
}

func TestSubmitRiskRejectionSkipsVenue(t *testing.T) {
	venue := &stubVenue{}
	g, _ := newTestGateway(t, venue)

	decision := g.Submit(context.Background(), testOrder("ord-1", 500, 150))
	require.Equal(t, enum.OutcomeRejected, decision.Outcome)
	assert.Equal(t, enum.RejectReasonOversizedOrder, decision.Reason)
	assert.Empty(t, venue.orders)
}
