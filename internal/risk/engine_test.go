package risk

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepulse/internal/model"
	"tradepulse/internal/model/enum"
	"tradepulse/pkg/exception"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func limitOrder(id, symbol string, side enum.OrderSide, qty int64, limit string) model.Order {
	return model.Order{
		ID:          id,
		Symbol:      symbol,
		Side:        side,
		Quantity:    qty,
		OrderType:   enum.OrderTypeLimit,
		LimitPrice:  dec(limit),
		HasLimit:    true,
		SubmittedAt: time.Now().UTC(),
	}
}

func marketOrder(id, symbol string, side enum.OrderSide, qty int64) model.Order {
	return model.Order{
		ID:          id,
		Symbol:      symbol,
		Side:        side,
		Quantity:    qty,
		OrderType:   enum.OrderTypeMarket,
		SubmittedAt: time.Now().UTC(),
	}
}

func newAccountEngine(t *testing.T, buyingPower string, maxOrderSize int64) *Engine {
	t.Helper()
	e := NewEngine(Config{})
	e.Configure("acct-1", Limits{
		BuyingPower:  dec(buyingPower),
		MaxOrderSize: maxOrderSize,
	})
	return e
}

func TestValidateCheckOrder(t *testing.T) {
	e := NewEngine(Config{})
	e.Configure("acct-1", Limits{
		BuyingPower:  dec("10000"),
		MaxOrderSize: 100,
		PerSymbolExposureLimit: map[string]decimal.Decimal{
			"AAPL": dec("60"),
		},
	})

	cases := []struct {
		name    string
		account string
		order   model.Order
		reason  enum.RejectReason
	}{
		{"unknown account", "acct-9", limitOrder("o1", "AAPL", enum.OrderSideBuy, 1, "10"), enum.RejectReasonUnknownAccount},
		{"missing symbol", "acct-1", limitOrder("o2", "", enum.OrderSideBuy, 1, "10"), enum.RejectReasonMalformedOrder},
		{"bad side", "acct-1", model.Order{ID: "o3", Symbol: "AAPL", Quantity: 1, OrderType: enum.OrderTypeLimit, LimitPrice: dec("10"), HasLimit: true}, enum.RejectReasonMalformedOrder},
		{"zero quantity", "acct-1", limitOrder("o4", "AAPL", enum.OrderSideBuy, 0, "10"), enum.RejectReasonOversizedOrder},
		{"negative quantity", "acct-1", limitOrder("o5", "AAPL", enum.OrderSideBuy, -5, "10"), enum.RejectReasonOversizedOrder},
		{"above max size", "acct-1", limitOrder("o6", "AAPL", enum.OrderSideBuy, 101, "10"), enum.RejectReasonOversizedOrder},
		{"no reference price", "acct-1", marketOrder("o7", "TSLA", enum.OrderSideBuy, 1), enum.RejectReasonNoReferencePrice},
		{"notional above buying power", "acct-1", limitOrder("o8", "AAPL", enum.OrderSideBuy, 50, "300"), enum.RejectReasonInsufficientBuyingPower},
		{"exposure limit", "acct-1", limitOrder("o9", "AAPL", enum.OrderSideBuy, 61, "10"), enum.RejectReasonExposureLimitExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := e.Validate(tc.account, tc.order)
			require.Equal(t, enum.OutcomeRejected, decision.Outcome)
			assert.Equal(t, tc.reason, decision.Reason)
		})
	}

	decision := e.Validate("acct-1", limitOrder("o10", "AAPL", enum.OrderSideBuy, 50, "150"))
	require.True(t, decision.Accepted())
	assert.True(t, decision.Notional.Equal(dec("7500")))
}

func TestBuyingPowerReservation(t *testing.T) {
	e := newAccountEngine(t, "10000", 100)

	first := e.Validate("acct-1", limitOrder("ord-1", "AAPL", enum.OrderSideBuy, 50, "150"))
	require.True(t, first.Accepted())

	state, ok := e.AccountSnapshot("acct-1")
	require.True(t, ok)
	assert.True(t, state.BuyingPower.Equal(dec("2500")), "got %s", state.BuyingPower)
	assert.Equal(t, int64(50), state.Positions["AAPL"])

	second := e.Validate("acct-1", limitOrder("ord-2", "AAPL", enum.OrderSideBuy, 50, "150"))
	require.Equal(t, enum.OutcomeRejected, second.Outcome)
	assert.Equal(t, enum.RejectReasonInsufficientBuyingPower, second.Reason)
}

func TestReleaseRestoresExactly(t *testing.T) {
	e := newAccountEngine(t, "10000", 100)

	before, _ := e.AccountSnapshot("acct-1")
	decision := e.Validate("acct-1", limitOrder("ord-1", "AAPL", enum.OrderSideSell, 30, "99.95"))
	require.True(t, decision.Accepted())

	reserved, _ := e.AccountSnapshot("acct-1")
	assert.True(t, reserved.BuyingPower.Equal(dec("10000").Sub(dec("2998.5"))))
	assert.Equal(t, int64(-30), reserved.Positions["AAPL"])

	require.NoError(t, e.ReleaseReservation("ord-1"))
	after, _ := e.AccountSnapshot("acct-1")
	assert.True(t, after.BuyingPower.Equal(before.BuyingPower))
	assert.Equal(t, int64(0), after.Positions["AAPL"])
	assert.Equal(t, 0, e.PendingReservations())

	require.ErrorIs(t, e.ReleaseReservation("ord-1"), exception.ErrUnknownReservation)
}

func TestCommitFillAdjustsHold(t *testing.T) {
	e := newAccountEngine(t, "5000", 100)

	decision := e.Validate("acct-1", limitOrder("ord-1", "AAPL", enum.OrderSideBuy, 10, "100"))
	require.True(t, decision.Accepted())

	fill, err := e.CommitFill("ord-1", dec("99.5"))
	require.NoError(t, err)
	assert.Equal(t, "ord-1", fill.OrderID)
	assert.Equal(t, "AAPL", fill.Symbol)
	assert.Equal(t, enum.OrderSideBuy, fill.Side)
	assert.Equal(t, int64(10), fill.Quantity)
	assert.True(t, fill.Price.Equal(dec("99.5")))
	assert.Equal(t, "acct-1", fill.AccountID)

	state, _ := e.AccountSnapshot("acct-1")
	assert.True(t, state.BuyingPower.Equal(dec("4005")), "got %s", state.BuyingPower)
	assert.Equal(t, int64(10), state.Positions["AAPL"])

	// The reservation is consumed; it cannot be released afterwards.
	require.ErrorIs(t, e.ReleaseReservation("ord-1"), exception.ErrUnknownReservation)
}

func TestConcurrentOrdersNeverDoubleSpend(t *testing.T) {
	e := newAccountEngine(t, "75000", 100)

	const workers = 20
	var wg sync.WaitGroup
	decisions := make([]model.RiskDecision, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order := limitOrder("ord-"+string(rune('a'+i)), "AAPL", enum.OrderSideBuy, 50, "150")
			decisions[i] = e.Validate("acct-1", order)
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, d := range decisions {
		if d.Accepted() {
			accepted++
		} else {
			assert.Equal(t, enum.RejectReasonInsufficientBuyingPower, d.Reason)
		}
	}
	require.Equal(t, 10, accepted)

	state, _ := e.AccountSnapshot("acct-1")
	assert.True(t, state.BuyingPower.Equal(dec("0")), "got %s", state.BuyingPower)
	assert.Equal(t, int64(500), state.Positions["AAPL"])
	assert.Equal(t, 10, e.PendingReservations())
}

func TestExposureLimitIsSigned(t *testing.T) {
	e := NewEngine(Config{})
	e.Configure("acct-1", Limits{
		BuyingPower:  dec("1000000"),
		MaxOrderSize: 1000,
		PerSymbolExposureLimit: map[string]decimal.Decimal{
			"AAPL": dec("100"),
		},
	})

	require.True(t, e.Validate("acct-1", limitOrder("b1", "AAPL", enum.OrderSideBuy, 60, "10")).Accepted())

	over := e.Validate("acct-1", limitOrder("b2", "AAPL", enum.OrderSideBuy, 50, "10"))
	assert.Equal(t, enum.RejectReasonExposureLimitExceeded, over.Reason)

	require.True(t, e.Validate("acct-1", limitOrder("s1", "AAPL", enum.OrderSideSell, 50, "10")).Accepted())

	short := e.Validate("acct-1", limitOrder("s2", "AAPL", enum.OrderSideSell, 120, "10"))
	assert.Equal(t, enum.RejectReasonExposureLimitExceeded, short.Reason)

	// Unlimited symbols only answer to buying power.
	require.True(t, e.Validate("acct-1", limitOrder("t1", "TSLA", enum.OrderSideBuy, 900, "10")).Accepted())
}

func TestMarketOrderUsesLastPrice(t *testing.T) {
	e := newAccountEngine(t, "10000", 100)
	e.ObservePrice(model.Tick{Symbol: "AAPL", Price: dec("187.25")})

	price, ok := e.LastPrice("AAPL")
	require.True(t, ok)
	assert.True(t, price.Equal(dec("187.25")))

	decision := e.Validate("acct-1", marketOrder("ord-1", "AAPL", enum.OrderSideBuy, 10))
	require.True(t, decision.Accepted())
	assert.True(t, decision.Notional.Equal(dec("1872.5")))
}

func TestKillSwitchHaltsAcceptance(t *testing.T) {
	e := newAccountEngine(t, "10000", 100)
	e.SetKillSwitch(true)
	require.True(t, e.KillSwitch())

	decision := e.Validate("acct-1", limitOrder("ord-1", "AAPL", enum.OrderSideBuy, 1, "10"))
	assert.Equal(t, enum.RejectReasonTradingHalted, decision.Reason)

	e.SetKillSwitch(false)
	require.True(t, e.Validate("acct-1", limitOrder("ord-2", "AAPL", enum.OrderSideBuy, 1, "10")).Accepted())
}

func TestOrderRateLimit(t *testing.T) {
	e := NewEngine(Config{OrderRateLimit: 2, OrderRateWindow: time.Hour})
	e.Configure("acct-1", Limits{BuyingPower: dec("10000"), MaxOrderSize: 100})

	require.True(t, e.Validate("acct-1", limitOrder("ord-1", "AAPL", enum.OrderSideBuy, 1, "10")).Accepted())
	require.True(t, e.Validate("acct-1", limitOrder("ord-2", "AAPL", enum.OrderSideBuy, 1, "10")).Accepted())

	third := e.Validate("acct-1", limitOrder("ord-3", "AAPL", enum.OrderSideBuy, 1, "10"))
	assert.Equal(t, enum.RejectReasonRateLimited, third.Reason)
}

func TestRestoreOverwritesState(t *testing.T) {
	e := newAccountEngine(t, "10000", 100)
	e.Restore(model.AccountState{
		AccountID:    "acct-1",
		BuyingPower:  dec("123.45"),
		Positions:    map[string]int64{"AAPL": 7},
		MaxOrderSize: 5,
	})

	state, ok := e.AccountSnapshot("acct-1")
	require.True(t, ok)
	assert.True(t, state.BuyingPower.Equal(dec("123.45")))
	assert.Equal(t, int64(7), state.Positions["AAPL"])
	assert.Equal(t, int64(5), state.MaxOrderSize)
}
