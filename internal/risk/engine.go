package risk

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"tradepulse/internal/model"
	"tradepulse/internal/model/enum"
	"tradepulse/pkg/exception"
)

// Config defines engine-level risk controls. Per-account limits live in
// Limits and are applied through Configure.
type Config struct {
	KillSwitch      bool          `json:"killSwitch"`
	OrderRateLimit  int           `json:"orderRateLimit"`
	OrderRateWindow time.Duration `json:"orderRateWindow"`
}

// Limits seeds one account's risk state.
type Limits struct {
	BuyingPower            decimal.Decimal            `json:"buyingPower"`
	MaxOrderSize           int64                      `json:"maxOrderSize"`
	PerSymbolExposureLimit map[string]decimal.Decimal `json:"perSymbolExposureLimit"`
}

// Engine is the synchronous gate in front of the venue. Decisions for one
// account are serialized by that account's mutex so two concurrent orders
// never read the same buying power; accounts do not contend with each
// other, and the tick path only touches the price cache.
//
// Acceptance reserves buying power and applies the tentative position
// before Validate returns. The reservation is finalized by CommitFill or
// rolled back exactly by ReleaseReservation.
type Engine struct {
	cfg  Config
	kill atomic.Bool

	pmu       sync.RWMutex
	lastPrice map[string]decimal.Decimal

	amu      sync.Mutex
	accounts map[string]*account

	rmu          sync.Mutex
	reservations map[string]reservation
}

type account struct {
	mu              sync.Mutex
	state           model.AccountState
	rateWindowStart time.Time
	rateCount       int
}

type reservation struct {
	accountID string
	symbol    string
	notional  decimal.Decimal
	// qtyDelta is the signed position change applied at acceptance.
	qtyDelta int64
}

// NewEngine creates a risk engine with engine-level controls.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		cfg:          cfg,
		lastPrice:    make(map[string]decimal.Decimal),
		accounts:     make(map[string]*account),
		reservations: make(map[string]reservation),
	}
	e.kill.Store(cfg.KillSwitch)
	return e
}

// Configure creates or replaces the risk state for one account. Replacing
// resets positions; it is meant for startup and config reload.
func (e *Engine) Configure(accountID string, limits Limits) {
	if e == nil || accountID == "" {
		return
	}
	state := model.AccountState{
		AccountID:              accountID,
		BuyingPower:            limits.BuyingPower,
		Positions:              make(map[string]int64),
		MaxOrderSize:           limits.MaxOrderSize,
		PerSymbolExposureLimit: make(map[string]decimal.Decimal, len(limits.PerSymbolExposureLimit)),
	}
	for symbol, limit := range limits.PerSymbolExposureLimit {
		state.PerSymbolExposureLimit[symbol] = limit
	}

	e.amu.Lock()
	e.accounts[accountID] = &account{state: state}
	e.amu.Unlock()
}

// Restore overwrites one account's full state, positions included. Used
// by crash recovery.
func (e *Engine) Restore(state model.AccountState) {
	if e == nil || state.AccountID == "" {
		return
	}
	e.amu.Lock()
	e.accounts[state.AccountID] = &account{state: state.Clone()}
	e.amu.Unlock()
}

// SetKillSwitch halts (or resumes) all order acceptance.
func (e *Engine) SetKillSwitch(on bool) {
	if e == nil {
		return
	}
	e.kill.Store(on)
}

// KillSwitch reports whether order acceptance is halted.
func (e *Engine) KillSwitch() bool {
	if e == nil {
		return false
	}
	return e.kill.Load()
}

// ObservePrice records the latest trade price for a symbol. Fed from the
// normalized tick stream; used as the market-order reference price.
func (e *Engine) ObservePrice(tick model.Tick) {
	if e == nil {
		return
	}
	e.pmu.Lock()
	e.lastPrice[tick.Symbol] = tick.Price
	e.pmu.Unlock()
}

// LastPrice returns the cached reference price for a symbol.
func (e *Engine) LastPrice(symbol string) (decimal.Decimal, bool) {
	if e == nil {
		return decimal.Decimal{}, false
	}
	e.pmu.RLock()
	price, ok := e.lastPrice[symbol]
	e.pmu.RUnlock()
	return price, ok
}

// Validate evaluates one order against its account, short-circuiting on
// the first failed check. Acceptance mutates the account before returning.
func (e *Engine) Validate(accountID string, order model.Order) model.RiskDecision {
	decision := model.RiskDecision{
		OrderID:   order.ID,
		AccountID: accountID,
		Outcome:   enum.OutcomeRejected,
		DecidedAt: time.Now().UTC(),
	}

	acct := e.account(accountID)
	if acct == nil {
		decision.Reason = enum.RejectReasonUnknownAccount
		return decision
	}
	if order.Symbol == "" || !order.Side.IsAvailable() || !order.OrderType.IsAvailable() {
		decision.Reason = enum.RejectReasonMalformedOrder
		return decision
	}
	if e.kill.Load() {
		decision.Reason = enum.RejectReasonTradingHalted
		return decision
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	if e.rateLimited(acct) {
		decision.Reason = enum.RejectReasonRateLimited
		return decision
	}

	if order.Quantity <= 0 || order.Quantity > acct.state.MaxOrderSize {
		decision.Reason = enum.RejectReasonOversizedOrder
		return decision
	}

	refPrice, ok := e.referencePrice(order)
	if !ok {
		decision.Reason = enum.RejectReasonNoReferencePrice
		return decision
	}

	notional := refPrice.Mul(decimal.NewFromInt(order.Quantity))
	if notional.GreaterThan(acct.state.BuyingPower) {
		decision.Reason = enum.RejectReasonInsufficientBuyingPower
		return decision
	}

	qtyDelta := order.Quantity * order.Side.Sign()
	nextPos := acct.state.Positions[order.Symbol] + qtyDelta
	if limit, bounded := acct.state.PerSymbolExposureLimit[order.Symbol]; bounded {
		if decimal.NewFromInt(absInt64(nextPos)).GreaterThan(limit) {
			decision.Reason = enum.RejectReasonExposureLimitExceeded
			return decision
		}
	}

	e.rmu.Lock()
	if _, dup := e.reservations[order.ID]; dup {
		e.rmu.Unlock()
		decision.Reason = enum.RejectReasonMalformedOrder
		return decision
	}
	e.reservations[order.ID] = reservation{
		accountID: accountID,
		symbol:    order.Symbol,
		notional:  notional,
		qtyDelta:  qtyDelta,
	}
	e.rmu.Unlock()

	acct.state.BuyingPower = acct.state.BuyingPower.Sub(notional)
	acct.state.Positions[order.Symbol] = nextPos

	decision.Outcome = enum.OutcomeAccepted
	decision.Notional = notional
	return decision
}

// ReleaseReservation rolls back an accepted order exactly: buying power
// and tentative position return to their pre-acceptance values.
func (e *Engine) ReleaseReservation(orderID string) error {
	res, err := e.takeReservation(orderID)
	if err != nil {
		return err
	}
	acct := e.account(res.accountID)
	if acct == nil {
		return exception.ErrUnknownAccount
	}

	acct.mu.Lock()
	acct.state.BuyingPower = acct.state.BuyingPower.Add(res.notional)
	acct.state.Positions[res.symbol] -= res.qtyDelta
	acct.mu.Unlock()
	return nil
}

// CommitFill finalizes an accepted order at the confirmed fill price. The
// tentative position becomes definitive and the buying-power hold is
// adjusted from the reference notional to the fill notional.
func (e *Engine) CommitFill(orderID string, fillPrice decimal.Decimal) (model.Fill, error) {
	res, err := e.takeReservation(orderID)
	if err != nil {
		return model.Fill{}, err
	}
	acct := e.account(res.accountID)
	if acct == nil {
		return model.Fill{}, exception.ErrUnknownAccount
	}

	qty := absInt64(res.qtyDelta)
	actual := fillPrice.Mul(decimal.NewFromInt(qty))

	acct.mu.Lock()
	adjusted := acct.state.BuyingPower.Add(res.notional).Sub(actual)
	if adjusted.IsNegative() {
		adjusted = decimal.Zero
	}
	acct.state.BuyingPower = adjusted
	acct.mu.Unlock()

	side := enum.OrderSideBuy
	if res.qtyDelta < 0 {
		side = enum.OrderSideSell
	}
	return model.Fill{
		OrderID:   orderID,
		Symbol:    res.symbol,
		Side:      side,
		Quantity:  qty,
		Price:     fillPrice,
		AccountID: res.accountID,
		FilledAt:  time.Now().UTC(),
	}, nil
}

// AccountSnapshot returns a deep copy of one account's state.
func (e *Engine) AccountSnapshot(accountID string) (model.AccountState, bool) {
	acct := e.account(accountID)
	if acct == nil {
		return model.AccountState{}, false
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.state.Clone(), true
}

// Accounts lists the configured account IDs.
func (e *Engine) Accounts() []string {
	if e == nil {
		return nil
	}
	e.amu.Lock()
	defer e.amu.Unlock()
	out := make([]string, 0, len(e.accounts))
	for id := range e.accounts {
		out = append(out, id)
	}
	return out
}

// PendingReservations reports how many accepted orders await venue
// confirmation.
func (e *Engine) PendingReservations() int {
	if e == nil {
		return 0
	}
	e.rmu.Lock()
	defer e.rmu.Unlock()
	return len(e.reservations)
}

func (e *Engine) account(accountID string) *account {
	if e == nil {
		return nil
	}
	e.amu.Lock()
	acct := e.accounts[accountID]
	e.amu.Unlock()
	return acct
}

func (e *Engine) takeReservation(orderID string) (reservation, error) {
	e.rmu.Lock()
	res, ok := e.reservations[orderID]
	if ok {
		delete(e.reservations, orderID)
	}
	e.rmu.Unlock()
	if !ok {
		return reservation{}, exception.ErrUnknownReservation
	}
	return res, nil
}

// referencePrice resolves the notional price: the limit price when the
// order carries one, else the last traded price for the symbol.
func (e *Engine) referencePrice(order model.Order) (decimal.Decimal, bool) {
	if order.HasLimit && order.LimitPrice.IsPositive() {
		return order.LimitPrice, true
	}
	e.pmu.RLock()
	price, ok := e.lastPrice[order.Symbol]
	e.pmu.RUnlock()
	if !ok || !price.IsPositive() {
		return decimal.Decimal{}, false
	}
	return price, true
}

// rateLimited applies the per-account sliding window. Called under the
// account mutex.
func (e *Engine) rateLimited(acct *account) bool {
	if e.cfg.OrderRateLimit <= 0 || e.cfg.OrderRateWindow <= 0 {
		return false
	}
	now := time.Now()
	if acct.rateWindowStart.IsZero() || now.Sub(acct.rateWindowStart) >= e.cfg.OrderRateWindow {
		acct.rateWindowStart = now
		acct.rateCount = 0
	}
	acct.rateCount++
	return acct.rateCount > e.cfg.OrderRateLimit
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
