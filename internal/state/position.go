package state

import (
	"github.com/shopspring/decimal"

	"tradepulse/internal/journal"
	"tradepulse/internal/model"
	"tradepulse/internal/model/enum"
)

// Books rebuilds account state from snapshot and fill records. Buy fills
// add to the position and consume buying power at the fill notional; sell
// fills do the reverse. Unknown accounts are created on first sight so a
// journal from a richer config still replays cleanly.
type Books struct {
	accounts map[string]*model.AccountState
}

// NewBooks returns an empty reducer.
func NewBooks() *Books {
	return &Books{accounts: make(map[string]*model.AccountState)}
}

// ApplySnapshot replaces one account's state with a snapshot record.
func (b *Books) ApplySnapshot(rec journal.SnapshotRecord) {
	positions := make(map[string]int64, len(rec.Positions))
	for symbol, qty := range rec.Positions {
		positions[symbol] = qty
	}
	b.accounts[rec.AccountID] = &model.AccountState{
		AccountID:              rec.AccountID,
		BuyingPower:            rec.BuyingPower,
		Positions:              positions,
		MaxOrderSize:           rec.MaxOrderSize,
		PerSymbolExposureLimit: rec.PerSymbolExposureLimit,
	}
}

// ApplyFill folds one fill record into its account and returns the new
// position for the fill's symbol.
func (b *Books) ApplyFill(rec journal.FillRecord) int64 {
	acct := b.account(rec.AccountID)
	notional := rec.Price.Mul(decimal.NewFromInt(rec.Quantity))

	switch enum.ParseOrderSide(rec.Side) {
	case enum.OrderSideBuy:
		acct.Positions[rec.Symbol] += rec.Quantity
		acct.BuyingPower = acct.BuyingPower.Sub(notional)
		if acct.BuyingPower.IsNegative() {
			acct.BuyingPower = decimal.Zero
		}
	case enum.OrderSideSell:
		acct.Positions[rec.Symbol] -= rec.Quantity
		acct.BuyingPower = acct.BuyingPower.Add(notional)
	}
	return acct.Positions[rec.Symbol]
}

// Account returns a deep copy of one account's rebuilt state.
func (b *Books) Account(accountID string) (model.AccountState, bool) {
	acct, ok := b.accounts[accountID]
	if !ok {
		return model.AccountState{}, false
	}
	return acct.Clone(), true
}

// States returns deep copies of every rebuilt account.
func (b *Books) States() []model.AccountState {
	out := make([]model.AccountState, 0, len(b.accounts))
	for _, acct := range b.accounts {
		out = append(out, acct.Clone())
	}
	return out
}

// Count returns the number of tracked accounts.
func (b *Books) Count() int {
	return len(b.accounts)
}

func (b *Books) account(accountID string) *model.AccountState {
	if acct, ok := b.accounts[accountID]; ok {
		return acct
	}
	acct := &model.AccountState{
		AccountID: accountID,
		Positions: make(map[string]int64),
	}
	b.accounts[accountID] = acct
	return acct
}
