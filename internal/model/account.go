package model

import "github.com/shopspring/decimal"

// AccountState is the risk view of one trading account. Exclusively owned
// by the risk engine; mutated only on order acceptance (reservation) and on
// confirmed fills or releases.
type AccountState struct {
	AccountID              string
	BuyingPower            decimal.Decimal
	Positions              map[string]int64
	MaxOrderSize           int64
	PerSymbolExposureLimit map[string]decimal.Decimal
}

// Clone returns a deep copy safe to hand outside the engine's lock.
func (a AccountState) Clone() AccountState {
	cp := a
	cp.Positions = make(map[string]int64, len(a.Positions))
	for k, v := range a.Positions {
		cp.Positions[k] = v
	}
	cp.PerSymbolExposureLimit = make(map[string]decimal.Decimal, len(a.PerSymbolExposureLimit))
	for k, v := range a.PerSymbolExposureLimit {
		cp.PerSymbolExposureLimit[k] = v
	}
	return cp
}
