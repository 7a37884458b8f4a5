package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one normalized market data observation. Immutable once built;
// the pipeline hands it downstream by value and never mutates it.
type Tick struct {
	Symbol     string
	Price      decimal.Decimal
	Volume     int64
	Timestamp  time.Time
	ProviderID string
}

// RawTick is adapter output before normalization. String fields keep the
// provider's own spelling so the normalizer can report what it rejected.
type RawTick struct {
	Symbol     string
	Price      decimal.Decimal
	Volume     int64
	Timestamp  time.Time
	ProviderID string
}
