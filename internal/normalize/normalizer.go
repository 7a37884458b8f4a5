package normalize

import (
	"errors"
	"fmt"
	"sync"

	"tradepulse/internal/model"
	"tradepulse/internal/model/enum"
)

// Drop is the error returned for every rejected raw tick. The reason is
// stable and countable; Detail names the offending field and value.
type Drop struct {
	Reason enum.DropReason
	Detail string
}

func (d *Drop) Error() string {
	return fmt.Sprintf("drop tick: %s (%s)", d.Reason, d.Detail)
}

// DropReasonOf extracts a drop reason, if err came from a normalizer drop.
func DropReasonOf(err error) (enum.DropReason, bool) {
	var drop *Drop
	if errors.As(err, &drop) {
		return drop.Reason, true
	}
	return 0, false
}

type sourceKey struct {
	symbol   string
	provider string
}

// Normalizer validates raw provider ticks into canonical ones. The only
// state is the last accepted timestamp per (symbol, provider), used to
// enforce strict timestamp monotonicity per source. Streams from different
// providers are never compared against each other.
type Normalizer struct {
	mu       sync.Mutex
	lastSeen map[sourceKey]int64
}

func NewNormalizer() *Normalizer {
	return &Normalizer{
		lastSeen: make(map[sourceKey]int64),
	}
}

// Normalize returns the validated tick or a *Drop error. The last-seen
// cache is updated only on acceptance, so a rejected tick never advances
// the ordering watermark.
func (n *Normalizer) Normalize(raw model.RawTick) (model.Tick, error) {
	if raw.Symbol == "" {
		return model.Tick{}, &Drop{Reason: enum.DropReasonMalformedField, Detail: "empty symbol"}
	}
	if raw.ProviderID == "" {
		return model.Tick{}, &Drop{Reason: enum.DropReasonMalformedField, Detail: "empty provider id"}
	}
	if raw.Timestamp.IsZero() {
		return model.Tick{}, &Drop{Reason: enum.DropReasonMalformedField, Detail: "zero timestamp, symbol " + raw.Symbol}
	}
	if raw.Volume < 0 {
		return model.Tick{}, &Drop{
			Reason: enum.DropReasonMalformedField,
			Detail: fmt.Sprintf("negative volume %d, symbol %s", raw.Volume, raw.Symbol),
		}
	}
	if !raw.Price.IsPositive() {
		return model.Tick{}, &Drop{
			Reason: enum.DropReasonNegativePrice,
			Detail: fmt.Sprintf("price %s, symbol %s", raw.Price, raw.Symbol),
		}
	}

	key := sourceKey{symbol: raw.Symbol, provider: raw.ProviderID}
	ts := raw.Timestamp.UTC().UnixNano()

	n.mu.Lock()
	defer n.mu.Unlock()

	if last, ok := n.lastSeen[key]; ok && ts <= last {
		return model.Tick{}, &Drop{
			Reason: enum.DropReasonStaleTimestamp,
			Detail: fmt.Sprintf("ts %d <= last %d, symbol %s, provider %s", ts, last, raw.Symbol, raw.ProviderID),
		}
	}
	n.lastSeen[key] = ts

	return model.Tick{
		Symbol:     raw.Symbol,
		Price:      raw.Price,
		Volume:     raw.Volume,
		Timestamp:  raw.Timestamp.UTC(),
		ProviderID: raw.ProviderID,
	}, nil
}
