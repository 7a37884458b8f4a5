package journal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradepulse/internal/model"
	"tradepulse/internal/model/enum"
)

// TickRecord is the JSON payload of a tick sample record.
type TickRecord struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Volume     int64           `json:"volume"`
	Timestamp  int64           `json:"timestamp"`
	ProviderID string          `json:"providerId"`
}

// DecisionRecord is the JSON payload of a risk decision record. Exactly
// one is journaled per order, before any fill record for that order.
type DecisionRecord struct {
	OrderID   string          `json:"orderId"`
	AccountID string          `json:"accountId"`
	Outcome   string          `json:"outcome"`
	Reason    string          `json:"reason,omitempty"`
	Notional  decimal.Decimal `json:"notional"`
	DecidedAt int64           `json:"decidedAt"`
}

// FillRecord is the JSON payload of a confirmed execution record.
type FillRecord struct {
	OrderID   string          `json:"orderId"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	AccountID string          `json:"accountId"`
	FilledAt  int64           `json:"filledAt"`
}

// SnapshotRecord is the JSON payload of an account snapshot record.
// Recovery replays fills journaled after the latest snapshot.
type SnapshotRecord struct {
	AccountID              string                     `json:"accountId"`
	BuyingPower            decimal.Decimal            `json:"buyingPower"`
	Positions              map[string]int64           `json:"positions"`
	MaxOrderSize           int64                      `json:"maxOrderSize"`
	PerSymbolExposureLimit map[string]decimal.Decimal `json:"perSymbolExposureLimit,omitempty"`
}

// Journal is the typed append-only log for the order path: decisions,
// fills, account snapshots and tick samples. Appends never block;
// a full queue loses the record (the journal is at-least-once, not
// exactly-once, and downstream consumers dedup by order id).
type Journal struct {
	writer *Writer
	seq    atomic.Uint64
}

// New builds a journal on top of a segmented writer.
func New(cfg Config) (*Journal, error) {
	writer, err := NewWriter(cfg)
	if err != nil {
		return nil, err
	}
	return &Journal{writer: writer}, nil
}

// SetSeq advances the sequence counter. Crash recovery seeds it with the
// replayed journal's last sequence so new records continue past it.
func (j *Journal) SetSeq(seq uint64) {
	if current := j.seq.Load(); seq > current {
		j.seq.Store(seq)
	}
}

// Seq returns the last assigned sequence number.
func (j *Journal) Seq() uint64 {
	return j.seq.Load()
}

// Start launches the background writer.
func (j *Journal) Start(ctx context.Context) error {
	return j.writer.Start(ctx)
}

// Close flushes and stops the writer.
func (j *Journal) Close() error {
	return j.writer.Close()
}

// Err returns the first writer error, if any.
func (j *Journal) Err() error {
	return j.writer.Err()
}

// AppendTick journals one normalized tick sample.
func (j *Journal) AppendTick(tick model.Tick) error {
	return j.append(enum.EventKindTick, 0, tick.Timestamp, TickRecord{
		Symbol:     tick.Symbol,
		Price:      tick.Price,
		Volume:     tick.Volume,
		Timestamp:  tick.Timestamp.UnixMilli(),
		ProviderID: tick.ProviderID,
	})
}

// AppendDecision journals one risk decision.
func (j *Journal) AppendDecision(traceID uint64, d model.RiskDecision) error {
	record := DecisionRecord{
		OrderID:   d.OrderID,
		AccountID: d.AccountID,
		Outcome:   d.Outcome.String(),
		Notional:  d.Notional,
		DecidedAt: d.DecidedAt.UnixMilli(),
	}
	if d.Outcome == enum.OutcomeRejected {
		record.Reason = d.Reason.String()
	}
	return j.append(enum.EventKindDecision, traceID, d.DecidedAt, record)
}

// AppendFill journals one confirmed fill.
func (j *Journal) AppendFill(traceID uint64, f model.Fill) error {
	return j.append(enum.EventKindFill, traceID, f.FilledAt, FillRecord{
		OrderID:   f.OrderID,
		Symbol:    f.Symbol,
		Side:      f.Side.String(),
		Quantity:  f.Quantity,
		Price:     f.Price,
		AccountID: f.AccountID,
		FilledAt:  f.FilledAt.UnixMilli(),
	})
}

// AppendSnapshot journals one account state snapshot.
func (j *Journal) AppendSnapshot(state model.AccountState) error {
	return j.append(enum.EventKindSnapshot, 0, time.Now().UTC(), SnapshotRecord{
		AccountID:              state.AccountID,
		BuyingPower:            state.BuyingPower,
		Positions:              state.Positions,
		MaxOrderSize:           state.MaxOrderSize,
		PerSymbolExposureLimit: state.PerSymbolExposureLimit,
	})
}

func (j *Journal) append(kind enum.EventKind, traceID uint64, tsEvent time.Time, v any) error {
	payload, err := sonic.ConfigFastest.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal journal payload")
	}
	env := Envelope{
		Kind:    kind,
		Seq:     j.seq.Add(1),
		TsEvent: tsEvent.UnixNano(),
		TsRecv:  time.Now().UTC().UnixNano(),
		TraceID: traceID,
	}
	return j.writer.TryAppend(env, payload)
}

// DecodeTick parses a tick record payload.
func DecodeTick(payload []byte) (TickRecord, error) {
	var r TickRecord
	if err := sonic.ConfigFastest.Unmarshal(payload, &r); err != nil {
		return TickRecord{}, errors.Wrap(err, "decode tick record")
	}
	return r, nil
}

// DecodeDecision parses a decision record payload.
func DecodeDecision(payload []byte) (DecisionRecord, error) {
	var r DecisionRecord
	if err := sonic.ConfigFastest.Unmarshal(payload, &r); err != nil {
		return DecisionRecord{}, errors.Wrap(err, "decode decision record")
	}
	return r, nil
}

// DecodeFill parses a fill record payload.
func DecodeFill(payload []byte) (FillRecord, error) {
	var r FillRecord
	if err := sonic.ConfigFastest.Unmarshal(payload, &r); err != nil {
		return FillRecord{}, errors.Wrap(err, "decode fill record")
	}
	return r, nil
}

// DecodeSnapshot parses a snapshot record payload.
func DecodeSnapshot(payload []byte) (SnapshotRecord, error) {
	var r SnapshotRecord
	if err := sonic.ConfigFastest.Unmarshal(payload, &r); err != nil {
		return SnapshotRecord{}, errors.Wrap(err, "decode snapshot record")
	}
	return r, nil
}
