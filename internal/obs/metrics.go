package obs

import (
	"sync/atomic"
	"time"

	"tradepulse/internal/model/enum"
)

const (
	maxDropReason   = int(enum.DropReasonMalformedField)
	maxRejectReason = int(enum.RejectReasonUnknownAccount)
)

// Metrics collects lightweight counters and latency stats for the tick
// pipeline and the order path.
type Metrics struct {
	ticksAccepted uint64
	dropCounts    [maxDropReason + 1]uint64
	queueDrops    uint64
	queueClosed   uint64
	reconnects    uint64

	ordersAccepted uint64
	ordersRejected uint64
	ordersFilled   uint64
	rejectCounts   [maxRejectReason + 1]uint64

	tickLatency      LatencyStats
	riskEvalLatency  LatencyStats
	orderFlowLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	TicksAccepted uint64
	DropCounts    map[enum.DropReason]uint64
	QueueDrops    uint64
	QueueClosed   uint64
	Reconnects    uint64

	OrdersAccepted uint64
	OrdersRejected uint64
	OrdersFilled   uint64
	RejectCounts   map[enum.RejectReason]uint64

	TickLatency      LatencySnapshot
	RiskEvalLatency  LatencySnapshot
	OrderFlowLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveTickAccepted counts an accepted tick and tracks source-to-ingest
// latency when the delay is known.
func (m *Metrics) ObserveTickAccepted(delay time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ticksAccepted, 1)
	if delay >= 0 {
		m.tickLatency.Observe(delay)
	}
}

// IncDrop increments the drop counter for the given reason.
func (m *Metrics) IncDrop(reason enum.DropReason) {
	if m == nil {
		return
	}
	idx := int(reason)
	if idx >= 0 && idx < len(m.dropCounts) {
		atomic.AddUint64(&m.dropCounts[idx], 1)
	}
}

// IncQueueDrop records a full-queue publish drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncQueueClosed records a closed-queue publish attempt.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueClosed, 1)
}

// IncReconnect records a provider session restart.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.reconnects, 1)
}

// ObserveDecision counts a risk decision and its reject reason.
func (m *Metrics) ObserveDecision(outcome enum.Outcome, reason enum.RejectReason) {
	if m == nil {
		return
	}
	switch outcome {
	case enum.OutcomeAccepted:
		atomic.AddUint64(&m.ordersAccepted, 1)
	case enum.OutcomeRejected:
		atomic.AddUint64(&m.ordersRejected, 1)
		idx := int(reason)
		if idx >= 0 && idx < len(m.rejectCounts) {
			atomic.AddUint64(&m.rejectCounts[idx], 1)
		}
	}
}

// IncFill records a confirmed fill.
func (m *Metrics) IncFill() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersFilled, 1)
}

// ObserveRiskEval measures risk evaluation latency.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil {
		return
	}
	m.riskEvalLatency.Observe(d)
}

// ObserveOrderFlow measures end-to-end order flow latency.
func (m *Metrics) ObserveOrderFlow(d time.Duration) {
	if m == nil {
		return
	}
	m.orderFlowLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	dropCounts := make(map[enum.DropReason]uint64)
	for i := range m.dropCounts {
		if v := atomic.LoadUint64(&m.dropCounts[i]); v > 0 {
			dropCounts[enum.DropReason(i)] = v
		}
	}
	rejectCounts := make(map[enum.RejectReason]uint64)
	for i := range m.rejectCounts {
		if v := atomic.LoadUint64(&m.rejectCounts[i]); v > 0 {
			rejectCounts[enum.RejectReason(i)] = v
		}
	}
	return Snapshot{
		TicksAccepted:    atomic.LoadUint64(&m.ticksAccepted),
		DropCounts:       dropCounts,
		QueueDrops:       atomic.LoadUint64(&m.queueDrops),
		QueueClosed:      atomic.LoadUint64(&m.queueClosed),
		Reconnects:       atomic.LoadUint64(&m.reconnects),
		OrdersAccepted:   atomic.LoadUint64(&m.ordersAccepted),
		OrdersRejected:   atomic.LoadUint64(&m.ordersRejected),
		OrdersFilled:     atomic.LoadUint64(&m.ordersFilled),
		RejectCounts:     rejectCounts,
		TickLatency:      m.tickLatency.Snapshot(),
		RiskEvalLatency:  m.riskEvalLatency.Snapshot(),
		OrderFlowLatency: m.orderFlowLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
