package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepulse/internal/bus"
	"tradepulse/internal/model"
	"tradepulse/internal/model/enum"
	"tradepulse/internal/normalize"
	"tradepulse/internal/obs"
	"tradepulse/internal/provider"
	"tradepulse/pkg/exception"
)

type sessionScript struct {
	connectErr error
	emit       []model.RawTick
	// err ends the stream after emitting; nil holds the stream open
	// until the context is cancelled.
	err error
}

type scriptAdapter struct {
	name    string
	scripts []sessionScript

	mu       sync.Mutex
	idx      int
	connects int
	submits  int
}

func (a *scriptAdapter) Name() string { return a.name }

func (a *scriptAdapter) Connect(ctx context.Context, creds provider.Credentials) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	sc := a.currentLocked()
	if sc.connectErr != nil {
		a.idx++
		return sc.connectErr
	}
	return nil
}

func (a *scriptAdapter) Stream(ctx context.Context, sink provider.Sink) error {
	a.mu.Lock()
	sc := a.currentLocked()
	a.idx++
	a.mu.Unlock()

	for _, raw := range sc.emit {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sink(raw)
	}
	if sc.err != nil {
		return sc.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (a *scriptAdapter) SubmitOrder(ctx context.Context, order model.Order) (model.OrderResult, error) {
	a.mu.Lock()
	a.submits++
	a.mu.Unlock()
	return model.OrderResult{OrderID: order.ID, Status: enum.OrderStatusFilled}, nil
}

func (a *scriptAdapter) Disconnect() error { return nil }

func (a *scriptAdapter) currentLocked() sessionScript {
	if a.idx >= len(a.scripts) {
		return sessionScript{}
	}
	return a.scripts[a.idx]
}

func (a *scriptAdapter) connectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

func (a *scriptAdapter) submitCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.submits
}

type tickCollector struct {
	mu    sync.Mutex
	ticks []model.Tick
}

func (c *tickCollector) accept(tick model.Tick) {
	c.mu.Lock()
	c.ticks = append(c.ticks, tick)
	c.mu.Unlock()
}

func (c *tickCollector) snapshot() []model.Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Tick(nil), c.ticks...)
}

func rawAt(symbol string, price string, offsetMillis int64) model.RawTick {
	return model.RawTick{
		Symbol:     symbol,
		Price:      decimal.RequireFromString(price),
		Volume:     100,
		Timestamp:  time.UnixMilli(1700000000000 + offsetMillis).UTC(),
		ProviderID: "script",
	}
}

func fastBackoff() Backoff {
	return Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newTestOrchestrator(t *testing.T, metrics *obs.Metrics, queueCap int) (*Orchestrator, *bus.Queue) {
	t.Helper()
	queue := bus.NewQueue(queueCap)
	o, err := New(Config{
		Queue:      queue,
		Normalizer: normalize.NewNormalizer(),
		Metrics:    metrics,
		Backoff:    fastBackoff(),
	})
	require.NoError(t, err)
	return o, queue
}

func TestNewRequiresPipeline(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, exception.ErrNilInstance)
}

func TestStartWithoutProviders(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, 8)
	require.ErrorIs(t, o.Start(context.Background()), exception.ErrUnknownProvider)
}

func TestRegisterGuards(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, 8)

	a := &scriptAdapter{name: "script"}
	require.NoError(t, o.Register(a))
	require.ErrorIs(t, o.Register(&scriptAdapter{name: "script"}), exception.ErrDuplicateProvider)

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()
	require.ErrorIs(t, o.Register(&scriptAdapter{name: "other"}), exception.ErrFeedStarted)
	require.ErrorIs(t, o.Start(context.Background()), exception.ErrFeedStarted)
}

func TestStreamFlowsThroughNormalizerToQueue(t *testing.T) {
	metrics := obs.NewMetrics()
	o, queue := newTestOrchestrator(t, metrics, 64)

	adapter := &scriptAdapter{
		name: "script",
		scripts: []sessionScript{{
			emit: []model.RawTick{
				rawAt("AAPL", "187.25", 0),
				rawAt("AAPL", "187.30", 100),
				rawAt("AAPL", "187.10", 50), // behind the watermark
				rawAt("AAPL", "-1", 200),
				rawAt("AAPL", "187.40", 300),
			},
		}},
	}
	require.NoError(t, o.Register(adapter))

	collector := &tickCollector{}
	go queue.Run(context.Background(), collector.accept)

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	waitUntil(t, func() bool { return len(collector.snapshot()) >= 3 })
	ticks := collector.snapshot()
	require.Len(t, ticks, 3)
	assert.True(t, ticks[0].Price.Equal(decimal.RequireFromString("187.25")))
	assert.True(t, ticks[1].Price.Equal(decimal.RequireFromString("187.30")))
	assert.True(t, ticks[2].Price.Equal(decimal.RequireFromString("187.40")))

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(3), snap.TicksAccepted)
	assert.Equal(t, uint64(1), snap.DropCounts[enum.DropReasonStaleTimestamp])
	assert.Equal(t, uint64(1), snap.DropCounts[enum.DropReasonNegativePrice])
}

func TestReconnectAfterStreamDrop(t *testing.T) {
	metrics := obs.NewMetrics()
	o, queue := newTestOrchestrator(t, metrics, 64)

	adapter := &scriptAdapter{
		name: "script",
		scripts: []sessionScript{
			{emit: []model.RawTick{rawAt("AAPL", "187.25", 0)}, err: exception.ErrStreamClosed},
			{emit: []model.RawTick{rawAt("AAPL", "187.30", 100)}},
		},
	}
	require.NoError(t, o.Register(adapter))

	collector := &tickCollector{}
	go queue.Run(context.Background(), collector.accept)

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	waitUntil(t, func() bool { return len(collector.snapshot()) >= 2 })
	waitUntil(t, func() bool {
		st, ok := o.ProviderState("script")
		return ok && st == enum.FeedStateStreaming
	})

	assert.GreaterOrEqual(t, adapter.connectCount(), 2)
	assert.GreaterOrEqual(t, metrics.Snapshot().Reconnects, uint64(1))
}

func TestConnectFailureRetriesUntilSuccess(t *testing.T) {
	o, _ := newTestOrchestrator(t, obs.NewMetrics(), 8)

	adapter := &scriptAdapter{
		name: "script",
		scripts: []sessionScript{
			{connectErr: exception.ErrProviderUnavailable},
			{connectErr: exception.ErrProviderUnavailable},
			{},
		},
	}
	require.NoError(t, o.Register(adapter))
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	waitUntil(t, func() bool {
		st, ok := o.ProviderState("script")
		return ok && st == enum.FeedStateStreaming
	})
	assert.GreaterOrEqual(t, adapter.connectCount(), 3)
}

func TestStopIsTerminal(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, 8)
	require.NoError(t, o.Register(&scriptAdapter{name: "script"}))
	require.NoError(t, o.Start(context.Background()))

	waitUntil(t, func() bool { return o.State() == enum.FeedStateStreaming })
	o.Stop()

	assert.Equal(t, enum.FeedStateStopped, o.State())
	st, ok := o.ProviderState("script")
	require.True(t, ok)
	assert.Equal(t, enum.FeedStateStopped, st)
}

func TestFullQueueDropsWithoutBlocking(t *testing.T) {
	metrics := obs.NewMetrics()
	o, _ := newTestOrchestrator(t, metrics, 1)

	var emit []model.RawTick
	for i := int64(0); i < 10; i++ {
		emit = append(emit, rawAt("AAPL", "187.25", i*10))
	}
	adapter := &scriptAdapter{name: "script", scripts: []sessionScript{{emit: emit}}}
	require.NoError(t, o.Register(adapter))

	// Nothing consumes the queue here. The session must keep going.
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	waitUntil(t, func() bool { return metrics.Snapshot().QueueDrops >= 9 })
	waitUntil(t, func() bool { return o.State() == enum.FeedStateStreaming })
	assert.Equal(t, uint64(10), metrics.Snapshot().TicksAccepted)
}

func TestSubmitRoutesToActiveProvider(t *testing.T) {
	queue := bus.NewQueue(8)
	o, err := New(Config{
		Queue:      queue,
		Normalizer: normalize.NewNormalizer(),
		Active:     "secondary",
		Backoff:    fastBackoff(),
	})
	require.NoError(t, err)

	primary := &scriptAdapter{name: "primary"}
	secondary := &scriptAdapter{name: "secondary"}
	require.NoError(t, o.Register(primary))
	require.NoError(t, o.Register(secondary))

	result, err := o.Submit(context.Background(), model.Order{ID: "ord-1"})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", result.OrderID)
	assert.Equal(t, 0, primary.submitCount())
	assert.Equal(t, 1, secondary.submitCount())
}

func TestSubmitWithoutProviders(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, 8)
	_, err := o.Submit(context.Background(), model.Order{ID: "ord-1"})
	require.ErrorIs(t, err, exception.ErrUnknownProvider)
}
