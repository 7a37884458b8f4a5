package mock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepulse/internal/model"
	"tradepulse/internal/provider"
	"tradepulse/pkg/exception"
)

func testConfig() Config {
	return Config{
		Symbols:  []string{"AAPL", "TSLA"},
		Interval: time.Millisecond,
		Seed:     42,
	}
}

func collect(t *testing.T, p *Provider, want int) []model.RawTick {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		ticks []model.RawTick
	)

	done := make(chan error, 1)
	go func() {
		done <- p.Stream(ctx, func(tick model.RawTick) {
			mu.Lock()
			ticks = append(ticks, tick)
			if len(ticks) == want {
				cancel()
			}
			mu.Unlock()
		})
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not produce enough ticks")
	}

	mu.Lock()
	defer mu.Unlock()
	return ticks
}

func TestStreamRequiresConnect(t *testing.T) {
	p := New(testConfig(), nil)
	err := p.Stream(context.Background(), func(model.RawTick) {})
	require.ErrorIs(t, err, exception.ErrNotConnected)
}

func TestStreamEmitsWithinBand(t *testing.T) {
	p := New(testConfig(), nil)
	require.NoError(t, p.Connect(context.Background(), provider.Credentials{}))

	ticks := collect(t, p, 20)
	require.GreaterOrEqual(t, len(ticks), 20)

	for _, tick := range ticks {
		price, _ := tick.Price.Float64()
		assert.GreaterOrEqual(t, price, defaultBasePrice-defaultMaxDeviation)
		assert.LessOrEqual(t, price, defaultBasePrice+defaultMaxDeviation)
		assert.GreaterOrEqual(t, tick.Volume, int64(defaultVolumeMin))
		assert.LessOrEqual(t, tick.Volume, int64(defaultVolumeMax))
		assert.Equal(t, ProviderID, tick.ProviderID)
		assert.False(t, tick.Timestamp.IsZero())
	}
}

func TestStreamDeterministicWithSeed(t *testing.T) {
	first := collect(t, mustConnect(t, New(testConfig(), nil)), 10)
	second := collect(t, mustConnect(t, New(testConfig(), nil)), 10)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Truef(t, first[i].Price.Equal(second[i].Price), "tick %d: %s != %s", i, first[i].Price, second[i].Price)
		assert.Equal(t, first[i].Volume, second[i].Volume)
		assert.Equal(t, first[i].Symbol, second[i].Symbol)
	}
}

func TestDisconnectStopsStream(t *testing.T) {
	p := mustConnect(t, New(testConfig(), nil))

	done := make(chan error, 1)
	go func() {
		done <- p.Stream(context.Background(), func(model.RawTick) {})
	}()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, p.Disconnect())

	select {
	case err := <-done:
		require.ErrorIs(t, err, exception.ErrStreamClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after disconnect")
	}
}

func TestSetSymbolsRetargetsStream(t *testing.T) {
	cfg := testConfig()
	p := mustConnect(t, New(cfg, nil))
	p.SetSymbols([]string{"NVDA"})

	ticks := collect(t, p, 5)
	for _, tick := range ticks {
		assert.Equal(t, "NVDA", tick.Symbol)
	}
}

func mustConnect(t *testing.T, p *Provider) *Provider {
	t.Helper()
	require.NoError(t, p.Connect(context.Background(), provider.Credentials{}))
	return p
}
