package chaos

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"tradepulse/internal/model"
	"tradepulse/internal/provider"
	"tradepulse/pkg/exception"
)

// Config controls fault injection. Rates are probabilities in [0, 1].
type Config struct {
	Seed            int64
	DropRate        float64
	DuplicateRate   float64
	CorruptRate     float64
	ReorderWindow   int
	DisconnectAfter int64
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return fmt.Errorf("duplicateRate must be between 0 and 1")
	}
	if c.CorruptRate < 0 || c.CorruptRate > 1 {
		return fmt.Errorf("corruptRate must be between 0 and 1")
	}
	if c.ReorderWindow < 0 {
		return fmt.Errorf("reorderWindow must be >= 0")
	}
	if c.DisconnectAfter < 0 {
		return fmt.Errorf("disconnectAfter must be >= 0")
	}
	return nil
}

// Provider wraps another adapter and injects faults into its stream:
// dropped, duplicated, corrupted and reordered ticks, plus forced stream
// drops every DisconnectAfter messages. Duplicates and reorders land in the
// normalizer as stale timestamps; corruption lands as malformed fields.
// A fixed Seed makes every run reproducible.
type Provider struct {
	inner provider.Adapter
	cfg   Config

	mu      sync.Mutex
	rng     *rand.Rand
	pending []model.RawTick
	seen    int64
}

func Wrap(inner provider.Adapter, cfg Config) (*Provider, error) {
	if inner == nil {
		return nil, exception.ErrNilInstance
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UTC().UnixNano()
	}
	return &Provider{
		inner: inner,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
	}, nil
}

func (p *Provider) Name() string {
	return p.inner.Name()
}

func (p *Provider) Connect(ctx context.Context, creds provider.Credentials) error {
	return p.inner.Connect(ctx, creds)
}

// Stream proxies the inner stream through the fault engine. A forced drop
// cancels the inner session and reports exception.ErrStreamClosed, exactly
// like a real upstream disconnect.
func (p *Provider) Stream(ctx context.Context, sink provider.Sink) error {
	if sink == nil {
		return exception.ErrNilSink
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tripped := false
	err := p.inner.Stream(sctx, func(raw model.RawTick) {
		p.mu.Lock()
		if p.cfg.DisconnectAfter > 0 && p.seen >= p.cfg.DisconnectAfter {
			p.mu.Unlock()
			return
		}
		p.seen++
		out := p.process(raw)
		trip := p.cfg.DisconnectAfter > 0 && p.seen >= p.cfg.DisconnectAfter
		p.mu.Unlock()

		for _, tick := range out {
			sink(tick)
		}
		if trip {
			tripped = true
			cancel()
		}
	})

	p.mu.Lock()
	rest := p.flush()
	p.seen = 0
	p.mu.Unlock()
	for _, tick := range rest {
		sink(tick)
	}

	if tripped {
		return exception.ErrStreamClosed
	}
	return err
}

func (p *Provider) SubmitOrder(ctx context.Context, order model.Order) (model.OrderResult, error) {
	return p.inner.SubmitOrder(ctx, order)
}

func (p *Provider) Disconnect() error {
	return p.inner.Disconnect()
}

// SetSymbols forwards the retarget when the inner adapter supports it.
func (p *Provider) SetSymbols(symbols []string) {
	if setter, ok := p.inner.(provider.SymbolSetter); ok {
		setter.SetSymbols(symbols)
	}
}

func (p *Provider) process(raw model.RawTick) []model.RawTick {
	if p.cfg.DropRate > 0 && p.rng.Float64() < p.cfg.DropRate {
		return nil
	}
	if p.cfg.CorruptRate > 0 && p.rng.Float64() < p.cfg.CorruptRate {
		raw = p.corrupt(raw)
	}

	if p.cfg.ReorderWindow <= 1 {
		return p.duplicate(raw)
	}
	p.pending = append(p.pending, raw)
	if len(p.pending) < p.cfg.ReorderWindow {
		return nil
	}
	idx := p.rng.Intn(len(p.pending))
	out := p.pending[idx]
	p.pending = append(p.pending[:idx], p.pending[idx+1:]...)
	return p.duplicate(out)
}

func (p *Provider) flush() []model.RawTick {
	if len(p.pending) == 0 {
		return nil
	}
	out := make([]model.RawTick, 0, len(p.pending))
	for len(p.pending) > 0 {
		idx := p.rng.Intn(len(p.pending))
		out = append(out, p.pending[idx])
		p.pending = append(p.pending[:idx], p.pending[idx+1:]...)
	}
	return out
}

func (p *Provider) duplicate(raw model.RawTick) []model.RawTick {
	out := []model.RawTick{raw}
	if p.cfg.DuplicateRate > 0 && p.rng.Float64() < p.cfg.DuplicateRate {
		out = append(out, raw)
	}
	return out
}

func (p *Provider) corrupt(raw model.RawTick) model.RawTick {
	switch p.rng.Intn(3) {
	case 0:
		raw.Symbol = ""
	case 1:
		raw.Price = raw.Price.Neg()
	default:
		raw.Volume = -raw.Volume - 1
	}
	return raw
}
