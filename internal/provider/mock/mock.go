package mock

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradepulse/internal/model"
	"tradepulse/internal/provider"
	"tradepulse/pkg/exception"
)

// ProviderID is the id stamped on every synthetic tick.
const ProviderID = "mock"

const (
	defaultBasePrice     = 100.0
	defaultMaxDeviation  = 5.0
	defaultVolatility    = 0.5
	defaultMeanReversion = 0.1
	defaultInterval      = 500 * time.Millisecond
	defaultVolumeMin     = 100
	defaultVolumeMax     = 1000
)

// Config controls the synthetic walk. Zero values fall back to defaults.
type Config struct {
	Symbols       []string
	BasePrice     float64
	MaxDeviation  float64
	Volatility    float64
	MeanReversion float64
	Interval      time.Duration
	Seed          int64
	VolumeMin     int64
	VolumeMax     int64
}

func (c Config) withDefaults() Config {
	if c.BasePrice <= 0 {
		c.BasePrice = defaultBasePrice
	}
	if c.MaxDeviation <= 0 {
		c.MaxDeviation = defaultMaxDeviation
	}
	if c.Volatility <= 0 {
		c.Volatility = defaultVolatility
	}
	if c.MeanReversion <= 0 {
		c.MeanReversion = defaultMeanReversion
	}
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.VolumeMin <= 0 {
		c.VolumeMin = defaultVolumeMin
	}
	if c.VolumeMax < c.VolumeMin {
		c.VolumeMax = c.VolumeMin + defaultVolumeMax
	}
	return c
}

// Provider synthesizes ticks with a mean-reverting random walk per symbol
// and accepts every order through the injected executor. It is the
// reference adapter used for deterministic tests: a non-zero Seed makes
// the whole stream reproducible.
type Provider struct {
	cfg  Config
	exec provider.Executor

	mu        sync.Mutex
	connected bool
	closed    bool
	symbols   []string
	prices    map[string]float64
	rng       *rand.Rand
}

func New(cfg Config, exec provider.Executor) *Provider {
	cfg = cfg.withDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UTC().UnixNano()
	}
	return &Provider{
		cfg:     cfg,
		exec:    exec,
		symbols: append([]string(nil), cfg.Symbols...),
		prices:  make(map[string]float64),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (p *Provider) Name() string {
	return ProviderID
}

// Connect is a no-op handshake. The mock never rejects credentials.
func (p *Provider) Connect(ctx context.Context, _ provider.Credentials) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = false
	p.connected = true
	return nil
}

// Stream emits one tick per symbol per interval until the context is
// cancelled or Disconnect is called.
func (p *Provider) Stream(ctx context.Context, sink provider.Sink) error {
	if sink == nil {
		return exception.ErrNilSink
	}
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return exception.ErrNotConnected
	}
	interval := p.cfg.Interval
	p.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := p.emitRound(now.UTC(), sink); err != nil {
				return err
			}
		}
	}
}

func (p *Provider) emitRound(now time.Time, sink provider.Sink) error {
	p.mu.Lock()
	if p.closed || !p.connected {
		p.mu.Unlock()
		return exception.ErrStreamClosed
	}
	ticks := make([]model.RawTick, 0, len(p.symbols))
	for _, symbol := range p.symbols {
		price := p.step(symbol)
		volume := p.cfg.VolumeMin + p.rng.Int63n(p.cfg.VolumeMax-p.cfg.VolumeMin+1)
		ticks = append(ticks, model.RawTick{
			Symbol:     symbol,
			Price:      decimal.NewFromFloat(price),
			Volume:     volume,
			Timestamp:  now,
			ProviderID: ProviderID,
		})
	}
	p.mu.Unlock()

	for _, tick := range ticks {
		sink(tick)
	}
	return nil
}

// step advances the symbol's walk: gaussian noise scaled by volatility,
// pulled back toward the base price, clamped to the deviation band.
func (p *Provider) step(symbol string) float64 {
	price, ok := p.prices[symbol]
	if !ok {
		price = p.cfg.BasePrice
	}

	price += p.rng.NormFloat64()*p.cfg.Volatility + p.cfg.MeanReversion*(p.cfg.BasePrice-price)

	low := p.cfg.BasePrice - p.cfg.MaxDeviation
	high := p.cfg.BasePrice + p.cfg.MaxDeviation
	if price < low {
		price = low
	}
	if price > high {
		price = high
	}
	price = math.Round(price*100) / 100

	p.prices[symbol] = price
	return price
}

// SubmitOrder accepts every order unconditionally via the paper executor.
func (p *Provider) SubmitOrder(ctx context.Context, order model.Order) (model.OrderResult, error) {
	if p.exec == nil {
		return model.OrderResult{}, exception.ErrOrderNilVenue
	}
	return p.exec.Execute(ctx, order)
}

func (p *Provider) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	p.closed = true
	return nil
}

// SetSymbols retargets the synthetic universe. Walk state for surviving
// symbols is kept so their price paths stay continuous.
func (p *Provider) SetSymbols(symbols []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.symbols = append([]string(nil), symbols...)
}

// Price returns the symbol's current walk value, for tests and the admin
// surface.
func (p *Provider) Price(symbol string) (decimal.Decimal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(price), true
}
