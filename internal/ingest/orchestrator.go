package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"tradepulse/internal/bus"
	"tradepulse/internal/model"
	"tradepulse/internal/model/enum"
	"tradepulse/internal/normalize"
	"tradepulse/internal/obs"
	"tradepulse/internal/provider"
	"tradepulse/pkg/exception"
)

// Config defines the orchestrator runtime configuration.
type Config struct {
	Queue       *bus.Queue
	Normalizer  *normalize.Normalizer
	Metrics     *obs.Metrics
	Credentials provider.Credentials

	// Active names the adapter that receives order flow. Defaults to the
	// first registered adapter.
	Active  string
	Backoff Backoff
}

// Orchestrator owns the provider sessions: it connects each registered
// adapter, pushes every raw message through the normalizer into the tick
// queue, and reconnects dropped sessions with exponential backoff until
// stopped. Connection state lives here and nowhere else.
type Orchestrator struct {
	cfg Config

	mu       sync.Mutex
	sessions []*session
	byName   map[string]*session

	started atomic.Bool
	stopped atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type session struct {
	name    string
	adapter provider.Adapter
	state   atomic.Uint32
}

func (s *session) setState(next enum.FeedState) {
	prev := enum.FeedState(s.state.Swap(uint32(next)))
	if prev != next {
		logs.Infof("provider %s state %s -> %s", s.name, prev, next)
	}
}

func (s *session) currentState() enum.FeedState {
	return enum.FeedState(s.state.Load())
}

// New validates config and builds an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Queue == nil || cfg.Normalizer == nil {
		return nil, exception.ErrNilInstance
	}
	if cfg.Backoff.Min == 0 && cfg.Backoff.Max == 0 && cfg.Backoff.Factor == 0 && cfg.Backoff.Jitter == 0 {
		cfg.Backoff = DefaultBackoff()
	}
	return &Orchestrator{
		cfg:    cfg,
		byName: make(map[string]*session),
	}, nil
}

// Register adds an adapter before Start. Each adapter name is unique.
func (o *Orchestrator) Register(adapter provider.Adapter) error {
	if adapter == nil {
		return exception.ErrNilInstance
	}
	if o.started.Load() {
		return exception.ErrFeedStarted
	}

	name := adapter.Name()
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.byName[name]; ok {
		return exception.ErrDuplicateProvider
	}
	s := &session{name: name, adapter: adapter}
	s.state.Store(uint32(enum.FeedStateUnconfigured))
	o.sessions = append(o.sessions, s)
	o.byName[name] = s
	return nil
}

// Start launches one session goroutine per registered adapter and
// returns. Stop ends every session; Start cannot be called again.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	count := len(o.sessions)
	o.mu.Unlock()
	if count == 0 {
		return exception.ErrUnknownProvider
	}
	if !o.started.CompareAndSwap(false, true) {
		return exception.ErrFeedStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.mu.Lock()
	sessions := append([]*session(nil), o.sessions...)
	o.mu.Unlock()
	for _, s := range sessions {
		o.wg.Add(1)
		go o.runSession(runCtx, s)
	}
	return nil
}

// Stop cancels every session and waits for them to drain. Terminal.
func (o *Orchestrator) Stop() {
	if !o.started.Load() {
		return
	}
	if !o.stopped.CompareAndSwap(false, true) {
		return
	}
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) runSession(ctx context.Context, s *session) {
	defer o.wg.Done()
	defer s.setState(enum.FeedStateStopped)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		s.setState(enum.FeedStateConnecting)
		if err := s.adapter.Connect(ctx, o.cfg.Credentials); err != nil {
			logs.Errorf("connect provider %s, err: %+v", s.name, err)
			s.setState(enum.FeedStateDegraded)
			o.cfg.Metrics.IncReconnect()
			attempt++
			if !o.sleepBackoff(ctx, attempt) {
				return
			}
			continue
		}

		s.setState(enum.FeedStateStreaming)
		attempt = 0

		err := s.adapter.Stream(ctx, o.sink(s))
		_ = s.adapter.Disconnect()
		if ctx.Err() != nil {
			return
		}

		logs.Errorf("stream provider %s ended, err: %+v", s.name, err)
		s.setState(enum.FeedStateDegraded)
		o.cfg.Metrics.IncReconnect()
		attempt++
		if !o.sleepBackoff(ctx, attempt) {
			return
		}
	}
}

// sink normalizes each raw message inline on the session goroutine.
// Accepted ticks go to the queue without ever blocking; a full queue
// drops the tick and counts it.
func (o *Orchestrator) sink(s *session) provider.Sink {
	return func(raw model.RawTick) {
		tick, err := o.cfg.Normalizer.Normalize(raw)
		if err != nil {
			if reason, ok := normalize.DropReasonOf(err); ok {
				o.cfg.Metrics.IncDrop(reason)
				logs.Infof("drop tick symbol=%s provider=%s reason=%s", raw.Symbol, s.name, reason)
			} else {
				logs.Errorf("normalize tick symbol=%s provider=%s, err: %+v", raw.Symbol, s.name, err)
			}
			return
		}

		o.cfg.Metrics.ObserveTickAccepted(time.Since(tick.Timestamp))
		if err := o.cfg.Queue.TryPublish(tick); err != nil {
			switch {
			case errors.Is(err, bus.ErrQueueFull):
				o.cfg.Metrics.IncQueueDrop()
			case errors.Is(err, bus.ErrQueueClosed):
				o.cfg.Metrics.IncQueueClosed()
			}
		}
	}
}

func (o *Orchestrator) sleepBackoff(ctx context.Context, attempt int) bool {
	wait := o.cfg.Backoff.Next(attempt)
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Submit routes an order to the active provider.
func (o *Orchestrator) Submit(ctx context.Context, order model.Order) (model.OrderResult, error) {
	s := o.activeSession()
	if s == nil {
		return model.OrderResult{}, exception.ErrUnknownProvider
	}
	return s.adapter.SubmitOrder(ctx, order)
}

func (o *Orchestrator) activeSession() *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cfg.Active != "" {
		return o.byName[o.cfg.Active]
	}
	if len(o.sessions) > 0 {
		return o.sessions[0]
	}
	return nil
}

// SetSymbols retargets every adapter that supports live symbol updates.
func (o *Orchestrator) SetSymbols(symbols []string) {
	o.mu.Lock()
	sessions := append([]*session(nil), o.sessions...)
	o.mu.Unlock()
	for _, s := range sessions {
		if setter, ok := s.adapter.(provider.SymbolSetter); ok {
			setter.SetSymbols(symbols)
		}
	}
}

// ProviderState reports the session state for one adapter.
func (o *Orchestrator) ProviderState(name string) (enum.FeedState, bool) {
	o.mu.Lock()
	s := o.byName[name]
	o.mu.Unlock()
	if s == nil {
		return 0, false
	}
	return s.currentState(), true
}

// States snapshots every session state keyed by provider name.
func (o *Orchestrator) States() map[string]enum.FeedState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]enum.FeedState, len(o.sessions))
	for _, s := range o.sessions {
		out[s.name] = s.currentState()
	}
	return out
}

// State reduces the session states to one view: any degraded session
// degrades the whole feed, and the feed only streams when every session
// streams.
func (o *Orchestrator) State() enum.FeedState {
	o.mu.Lock()
	sessions := append([]*session(nil), o.sessions...)
	o.mu.Unlock()
	if len(sessions) == 0 {
		return enum.FeedStateUnconfigured
	}

	allStopped := true
	var anyDegraded, anyConnecting, anyStreaming bool
	for _, s := range sessions {
		st := s.currentState()
		if st != enum.FeedStateStopped {
			allStopped = false
		}
		switch st {
		case enum.FeedStateDegraded:
			anyDegraded = true
		case enum.FeedStateConnecting:
			anyConnecting = true
		case enum.FeedStateStreaming:
			anyStreaming = true
		}
	}

	switch {
	case allStopped:
		return enum.FeedStateStopped
	case anyDegraded:
		return enum.FeedStateDegraded
	case anyConnecting:
		return enum.FeedStateConnecting
	case anyStreaming:
		return enum.FeedStateStreaming
	default:
		return enum.FeedStateUnconfigured
	}
}
