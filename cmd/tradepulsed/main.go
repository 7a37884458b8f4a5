package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"tradepulse/internal/admin"
	"tradepulse/internal/bus"
	"tradepulse/internal/hub"
	"tradepulse/internal/ingest"
	"tradepulse/internal/instrument"
	"tradepulse/internal/journal"
	"tradepulse/internal/model"
	"tradepulse/internal/normalize"
	"tradepulse/internal/obs"
	"tradepulse/internal/ops"
	"tradepulse/internal/order"
	"tradepulse/internal/protocol"
	"tradepulse/internal/provider"
	"tradepulse/internal/provider/chaos"
	"tradepulse/internal/provider/mock"
	"tradepulse/internal/provider/restfeed"
	"tradepulse/internal/provider/wsfeed"
	"tradepulse/internal/risk"
	"tradepulse/internal/server"
	"tradepulse/internal/state"
	"tradepulse/internal/store"
	"tradepulse/internal/universe"
	"tradepulse/internal/venue"
	"tradepulse/pkg/conn"
)

const (
	defaultQueueCapacity = 8192
	configWatchInterval  = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	addr := flag.String("addr", "", "Override server listen address")
	flag.Parse()

	decimal.MarshalJSONWithoutQuotes = true

	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	runtime := ops.NewRuntime(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "tradepulsed",
			ServerAddress:   cfg.Profiling.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	startedAt := time.Now().UTC()
	metrics := obs.NewMetrics()
	traces := obs.NewTraceGenerator(uint64(startedAt.UnixNano()))
	normalizer := normalize.NewNormalizer()

	queueCapacity := cfg.Server.QueueCapacity
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}
	queue := bus.NewQueue(queueCapacity)
	h := hub.New(hub.DefaultQueueCapacity)

	engine := risk.NewEngine(cfg.Risk)
	for id, limits := range cfg.Accounts {
		engine.Configure(id, limits)
	}

	jnl := setupJournal(ctx, cfg, engine)
	if jnl != nil {
		defer func() { _ = jnl.Close() }()
	}

	master := setupInstruments(cfg)
	adapter, err := buildAdapter(cfg, engine, master)
	if err != nil {
		log.Fatalf("provider init failed: %v", err)
	}

	orch, err := ingest.New(ingest.Config{
		Queue:      queue,
		Normalizer: normalizer,
		Metrics:    metrics,
		Credentials: provider.Credentials{
			APIKey:    cfg.Provider.APIKey,
			APISecret: cfg.Provider.APISecret,
			Extra:     cfg.Provider.Extra,
		},
		Active:  adapter.Name(),
		Backoff: cfg.Provider.Backoff,
	})
	if err != nil {
		log.Fatalf("orchestrator init failed: %v", err)
	}
	if err := orch.Register(adapter); err != nil {
		log.Fatalf("provider register failed: %v", err)
	}

	recorder, closeStore := setupStore(ctx, cfg)
	defer closeStore()

	gateway, err := order.NewGateway(order.Config{
		Risk:          engine,
		Venue:         orch,
		Journal:       jnl,
		Store:         recorder,
		Metrics:       metrics,
		Traces:        traces,
		AccountID:     cfg.Server.Account,
		SubmitTimeout: cfg.Provider.SubmitTimeout,
	})
	if err != nil {
		log.Fatalf("order gateway init failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		queue.Run(ctx, func(tick model.Tick) {
			engine.ObservePrice(tick)
			if jnl != nil && cfg.Features.JournalTicks {
				if err := jnl.AppendTick(tick); err != nil {
					logs.Warnf("journal tick %s, err: %+v", tick.Symbol, err)
				}
			}
			payload, err := protocol.EncodeTick(tick)
			if err != nil {
				logs.Errorf("encode tick %s, err: %+v", tick.Symbol, err)
				return
			}
			h.Publish(tick.Symbol, payload)
		})
	}()

	manager := setupUniverse(cfg, engine, master, orch, h)
	if manager != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			manager.Run(ctx)
		}()
	}

	if err := orch.Start(ctx); err != nil {
		log.Fatalf("orchestrator start failed: %v", err)
	}

	if cfg.Admin.Socket != "" {
		adminSrv, err := admin.New(cfg.Admin.Socket, adminViews(runtime, startedAt, orch, engine, metrics, h, manager))
		if err != nil {
			log.Fatalf("admin socket init failed: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := adminSrv.Serve(ctx); err != nil {
				logs.Errorf("admin socket stopped, err: %+v", err)
			}
		}()
	}

	go ops.Watch(ctx, *configPath, configWatchInterval, func(next ops.Config) {
		runtime.Update(next)
		engine.SetKillSwitch(next.Risk.KillSwitch)
		if manager != nil && next.Universe != nil {
			manager.SetSpec(*next.Universe)
		}
	})

	srv, err := server.New(server.Config{Addr: cfg.Server.Addr, Hub: h, Gateway: gateway})
	if err != nil {
		log.Fatalf("server init failed: %v", err)
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logs.Errorf("server stopped, err: %+v", err)
	}

	stop()
	orch.Stop()
	queue.Close()
	wg.Wait()
	h.Close()

	writeShutdownSnapshot(cfg, engine, jnl)
	logs.Infof("shutdown complete")
}

// setupJournal recovers account state from the previous run and opens the
// journal for this one. Config limits win over snapshot limits; positions
// and buying power come from the replay.
func setupJournal(ctx context.Context, cfg ops.Config, engine *risk.Engine) *journal.Journal {
	if cfg.Journal.Dir == "" {
		return nil
	}

	result, err := state.Recover(ctx, state.RecoverConfig{
		JournalDir:   cfg.Journal.Dir,
		SnapshotPath: cfg.Journal.SnapshotPath,
	})
	if err != nil {
		log.Fatalf("state recovery failed: %v", err)
	}
	for _, acct := range result.Accounts {
		if limits, ok := cfg.Accounts[acct.AccountID]; ok {
			acct.MaxOrderSize = limits.MaxOrderSize
			acct.PerSymbolExposureLimit = limits.PerSymbolExposureLimit
		}
		engine.Restore(acct)
	}
	if result.Fills > 0 || result.LastSeq > 0 {
		logs.Infof("recovered %d accounts, %d fills replayed, last seq %d",
			len(result.Accounts), result.Fills, result.LastSeq)
	}

	jnl, err := journal.New(journal.DefaultConfig(cfg.Journal.Dir))
	if err != nil {
		log.Fatalf("journal init failed: %v", err)
	}
	jnl.SetSeq(result.LastSeq)
	if err := jnl.Start(ctx); err != nil {
		log.Fatalf("journal start failed: %v", err)
	}
	return jnl
}

func setupInstruments(cfg ops.Config) *instrument.Master {
	path := cfg.Provider.RestFeed.InstrumentsCSV
	if path == "" {
		return nil
	}
	master := instrument.NewMaster(path)
	if err := master.Load(); err != nil {
		log.Fatalf("instrument master load failed: %v", err)
	}
	logs.Infof("instrument master loaded %d symbols", master.Count())
	return master
}

func buildAdapter(cfg ops.Config, engine *risk.Engine, master *instrument.Master) (provider.Adapter, error) {
	var exec provider.Executor
	if cfg.Features.PaperVenue {
		exec = venue.NewPaper(venue.Config{}, engine.LastPrice)
	}

	spec := cfg.Provider
	registry := provider.NewRegistry()
	_ = registry.Register("mock", func() (provider.Adapter, error) {
		return mock.New(mock.Config{
			Symbols:       spec.Symbols,
			BasePrice:     spec.Mock.BasePrice,
			MaxDeviation:  spec.Mock.MaxDeviation,
			Volatility:    spec.Mock.Volatility,
			MeanReversion: spec.Mock.MeanReversion,
			Interval:      spec.MockInterval,
			Seed:          spec.Mock.Seed,
			VolumeMin:     spec.Mock.VolumeMin,
			VolumeMax:     spec.Mock.VolumeMax,
		}, exec), nil
	})
	_ = registry.Register("restfeed", func() (provider.Adapter, error) {
		resolve := func(symbol string) (string, bool) {
			if master == nil {
				return "", false
			}
			inst, ok := master.Resolve(symbol)
			if !ok {
				return "", false
			}
			return inst.QuoteToken(), true
		}
		return restfeed.New(restfeed.Config{
			BaseURL:  spec.RestFeed.BaseURL,
			Symbols:  spec.Symbols,
			Interval: spec.RestInterval,
		}, nil, exec, resolve), nil
	})
	_ = registry.Register("wsfeed", func() (provider.Adapter, error) {
		return wsfeed.New(wsfeed.Config{
			URL:     spec.WSFeed.URL,
			Symbols: spec.Symbols,
		}), nil
	})

	adapter, err := registry.Build(spec.Active)
	if err != nil {
		return nil, err
	}

	if spec.Chaos != nil {
		return chaos.Wrap(adapter, chaos.Config{
			Seed:            spec.Chaos.Seed,
			DropRate:        spec.Chaos.DropRate,
			DuplicateRate:   spec.Chaos.DuplicateRate,
			CorruptRate:     spec.Chaos.CorruptRate,
			ReorderWindow:   spec.Chaos.ReorderWindow,
			DisconnectAfter: spec.Chaos.DisconnectAfter,
		})
	}
	return adapter, nil
}

// setupStore opens the Postgres write-through when a DSN is configured.
func setupStore(ctx context.Context, cfg ops.Config) (order.Recorder, func()) {
	if cfg.Store.DSN == "" {
		return nil, func() {}
	}

	client, err := conn.Open(cfg.Store.DSN, conn.Config{})
	if err != nil {
		log.Fatalf("postgres connect failed: %v", err)
	}
	st, err := store.New(client, store.Config{})
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	if err := st.Start(ctx); err != nil {
		log.Fatalf("store start failed: %v", err)
	}
	return st, func() {
		st.Close()
		_ = client.Close()
	}
}

func setupUniverse(cfg ops.Config, engine *risk.Engine, master *instrument.Master, orch *ingest.Orchestrator, h *hub.Hub) *universe.Manager {
	if cfg.Universe == nil {
		return nil
	}

	field := func(symbol, name string) (any, bool) {
		switch name {
		case "price", "lastPrice":
			price, ok := engine.LastPrice(symbol)
			if !ok {
				return nil, false
			}
			return price, true
		default:
			if master == nil {
				return nil, false
			}
			return master.Field(symbol, name)
		}
	}

	retarget := func(symbols []string) {
		orch.SetSymbols(symbols)
	}

	broadcast := func(update universe.Update) {
		payload, err := protocol.EncodeUniverse(protocol.UniverseFrame{
			Added:     update.Added,
			Removed:   update.Removed,
			Universe:  update.Universe,
			Reason:    update.Reason,
			Timestamp: update.At.UnixMilli(),
		})
		if err != nil {
			logs.Errorf("encode universe frame, err: %+v", err)
			return
		}
		h.Broadcast(payload)
	}

	return universe.NewManager(*cfg.Universe, field, retarget, broadcast)
}

func adminViews(runtime *ops.Runtime, startedAt time.Time, orch *ingest.Orchestrator, engine *risk.Engine, metrics *obs.Metrics, h *hub.Hub, manager *universe.Manager) admin.Views {
	return admin.Views{
		Status: func() admin.StatusView {
			return admin.StatusView{
				StartedAt:      startedAt,
				ActiveProvider: runtime.Load().Provider.Active,
				FeedState:      orch.State(),
				Providers:      orch.States(),
				Clients:        h.ClientCount(),
				Pending:        engine.PendingReservations(),
				KillSwitch:     engine.KillSwitch(),
			}
		},
		Metrics: metrics.Snapshot,
		Universe: func() []string {
			if manager != nil {
				return manager.Current()
			}
			return runtime.Load().Provider.Symbols
		},
		Accounts: func() []model.AccountState {
			ids := engine.Accounts()
			out := make([]model.AccountState, 0, len(ids))
			for _, id := range ids {
				if snapshot, ok := engine.AccountSnapshot(id); ok {
					out = append(out, snapshot)
				}
			}
			return out
		},
	}
}

// writeShutdownSnapshot captures account books so the next start replays
// only the journal tail.
func writeShutdownSnapshot(cfg ops.Config, engine *risk.Engine, jnl *journal.Journal) {
	if jnl == nil || cfg.Journal.SnapshotPath == "" {
		return
	}

	ids := engine.Accounts()
	accounts := make([]model.AccountState, 0, len(ids))
	for _, id := range ids {
		if snapshot, ok := engine.AccountSnapshot(id); ok {
			accounts = append(accounts, snapshot)
		}
	}

	snapshot := state.BuildSnapshot(accounts, jnl.Seq())
	if err := state.WriteSnapshot(cfg.Journal.SnapshotPath, snapshot); err != nil {
		logs.Errorf("write shutdown snapshot, err: %+v", err)
		return
	}
	logs.Infof("snapshot written to %s at seq %d", cfg.Journal.SnapshotPath, snapshot.LastSeq)
}
