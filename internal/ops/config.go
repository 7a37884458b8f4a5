package ops

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"

	"tradepulse/internal/ingest"
	"tradepulse/internal/risk"
	"tradepulse/internal/universe"
)

// FileConfig mirrors the JSON config layout. Durations are milliseconds
// in the file and resolved to time.Duration on load.
type FileConfig struct {
	Server    ServerConfig       `json:"server"`
	Provider  ProviderConfig     `json:"provider"`
	Risk      RiskConfig         `json:"risk"`
	Journal   JournalConfig      `json:"journal"`
	Store     StoreConfig        `json:"store"`
	Admin     AdminConfig        `json:"admin"`
	Universe  *UniverseConfig    `json:"universe"`
	Profiling ProfilingConfig    `json:"profiling"`
	Features  FeatureFlagsConfig `json:"features"`
}

// ServerConfig describes the client-facing websocket endpoint.
type ServerConfig struct {
	Addr          string `json:"addr"`
	Account       string `json:"account"`
	QueueCapacity int    `json:"queueCapacity"`
}

// ProviderConfig selects the active adapter and its inputs.
type ProviderConfig struct {
	Active      string            `json:"active"`
	Symbols     []string          `json:"symbols"`
	Credentials CredentialsConfig `json:"credentials"`

	Mock     MockConfig     `json:"mock"`
	RestFeed RestFeedConfig `json:"restfeed"`
	WSFeed   WSFeedConfig   `json:"wsfeed"`
	Chaos    *ChaosConfig   `json:"chaos"`

	BackoffMinMs int64 `json:"backoffMinMs"`
	BackoffMaxMs int64 `json:"backoffMaxMs"`

	SubmitTimeoutMs int64 `json:"submitTimeoutMs"`
}

// CredentialsConfig is the credentials reference. Values run through
// os.ExpandEnv so secrets stay out of the file ("${KOTAK_TOKEN}").
type CredentialsConfig struct {
	APIKey    string            `json:"apiKey"`
	APISecret string            `json:"apiSecret"`
	Extra     map[string]string `json:"extra"`
}

// MockConfig tunes the synthetic walk of the mock provider.
type MockConfig struct {
	BasePrice     float64 `json:"basePrice"`
	MaxDeviation  float64 `json:"maxDeviation"`
	Volatility    float64 `json:"volatility"`
	MeanReversion float64 `json:"meanReversion"`
	IntervalMs    int64   `json:"intervalMs"`
	Seed          int64   `json:"seed"`
	VolumeMin     int64   `json:"volumeMin"`
	VolumeMax     int64   `json:"volumeMax"`
}

// RestFeedConfig targets the polling quote feed.
type RestFeedConfig struct {
	BaseURL        string `json:"baseUrl"`
	IntervalMs     int64  `json:"intervalMs"`
	InstrumentsCSV string `json:"instrumentsCsv"`
}

// WSFeedConfig targets the websocket streaming feed.
type WSFeedConfig struct {
	URL string `json:"url"`
}

// ChaosConfig wraps the active adapter with fault injection when present.
type ChaosConfig struct {
	DropRate        float64 `json:"dropRate"`
	CorruptRate     float64 `json:"corruptRate"`
	DuplicateRate   float64 `json:"duplicateRate"`
	ReorderWindow   int     `json:"reorderWindow"`
	DisconnectAfter int64   `json:"disconnectAfter"`
	Seed            int64   `json:"seed"`
}

// RiskConfig seeds the risk engine and its per-account limits.
type RiskConfig struct {
	KillSwitch        bool                     `json:"killSwitch"`
	OrderRateLimit    int                      `json:"orderRateLimit"`
	OrderRateWindowMs int64                    `json:"orderRateWindowMs"`
	Accounts          map[string]AccountLimits `json:"accounts"`
}

// AccountLimits is one account's limit block.
type AccountLimits struct {
	BuyingPower            decimal.Decimal            `json:"buyingPower"`
	MaxOrderSize           int64                      `json:"maxOrderSize"`
	PerSymbolExposureLimit map[string]decimal.Decimal `json:"perSymbolExposureLimit"`
}

// JournalConfig locates the decision/fill journal. Empty dir disables it.
type JournalConfig struct {
	Dir          string `json:"dir"`
	SnapshotPath string `json:"snapshotPath"`
}

// StoreConfig enables the Postgres history write-through when a DSN is
// present.
type StoreConfig struct {
	DSN string `json:"dsn"`
}

// AdminConfig enables the local admin socket when a path is present.
type AdminConfig struct {
	Socket string `json:"socket"`
}

// UniverseConfig is the optional filter-driven symbol universe.
type UniverseConfig struct {
	Candidates        universe.CandidateSpec `json:"candidates"`
	Conditions        []universe.Condition   `json:"conditions"`
	RefreshIntervalMs int64                  `json:"refreshIntervalMs"`
	MaxSymbols        int                    `json:"maxSymbols"`
}

// ProfilingConfig enables continuous profiling.
type ProfilingConfig struct {
	Enabled       bool   `json:"enabled"`
	ServerAddress string `json:"serverAddress"`
}

// FeatureFlagsConfig captures optional runtime flags; absent means default.
type FeatureFlagsConfig struct {
	JournalTicks *bool `json:"journalTicks"`
	PaperVenue   *bool `json:"paperVenue"`
}

// FeatureFlags are resolved runtime flags.
type FeatureFlags struct {
	JournalTicks bool
	PaperVenue   bool
}

// Config is the resolved configuration ready for wiring.
type Config struct {
	Server    ServerConfig
	Provider  ProviderSpec
	Risk      risk.Config
	Accounts  map[string]risk.Limits
	Journal   JournalConfig
	Store     StoreConfig
	Admin     AdminConfig
	Universe  *universe.FilterSpec
	Profiling ProfilingConfig
	Features  FeatureFlags
}

// ProviderSpec is the resolved provider selection.
type ProviderSpec struct {
	Active        string
	Symbols       []string
	APIKey        string
	APISecret     string
	Extra         map[string]string
	Mock          MockConfig
	MockInterval  time.Duration
	RestFeed      RestFeedConfig
	RestInterval  time.Duration
	WSFeed        WSFeedConfig
	Chaos         *ChaosConfig
	Backoff       ingest.Backoff
	SubmitTimeout time.Duration
}

// Load reads a JSON config file and resolves it. Any validation failure
// is fatal to the caller at startup; a running process keeps its previous
// config on reload failure instead.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var file FileConfig
	if err := sonic.ConfigFastest.Unmarshal(data, &file); err != nil {
		return Config{}, err
	}
	return resolve(file)
}

func resolve(file FileConfig) (Config, error) {
	server, err := resolveServer(file.Server)
	if err != nil {
		return Config{}, err
	}
	providerSpec, err := resolveProvider(file.Provider)
	if err != nil {
		return Config{}, err
	}
	riskCfg, accounts, err := resolveRisk(file.Risk)
	if err != nil {
		return Config{}, err
	}
	universeSpec, err := resolveUniverse(file.Universe)
	if err != nil {
		return Config{}, err
	}
	if file.Profiling.Enabled && file.Profiling.ServerAddress == "" {
		return Config{}, fmt.Errorf("profiling.serverAddress is empty")
	}

	return Config{
		Server:    server,
		Provider:  providerSpec,
		Risk:      riskCfg,
		Accounts:  accounts,
		Journal:   file.Journal,
		Store:     file.Store,
		Admin:     file.Admin,
		Universe:  universeSpec,
		Profiling: file.Profiling,
		Features:  resolveFeatures(file.Features),
	}, nil
}

func resolveServer(cfg ServerConfig) (ServerConfig, error) {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Account == "" {
		return ServerConfig{}, fmt.Errorf("server.account is empty")
	}
	if cfg.QueueCapacity < 0 {
		return ServerConfig{}, fmt.Errorf("server.queueCapacity must be >= 0")
	}
	return cfg, nil
}

func resolveProvider(cfg ProviderConfig) (ProviderSpec, error) {
	if cfg.Active == "" {
		return ProviderSpec{}, fmt.Errorf("provider.active is empty")
	}
	switch cfg.Active {
	case "mock", "restfeed", "wsfeed":
	default:
		return ProviderSpec{}, fmt.Errorf("provider.active unknown: %s", cfg.Active)
	}
	if len(cfg.Symbols) == 0 {
		return ProviderSpec{}, fmt.Errorf("provider.symbols is empty")
	}
	if cfg.Active == "restfeed" && cfg.RestFeed.BaseURL == "" {
		return ProviderSpec{}, fmt.Errorf("provider.restfeed.baseUrl is empty")
	}
	if cfg.Active == "wsfeed" && cfg.WSFeed.URL == "" {
		return ProviderSpec{}, fmt.Errorf("provider.wsfeed.url is empty")
	}
	if cfg.Chaos != nil {
		for name, rate := range map[string]float64{
			"dropRate":      cfg.Chaos.DropRate,
			"corruptRate":   cfg.Chaos.CorruptRate,
			"duplicateRate": cfg.Chaos.DuplicateRate,
		} {
			if rate < 0 || rate > 1 {
				return ProviderSpec{}, fmt.Errorf("provider.chaos.%s must be within [0,1]", name)
			}
		}
		if cfg.Chaos.ReorderWindow < 0 {
			return ProviderSpec{}, fmt.Errorf("provider.chaos.reorderWindow must be >= 0")
		}
	}

	backoff := ingest.DefaultBackoff()
	if cfg.BackoffMinMs > 0 {
		backoff.Min = time.Duration(cfg.BackoffMinMs) * time.Millisecond
	}
	if cfg.BackoffMaxMs > 0 {
		backoff.Max = time.Duration(cfg.BackoffMaxMs) * time.Millisecond
	}
	if backoff.Max < backoff.Min {
		return ProviderSpec{}, fmt.Errorf("provider.backoffMaxMs must be >= backoffMinMs")
	}

	extra := make(map[string]string, len(cfg.Credentials.Extra))
	for k, v := range cfg.Credentials.Extra {
		extra[k] = os.ExpandEnv(v)
	}

	return ProviderSpec{
		Active:        cfg.Active,
		Symbols:       append([]string(nil), cfg.Symbols...),
		APIKey:        os.ExpandEnv(cfg.Credentials.APIKey),
		APISecret:     os.ExpandEnv(cfg.Credentials.APISecret),
		Extra:         extra,
		Mock:          cfg.Mock,
		MockInterval:  time.Duration(cfg.Mock.IntervalMs) * time.Millisecond,
		RestFeed:      cfg.RestFeed,
		RestInterval:  time.Duration(cfg.RestFeed.IntervalMs) * time.Millisecond,
		WSFeed:        cfg.WSFeed,
		Chaos:         cfg.Chaos,
		Backoff:       backoff,
		SubmitTimeout: time.Duration(cfg.SubmitTimeoutMs) * time.Millisecond,
	}, nil
}

func resolveRisk(cfg RiskConfig) (risk.Config, map[string]risk.Limits, error) {
	if len(cfg.Accounts) == 0 {
		return risk.Config{}, nil, fmt.Errorf("risk.accounts is empty")
	}
	if cfg.OrderRateLimit < 0 {
		return risk.Config{}, nil, fmt.Errorf("risk.orderRateLimit must be >= 0")
	}
	if cfg.OrderRateWindowMs < 0 {
		return risk.Config{}, nil, fmt.Errorf("risk.orderRateWindowMs must be >= 0")
	}

	accounts := make(map[string]risk.Limits, len(cfg.Accounts))
	for id, limits := range cfg.Accounts {
		if id == "" {
			return risk.Config{}, nil, fmt.Errorf("risk.accounts has an empty account id")
		}
		if limits.BuyingPower.IsNegative() {
			return risk.Config{}, nil, fmt.Errorf("risk.accounts.%s.buyingPower must be >= 0", id)
		}
		if limits.MaxOrderSize <= 0 {
			return risk.Config{}, nil, fmt.Errorf("risk.accounts.%s.maxOrderSize must be > 0", id)
		}
		for symbol, limit := range limits.PerSymbolExposureLimit {
			if limit.IsNegative() {
				return risk.Config{}, nil, fmt.Errorf("risk.accounts.%s.perSymbolExposureLimit.%s must be >= 0", id, symbol)
			}
		}
		accounts[id] = risk.Limits{
			BuyingPower:            limits.BuyingPower,
			MaxOrderSize:           limits.MaxOrderSize,
			PerSymbolExposureLimit: limits.PerSymbolExposureLimit,
		}
	}

	return risk.Config{
		KillSwitch:      cfg.KillSwitch,
		OrderRateLimit:  cfg.OrderRateLimit,
		OrderRateWindow: time.Duration(cfg.OrderRateWindowMs) * time.Millisecond,
	}, accounts, nil
}

func resolveUniverse(cfg *UniverseConfig) (*universe.FilterSpec, error) {
	if cfg == nil {
		return nil, nil
	}
	spec := universe.FilterSpec{
		Candidates:      cfg.Candidates,
		Conditions:      cfg.Conditions,
		RefreshInterval: time.Duration(cfg.RefreshIntervalMs) * time.Millisecond,
		MaxSymbols:      cfg.MaxSymbols,
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("universe: %w", err)
	}
	return &spec, nil
}

func resolveFeatures(cfg FeatureFlagsConfig) FeatureFlags {
	flags := FeatureFlags{
		JournalTicks: false,
		PaperVenue:   true,
	}
	if cfg.JournalTicks != nil {
		flags.JournalTicks = *cfg.JournalTicks
	}
	if cfg.PaperVenue != nil {
		flags.PaperVenue = *cfg.PaperVenue
	}
	return flags
}
