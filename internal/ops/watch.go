package ops

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"
)

// Runtime holds the currently active config behind an atomic value so the
// hot paths read it without locking. Only the reloadable subset (risk
// limits, kill switch, universe filters) is meant to change at runtime;
// wiring-level fields keep their boot values until restart.
type Runtime struct {
	v atomic.Value
}

// NewRuntime seeds the runtime view with the boot config.
func NewRuntime(cfg Config) *Runtime {
	var rt Runtime
	rt.v.Store(cfg)
	return &rt
}

// Load returns the active config.
func (r *Runtime) Load() Config {
	return r.v.Load().(Config)
}

// Update replaces the active config.
func (r *Runtime) Update(cfg Config) {
	r.v.Store(cfg)
}

// Watch polls the config file's mtime and reloads it on change, calling
// apply with each successfully loaded config. Reload failures keep the
// previous config and are logged, never fatal. Blocks until ctx is done.
func Watch(ctx context.Context, path string, interval time.Duration, apply func(Config)) {
	if path == "" || interval <= 0 || apply == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				logs.Warnf("config stat %s, err: %+v", path, err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logs.Errorf("config reload %s, err: %+v", path, err)
				continue
			}
			lastMod = info.ModTime()
			apply(cfg)
			logs.Infof("config reloaded from %s", path)
		}
	}
}
