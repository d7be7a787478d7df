package config

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Watcher re-reads the config file on a fixed interval and publishes immutable
// snapshots. Readers always see a fully-formed Config, never partially-applied
// fields; a failed reload keeps the previous snapshot in place.
type Watcher struct {
	path     string
	interval time.Duration
	log      zerolog.Logger
	current  atomic.Pointer[Config]
}

// NewWatcher seeds the watcher with an already-loaded config.
func NewWatcher(path string, interval time.Duration, initial *Config, log zerolog.Logger) *Watcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	w := &Watcher{path: path, interval: interval, log: log}
	w.current.Store(initial)
	return w
}

// Snapshot returns the latest validated config.
func (w *Watcher) Snapshot() *Config {
	return w.current.Load()
}

// Run periodically reloads the file until the context is canceled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous snapshot")
				continue
			}
			w.current.Store(cfg)
		}
	}
}
