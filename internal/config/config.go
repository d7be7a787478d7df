// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	Mode        string `yaml:"mode"` // "paper" or "live"
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Paper reports whether the bot simulates fills instead of submitting venue orders.
func (a App) Paper() bool { return a.Mode != "live" }

// Feed describes the spot price feed the candle pipeline consumes.
type Feed struct {
	Provider string `yaml:"provider"` // "stub" or "coinbase"
	Symbol   string `yaml:"symbol"`
	WSURL    string `yaml:"ws_url"`
}

// Venue holds connectivity for the binary-options exchange REST API.
type Venue struct {
	BaseURL          string `yaml:"base_url"`
	APIKey           string `yaml:"api_key"`
	SeriesTicker     string `yaml:"series_ticker"`
	PollIntervalMs   int    `yaml:"poll_interval_ms"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
}

// Strategy groups the UT-Bot indicator knobs and the stalk window.
type Strategy struct {
	Sensitivity       float64 `yaml:"sensitivity"`
	ATRPeriod         int     `yaml:"atr_period"`
	TimeframeSecs     int     `yaml:"timeframe_secs"`
	RecalcIntervalSec int     `yaml:"recalc_interval_secs"`
	MaxStalkMin       float64 `yaml:"max_stalk_post_signal_min"`
}

// Timeframe returns the candle bucket duration.
func (s Strategy) Timeframe() time.Duration {
	if s.TimeframeSecs <= 0 {
		return time.Minute
	}
	return time.Duration(s.TimeframeSecs) * time.Second
}

// Entry encodes the guard-chain thresholds evaluated on every decision tick.
type Entry struct {
	MaxFillsPerSession   int     `yaml:"max_fills_per_session"`
	MinMinutesToExpiry   float64 `yaml:"min_minutes_to_expiry"`
	VetoPriceCents       int     `yaml:"veto_price_cents"`
	MaxEntryPriceCents   int     `yaml:"max_entry_price_cents"`
	MaxOrderbookStaleSec float64 `yaml:"max_orderbook_stale_secs"`
}

// Risk encodes guard-rails for how much size the engine may take on.
type Risk struct {
	PaperStartBalance float64 `yaml:"paper_start_balance"`
	FlatFracPct       float64 `yaml:"flat_frac_pct"`
	MaxContractsLimit int     `yaml:"max_contracts_limit"`
	MaxDailyLoss      float64 `yaml:"max_daily_loss"`
}

// Settlement tunes the post-expiry verification state machine.
type Settlement struct {
	InitialDelaySecs  float64 `yaml:"initial_delay_secs"`
	RetryIntervalSecs float64 `yaml:"retry_interval_secs"`
	MaxRetries        int     `yaml:"max_retries"`
}

// State points at the durable files the bot owns across restarts.
type State struct {
	DedupPath  string `yaml:"dedup_path"`
	EventsPath string `yaml:"events_path"`
	HistoryDB  string `yaml:"history_db"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App        `yaml:"app"`
	Feed       Feed       `yaml:"feed"`
	Venue      Venue      `yaml:"venue"`
	Strategy   Strategy   `yaml:"strategy"`
	Entry      Entry      `yaml:"entry"`
	Risk       Risk       `yaml:"risk"`
	Settlement Settlement `yaml:"settlement"`
	State      State      `yaml:"state"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects parameter combinations the guard chain cannot operate on.
func (c *Config) Validate() error {
	if c.Strategy.Sensitivity <= 0 {
		return fmt.Errorf("strategy.sensitivity must be positive, got %v", c.Strategy.Sensitivity)
	}
	if c.Strategy.ATRPeriod <= 0 {
		return fmt.Errorf("strategy.atr_period must be positive, got %d", c.Strategy.ATRPeriod)
	}
	if c.Risk.FlatFracPct <= 0 || c.Risk.FlatFracPct >= 1 {
		return fmt.Errorf("risk.flat_frac_pct must be in (0,1), got %v", c.Risk.FlatFracPct)
	}
	if c.Entry.VetoPriceCents < 1 || c.Entry.MaxEntryPriceCents > 99 ||
		c.Entry.VetoPriceCents > c.Entry.MaxEntryPriceCents {
		return fmt.Errorf("entry price band [%d,%d] is not within [1,99]",
			c.Entry.VetoPriceCents, c.Entry.MaxEntryPriceCents)
	}
	if c.Venue.SeriesTicker == "" {
		return fmt.Errorf("venue.series_ticker is required")
	}
	return nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
