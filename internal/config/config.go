package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the ctrader engine.
type Config struct {
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Gateway Gateway `yaml:"gateway"`
	Stream  Stream  `yaml:"stream"`
	Risk    Risk    `yaml:"risk"`
	Sweep   Sweep   `yaml:"sweep"`
	Signals Signals `yaml:"signals"`
	Logging Logging `yaml:"logging"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	LedgerPath string `yaml:"ledger_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

// Gateway selects and tunes the venue adapter. Venue is "alpaca" or "sim".
type Gateway struct {
	Venue           string `yaml:"venue"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	SimFillDelayMs  int    `yaml:"sim_fill_delay_ms"`
}

// FillDelay returns the simulator fill delay as a duration.
func (g Gateway) FillDelay() time.Duration {
	return time.Duration(g.SimFillDelayMs) * time.Millisecond
}

// Stream configures the asynchronous order-update feed.
type Stream struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// Risk defines pre-trade limits. A zero value disables the corresponding
// check.
type Risk struct {
	MaxOrderQty     float64  `yaml:"max_order_qty"`
	MaxOrderValue   float64  `yaml:"max_order_value"`
	MaxPositionSize float64  `yaml:"max_position_size"`
	MaxOpenOrders   int      `yaml:"max_open_orders"`
	AllowedSymbols  []string `yaml:"allowed_symbols"`
}

// Sweep configures the periodic reconciliation worker.
type Sweep struct {
	Enabled       bool `yaml:"enabled"`
	IntervalSec   int  `yaml:"interval_sec"`
	StaleAfterSec int  `yaml:"stale_after_sec"`
}

// Interval returns the sweep period as a duration.
func (s Sweep) Interval() time.Duration {
	return time.Duration(s.IntervalSec) * time.Second
}

// StaleAfter returns the age past which a tracked order is re-queried.
func (s Sweep) StaleAfter() time.Duration {
	return time.Duration(s.StaleAfterSec) * time.Second
}

// Signals controls how strategy signals are turned into orders.
type Signals struct {
	DefaultOrderType string  `yaml:"default_order_type"`
	StrengthBase     float64 `yaml:"strength_base"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the built-in defaults: simulated venue, local data
// dir, reconciliation sweep on.
func DefaultConfig() *Config {
	return &Config{
		Server:  Server{Host: "0.0.0.0", Port: 8080},
		Storage: Storage{DataDir: "data", LedgerPath: "data/ctrader.db"},
		Alpaca:  Alpaca{BaseURL: "https://paper-api.alpaca.markets"},
		Gateway: Gateway{Venue: "sim", RateLimitPerMin: 200, SimFillDelayMs: 500},
		Sweep:   Sweep{Enabled: true, IntervalSec: 30, StaleAfterSec: 60},
		Signals: Signals{DefaultOrderType: "market"},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load layers the YAML file at path over the defaults, then applies
// environment variable overrides. An empty path skips the file and uses
// defaults plus environment only. A .env file in the working directory is
// loaded best-effort before the overrides are read.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CTRADER_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("CTRADER_LEDGER_PATH"); v != "" {
		cfg.Storage.LedgerPath = v
	}

	if v := os.Getenv("CTRADER_VENUE"); v != "" {
		cfg.Gateway.Venue = v
	}

	if v := os.Getenv("CTRADER_STREAM_URL"); v != "" {
		cfg.Stream.URL = v
		cfg.Stream.Enabled = true
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Canonical Alpaca SDK variables take highest priority.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
