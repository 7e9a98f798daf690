// Package config loads the bot configuration from a YAML file with
// environment variable overrides for secrets and deployment knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gridbot/grid"
	"gridbot/logger"
)

// ExchangeConfig selects and credentials the venue adapter.
type ExchangeConfig struct {
	// Type is "binance" or "paper".
	Type      string `yaml:"type"`
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	Testnet   bool   `yaml:"testnet"`
	// StreamURL, when set, enables the websocket order feed instead of
	// REST polling for fill detection.
	StreamURL string `yaml:"stream_url"`
}

// GateConfig bounds global exchange throughput and retries. Delay
// fields are plain numbers because YAML has no duration literal.
type GateConfig struct {
	CallsPerSecond float64 `yaml:"calls_per_second"`
	Burst          int     `yaml:"burst"`
	MaxAttempts    int     `yaml:"max_attempts"`
	MinDelayMs     int     `yaml:"min_delay_ms"`
	MaxDelayMs     int     `yaml:"max_delay_ms"`
	CallTimeoutSec int     `yaml:"call_timeout_sec"`
}

// MinDelay returns the configured minimum backoff delay.
func (g GateConfig) MinDelay() time.Duration { return time.Duration(g.MinDelayMs) * time.Millisecond }

// MaxDelay returns the configured backoff ceiling.
func (g GateConfig) MaxDelay() time.Duration { return time.Duration(g.MaxDelayMs) * time.Millisecond }

// CallTimeout returns the per-attempt deadline.
func (g GateConfig) CallTimeout() time.Duration {
	return time.Duration(g.CallTimeoutSec) * time.Second
}

// Config is the whole process configuration.
type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Gate     GateConfig     `yaml:"gate"`
	Grids    []grid.Config  `yaml:"grids"`

	DatabasePath  string `yaml:"database_path"`
	APIServerPort int    `yaml:"api_server_port"`
	LogLevel      string `yaml:"log_level"`
}

// Load reads the YAML file, applies env overrides and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Infof("[Config] Loaded %d grid instance(s) from %s", len(cfg.Grids), path)
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Exchange.Type == "" {
		c.Exchange.Type = "paper"
	}
	if c.Gate.CallsPerSecond <= 0 {
		c.Gate.CallsPerSecond = 10
	}
	if c.Gate.Burst <= 0 {
		c.Gate.Burst = 20
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/gridbot.db"
	}
	if c.APIServerPort <= 0 {
		c.APIServerPort = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	for i := range c.Grids {
		g := &c.Grids[i]
		if g.SpacingMode == "" {
			g.SpacingMode = grid.SpacingArithmetic
		}
		if g.TickIntervalSec > 0 {
			g.TickInterval = time.Duration(g.TickIntervalSec) * time.Second
		}
		if g.TickInterval <= 0 {
			g.TickInterval = 5 * time.Second
		}
	}
}

// applyEnvOverrides lets deployment env vars win over the file; API
// credentials in particular should come from the environment.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.Exchange.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("BINANCE_SECRET_KEY"); v != "" {
		c.Exchange.SecretKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("EXCHANGE_TYPE"); v != "" {
		c.Exchange.Type = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("API_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.APIServerPort = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
}

// Validate rejects configurations the engines cannot run with.
func (c *Config) Validate() error {
	switch c.Exchange.Type {
	case "paper":
	case "binance":
		if c.Exchange.APIKey == "" || c.Exchange.SecretKey == "" {
			return fmt.Errorf("%w: binance exchange requires api_key and secret_key", grid.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown exchange type %q", grid.ErrInvalidConfig, c.Exchange.Type)
	}

	if len(c.Grids) == 0 {
		return fmt.Errorf("%w: at least one grid instance is required", grid.ErrInvalidConfig)
	}
	seen := make(map[string]bool)
	for i := range c.Grids {
		g := &c.Grids[i]
		if seen[g.Symbol] {
			return fmt.Errorf("%w: duplicate grid symbol %s", grid.ErrInvalidConfig, g.Symbol)
		}
		seen[g.Symbol] = true
		// CenterPrice may be zero (derived from the market at start), so
		// validate against a stand-in and restore it.
		check := *g
		if check.CenterPrice <= 0 {
			check.CenterPrice = 1
		}
		if err := check.Validate(); err != nil {
			return fmt.Errorf("grid %s: %w", g.Symbol, err)
		}
	}
	return nil
}
