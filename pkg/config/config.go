// Package config loads biolink settings from built-in defaults, an optional
// YAML file, a .env file and BIOLINK_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/codeGROOVE-dev/biolink/pkg/link"
)

// EnvPrefix prefixes every environment override, e.g. BIOLINK_DATABASE_DSN.
const EnvPrefix = "BIOLINK"

// Config is the full runtime configuration.
//
//nolint:govet // fieldalignment: intentional layout for readability
type Config struct {
	Database Database  `yaml:"database"`
	Runner   Runner    `yaml:"runner"`
	Fetch    Fetch     `yaml:"fetch"`
	Merge    Merge     `yaml:"merge"`
	Enrich   Enrich    `yaml:"enrich"`
	Metrics  Metrics   `yaml:"metrics"`
	Log      Log       `yaml:"log"`
	Networks []Network `yaml:"networks" ignored:"true"`
}

// Database selects the SQL backend.
type Database struct {
	Driver string `yaml:"driver" envconfig:"DRIVER"`
	DSN    string `yaml:"dsn" envconfig:"DSN"`
}

// Runner tunes the job queue.
type Runner struct {
	Schedule        string        `yaml:"schedule" envconfig:"SCHEDULE"`
	BatchSize       int           `yaml:"batch_size" envconfig:"BATCH_SIZE"`
	MaxAttempts     int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	BaseDelay       time.Duration `yaml:"base_delay" envconfig:"BASE_DELAY"`
	MaxDelay        time.Duration `yaml:"max_delay" envconfig:"MAX_DELAY"`
	MaxJitter       time.Duration `yaml:"max_jitter" envconfig:"MAX_JITTER"`
	DedupWindow     time.Duration `yaml:"dedup_window" envconfig:"DEDUP_WINDOW"`
	ClaimLease      time.Duration `yaml:"claim_lease" envconfig:"CLAIM_LEASE"`
	DefaultPriority int           `yaml:"default_priority" envconfig:"DEFAULT_PRIORITY"`
	MaxDepth        int           `yaml:"max_depth" envconfig:"MAX_DEPTH"`
}

// Fetch tunes page retrieval.
type Fetch struct {
	UserAgent    string        `yaml:"user_agent" envconfig:"USER_AGENT"`
	CacheDir     string        `yaml:"cache_dir" envconfig:"CACHE_DIR"`
	Timeout      time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	MaxBytes     int64         `yaml:"max_bytes" envconfig:"MAX_BYTES"`
	Retries      int           `yaml:"retries" envconfig:"RETRIES"`
	CacheTTL     time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
	MinHostDelay time.Duration `yaml:"min_host_delay" envconfig:"MIN_HOST_DELAY"`
}

// Merge tunes the merge engine.
type Merge struct {
	AutoPromote bool `yaml:"auto_promote" envconfig:"AUTO_PROMOTE"`
}

// Enrich tunes display name and avatar selection.
type Enrich struct {
	Priority          []string `yaml:"priority" envconfig:"PRIORITY"`
	OverwriteExisting bool     `yaml:"overwrite_existing" envconfig:"OVERWRITE_EXISTING"`
}

// Metrics configures the Prometheus endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr" envconfig:"ADDR"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// Network overrides link.DefaultScraperConfig for one source platform.
// Zero fields keep the default.
type Network struct {
	Enabled          *bool  `yaml:"enabled"`
	Name             string `yaml:"name"`
	Strategy         string `yaml:"strategy"`
	MaxConcurrent    int    `yaml:"max_concurrent"`
	MaxJobsPerMinute int    `yaml:"max_jobs_per_minute"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: Database{Driver: "sqlite", DSN: "biolink.db"},
		Runner: Runner{
			Schedule:    "@every 1m",
			BatchSize:   20,
			MaxAttempts: 3,
			BaseDelay:   30 * time.Second,
			MaxDelay:    30 * time.Minute,
			MaxJitter:   time.Second,
			DedupWindow: time.Hour,
			ClaimLease:  15 * time.Minute,
		},
		Fetch: Fetch{
			Timeout:      10 * time.Second,
			MaxBytes:     2 << 20,
			Retries:      2,
			CacheTTL:     24 * time.Hour,
			MinHostDelay: 500 * time.Millisecond,
		},
		Enrich: Enrich{Priority: []string{"linktree", "stan"}},
		Log:    Log{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver %q: want sqlite or postgres", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Runner.BatchSize <= 0 {
		return fmt.Errorf("runner.batch_size must be positive, got %d", c.Runner.BatchSize)
	}
	if c.Runner.MaxAttempts <= 0 {
		return fmt.Errorf("runner.max_attempts must be positive, got %d", c.Runner.MaxAttempts)
	}
	if c.Runner.MaxDelay < c.Runner.BaseDelay {
		return fmt.Errorf("runner.max_delay %s is below base_delay %s", c.Runner.MaxDelay, c.Runner.BaseDelay)
	}
	if c.Runner.ClaimLease <= 0 {
		return fmt.Errorf("runner.claim_lease must be positive, got %s", c.Runner.ClaimLease)
	}
	if c.Runner.MaxDepth < 0 {
		return fmt.Errorf("runner.max_depth must not be negative, got %d", c.Runner.MaxDepth)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return fmt.Errorf("log.format %q: want text or json", c.Log.Format)
	}

	seen := make(map[string]bool, len(c.Networks))
	for _, n := range c.Networks {
		if n.Name == "" {
			return errors.New("networks: entry without name")
		}
		if seen[n.Name] {
			return fmt.Errorf("networks: %s listed twice", n.Name)
		}
		seen[n.Name] = true
		if n.Strategy != "" && !slices.Contains([]string{link.PolicyAuto, link.PolicyStructured, link.PolicyAnchors}, n.Strategy) {
			return fmt.Errorf("networks.%s.strategy %q is not a known policy", n.Name, n.Strategy)
		}
		if n.MaxConcurrent < 0 || n.MaxJobsPerMinute < 0 {
			return fmt.Errorf("networks.%s: limits must not be negative", n.Name)
		}
	}
	return nil
}

// ScraperConfigs returns the configured networks laid over their defaults.
func (c *Config) ScraperConfigs() map[string]link.ScraperConfig {
	out := make(map[string]link.ScraperConfig, len(c.Networks))
	for _, n := range c.Networks {
		sc := link.DefaultScraperConfig(n.Name)
		if n.MaxConcurrent > 0 {
			sc.MaxConcurrent = n.MaxConcurrent
		}
		if n.MaxJobsPerMinute > 0 {
			sc.MaxJobsPerMinute = n.MaxJobsPerMinute
		}
		if n.Strategy != "" {
			sc.Strategy = n.Strategy
		}
		if n.Enabled != nil {
			sc.Enabled = *n.Enabled
		}
		out[n.Name] = sc
	}
	return out
}

// SlogLevel parses Level.
func (l Log) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return lvl, nil
}
