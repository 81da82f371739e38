// Package config handles loading and validating the optional eifl.yaml
// overlay. eifld runs with zero config — every setting here has a built-in
// default; eifl.yaml only overrides what's awkward to express as a single
// environment variable.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level eifl.yaml shape.
type Config struct {
	SchedulerTick   string   `yaml:"scheduler_tick"`
	DispatcherPoll  string   `yaml:"dispatcher_poll"`
	DefaultPageSize int      `yaml:"default_page_size"`
	MaxPageSize     int      `yaml:"max_page_size"`
	CORSOrigins     []string `yaml:"cors_origins"`

	// LeaderRetryInterval controls how often a non-leader replica retries
	// the Postgres advisory lock (internal/leader.Elector's retryInterval).
	// Operators running against a database with a slow network path may
	// want this looser than the 30s built-in default.
	LeaderRetryInterval string `yaml:"leader_retry_interval"`
}

// DefaultConfig returns built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		SchedulerTick:       "60s",
		DispatcherPoll:      "5s",
		DefaultPageSize:     20,
		MaxPageSize:         100,
		CORSOrigins:         []string{"*"},
		LeaderRetryInterval: "30s",
	}
}

// Load parses an eifl.yaml file and validates it. If path is empty, returns
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath finds the config file path. Priority: EIFL_CONFIG env var >
// ./eifl.yaml > "" (no config).
func ResolvePath() string {
	if p := os.Getenv("EIFL_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("eifl.yaml"); err == nil {
		return "eifl.yaml"
	}
	return ""
}

func (c *Config) validate() error {
	if c.DefaultPageSize <= 0 {
		return fmt.Errorf("default_page_size must be positive, got %d", c.DefaultPageSize)
	}
	if c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("max_page_size (%d) must be >= default_page_size (%d)", c.MaxPageSize, c.DefaultPageSize)
	}
	if _, err := c.ResolveLeaderRetryInterval(); err != nil {
		return fmt.Errorf("leader_retry_interval: %w", err)
	}
	return nil
}

// ResolveLeaderRetryInterval parses LeaderRetryInterval, which must be a
// positive Go duration.
func (c *Config) ResolveLeaderRetryInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.LeaderRetryInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", c.LeaderRetryInterval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %q", c.LeaderRetryInterval)
	}
	return d, nil
}
