// Package config holds the engine configuration and its YAML/env loader.
//
// Precedence: defaults → YAML file → environment variables.
package config

import (
	"time"
)

// Config is the complete engine configuration.
type Config struct {
	// Cache configures both cache tiers.
	Cache CacheConfig `yaml:"cache"`

	// Agents configures source selection and dispatch.
	Agents AgentsConfig `yaml:"agents"`

	// Discovery configures background cache warming.
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Metrics configures the Prometheus namespace.
	Metrics MetricsConfig `yaml:"metrics"`

	// Log configures the zap logger.
	Log LogConfig `yaml:"log"`
}

// CacheConfig selects the durable backend and the cache knobs. The
// persistence threshold and failure TTL are operational values and therefore
// configuration, not constants.
type CacheConfig struct {
	// Backend is "sql", "redis" or "none" (L1-only).
	Backend string `yaml:"backend"`

	// L1Size caps the ephemeral tier.
	L1Size int `yaml:"l1_size"`

	// DefaultTTL is the entry lifetime from creation or verification.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// FailureTTL is the (short) lifetime of a negative entry.
	FailureTTL time.Duration `yaml:"failure_ttl"`

	// PersistThreshold is the minimum confidence for a durable write.
	PersistThreshold int `yaml:"persist_threshold"`

	// SweepInterval drives the expired-entry sweep.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// SQL configures the "sql" backend.
	SQL SQLConfig `yaml:"sql"`

	// Redis configures the "redis" backend.
	Redis RedisConfig `yaml:"redis"`
}

// SQLConfig selects the relational backend.
type SQLConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
}

// AgentsConfig configures dispatch fan-out.
type AgentsConfig struct {
	// SourceTimeout bounds each individual source call.
	SourceTimeout time.Duration `yaml:"source_timeout"`

	// HistorySize bounds the response history buffer.
	HistorySize int `yaml:"history_size"`

	// RatePerSource limits calls per second against one source.
	RatePerSource float64 `yaml:"rate_per_source"`

	// RateBurst is the per-source burst allowance.
	RateBurst int `yaml:"rate_burst"`

	// Workers bounds fan-out concurrency.
	Workers int `yaml:"workers"`

	// QueueSize bounds pending fan-out tasks.
	QueueSize int `yaml:"queue_size"`

	// EndOfLifeURL overrides the endoflife.date endpoint (tests, mirrors).
	EndOfLifeURL string `yaml:"endoflife_url"`
}

// DiscoveryConfig configures background warming.
type DiscoveryConfig struct {
	Enabled             bool          `yaml:"enabled"`
	FullInterval        time.Duration `yaml:"full_interval"`
	IncrementalInterval time.Duration `yaml:"incremental_interval"`
	HistorySize         int           `yaml:"history_size"`
}

// MetricsConfig configures metric registration.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format: json or console.
	Format string `yaml:"format"`
	// OutputPaths, defaulting to stderr.
	OutputPaths []string `yaml:"output_paths"`
}

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Backend:          "sql",
			L1Size:           1024,
			DefaultTTL:       30 * 24 * time.Hour,
			FailureTTL:       6 * time.Hour,
			PersistThreshold: 80,
			SweepInterval:    10 * time.Minute,
			SQL: SQLConfig{
				Driver: "sqlite",
				DSN:    "lifeline.db",
			},
			Redis: RedisConfig{
				Addr:         "localhost:6379",
				PoolSize:     10,
				MinIdleConns: 2,
			},
		},
		Agents: AgentsConfig{
			SourceTimeout: 10 * time.Second,
			HistorySize:   100,
			RatePerSource: 5,
			RateBurst:     10,
			Workers:       16,
			QueueSize:     64,
		},
		Discovery: DiscoveryConfig{
			Enabled:             false,
			FullInterval:        24 * time.Hour,
			IncrementalInterval: 5 * time.Minute,
			HistorySize:         50,
		},
		Metrics: MetricsConfig{
			Namespace: "lifeline",
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stderr"},
		},
	}
}
