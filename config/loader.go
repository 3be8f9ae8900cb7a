package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration with defaults → YAML file → env precedence.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("lifeline.yaml").
//	    WithEnvPrefix("LIFELINE").
//	    Load()
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the default env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "LIFELINE"}
}

// WithConfigPath sets the YAML file to load. Empty means defaults only.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// applyEnv overrides the operationally relevant fields from environment
// variables, e.g. LIFELINE_REDIS_ADDR or LIFELINE_LOG_LEVEL.
func (l *Loader) applyEnv(cfg *Config) error {
	str := func(suffix string, dst *string) {
		if v, ok := os.LookupEnv(l.envPrefix + "_" + suffix); ok {
			*dst = v
		}
	}

	str("CACHE_BACKEND", &cfg.Cache.Backend)
	str("SQL_DRIVER", &cfg.Cache.SQL.Driver)
	str("SQL_DSN", &cfg.Cache.SQL.DSN)
	str("REDIS_ADDR", &cfg.Cache.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Cache.Redis.Password)
	str("ENDOFLIFE_URL", &cfg.Agents.EndOfLifeURL)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	var err error
	integer := func(suffix string, dst *int) {
		v, ok := os.LookupEnv(l.envPrefix + "_" + suffix)
		if !ok || err != nil {
			return
		}
		n, perr := strconv.Atoi(v)
		if perr != nil {
			err = fmt.Errorf("%s_%s: %w", l.envPrefix, suffix, perr)
			return
		}
		*dst = n
	}
	duration := func(suffix string, dst *time.Duration) {
		v, ok := os.LookupEnv(l.envPrefix + "_" + suffix)
		if !ok || err != nil {
			return
		}
		d, perr := time.ParseDuration(v)
		if perr != nil {
			err = fmt.Errorf("%s_%s: %w", l.envPrefix, suffix, perr)
			return
		}
		*dst = d
	}

	integer("REDIS_DB", &cfg.Cache.Redis.DB)
	integer("CACHE_L1_SIZE", &cfg.Cache.L1Size)
	integer("CACHE_PERSIST_THRESHOLD", &cfg.Cache.PersistThreshold)
	duration("CACHE_DEFAULT_TTL", &cfg.Cache.DefaultTTL)
	duration("CACHE_FAILURE_TTL", &cfg.Cache.FailureTTL)
	duration("AGENTS_SOURCE_TIMEOUT", &cfg.Agents.SourceTimeout)
	return err
}
