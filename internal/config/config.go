// Package config loads and validates engine configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Migration MigrationConfig `mapstructure:"migration"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Events    EventsConfig    `mapstructure:"events"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StorageConfig governs shard placement, pooling, and write behavior.
type StorageConfig struct {
	BaseDir           string `mapstructure:"base_dir"`
	PoolSize          int    `mapstructure:"pool_size"`
	CheckoutTimeoutMs int    `mapstructure:"checkout_timeout_ms"`
	BusyTimeoutMs     int    `mapstructure:"busy_timeout_ms"`
	MaxRetryAttempts  int    `mapstructure:"max_retry_attempts"`
	BackoffInitialMs  int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int    `mapstructure:"backoff_max_ms"`
	DuplicatePolicy   string `mapstructure:"duplicate_policy"`
	Routing           string `mapstructure:"routing"`
}

// MigrationConfig lists historical locations scanned for stray shard files.
type MigrationConfig struct {
	LegacyRoots []string `mapstructure:"legacy_roots"`
}

// IngestConfig sizes the record submission pipeline.
type IngestConfig struct {
	QueueDepth int `mapstructure:"queue_depth"`
	Workers    int `mapstructure:"workers"`
}

// EventsConfig tunes the vault event hub.
type EventsConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Duplicate policy and routing values recognized by Validate.
const (
	PolicySkipIfExists = "skip"
	PolicyReplace      = "replace"

	RouteBySource = "source"
	RouteCentral  = "central"
)

// SetDefaults registers every default on the given viper instance. It is the
// single authority for default values; the CLI bootstrap in pkg/config
// applies it to the global instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.base_dir", "data/vault")
	v.SetDefault("storage.pool_size", 4)
	v.SetDefault("storage.checkout_timeout_ms", 5000)
	v.SetDefault("storage.busy_timeout_ms", 5000)
	v.SetDefault("storage.max_retry_attempts", 3)
	v.SetDefault("storage.backoff_initial_ms", 100)
	v.SetDefault("storage.backoff_max_ms", 2000)
	v.SetDefault("storage.duplicate_policy", PolicySkipIfExists)
	v.SetDefault("storage.routing", RouteBySource)
	v.SetDefault("migration.legacy_roots", []string{})
	v.SetDefault("ingest.queue_depth", 1024)
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("events.buffer_size", 4096)
	v.SetDefault("events.max_batch_events", 500)
	v.SetDefault("events.max_batch_wait_ms", 500)
	v.SetDefault("logging.development", false)
}

// FromViper unmarshals and validates a Config from an already-populated viper
// instance. Defaults, config files, and environment bindings are the
// caller's responsibility.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load builds a Config from disk/environment on a fresh viper instance. It is
// the entry point for embedding the vault without the CLI's global viper.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	return FromViper(v)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Storage.BaseDir) == "" {
		return fmt.Errorf("storage.base_dir must be set")
	}
	if c.Storage.PoolSize <= 0 {
		return fmt.Errorf("storage.pool_size must be > 0")
	}
	if c.Storage.CheckoutTimeoutMs <= 0 {
		return fmt.Errorf("storage.checkout_timeout_ms must be > 0")
	}
	if c.Storage.BusyTimeoutMs < 0 {
		return fmt.Errorf("storage.busy_timeout_ms must be >= 0")
	}
	if c.Storage.MaxRetryAttempts < 1 {
		return fmt.Errorf("storage.max_retry_attempts must be >= 1")
	}
	if c.Storage.BackoffInitialMs <= 0 || c.Storage.BackoffMaxMs < c.Storage.BackoffInitialMs {
		return fmt.Errorf("storage backoff bounds must satisfy 0 < initial <= max")
	}
	switch c.Storage.DuplicatePolicy {
	case PolicySkipIfExists, PolicyReplace:
	default:
		return fmt.Errorf("storage.duplicate_policy must be %q or %q", PolicySkipIfExists, PolicyReplace)
	}
	switch c.Storage.Routing {
	case RouteBySource, RouteCentral:
	default:
		return fmt.Errorf("storage.routing must be %q or %q", RouteBySource, RouteCentral)
	}
	if c.Ingest.QueueDepth <= 0 {
		return fmt.Errorf("ingest.queue_depth must be > 0")
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be > 0")
	}
	return nil
}

// CheckoutTimeout converts the pool checkout bound into a duration.
func (c Config) CheckoutTimeout() time.Duration {
	return time.Duration(c.Storage.CheckoutTimeoutMs) * time.Millisecond
}

// BusyTimeout converts the SQLite busy wait into a duration.
func (c Config) BusyTimeout() time.Duration {
	return time.Duration(c.Storage.BusyTimeoutMs) * time.Millisecond
}

// BackoffInitial converts the first retry delay into a duration.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.Storage.BackoffInitialMs) * time.Millisecond
}

// BackoffMax converts the retry delay ceiling into a duration.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Storage.BackoffMaxMs) * time.Millisecond
}

// MaxBatchWait converts the hub flush interval into a duration.
func (c Config) MaxBatchWait() time.Duration {
	return time.Duration(c.Events.MaxBatchWaitMs) * time.Millisecond
}
