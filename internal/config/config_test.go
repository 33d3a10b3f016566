package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
storage:
  base_dir: /var/lib/newsvault/shards
  pool_size: 8
  checkout_timeout_ms: 2500
  busy_timeout_ms: 10000
  max_retry_attempts: 5
  backoff_initial_ms: 50
  backoff_max_ms: 800
  duplicate_policy: replace
  routing: central
migration:
  legacy_roots:
    - /data/old/db
    - /data/older/db
ingest:
  queue_depth: 128
  workers: 6
events:
  buffer_size: 512
  max_batch_wait_ms: 100
logging:
  development: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.BaseDir != "/var/lib/newsvault/shards" {
		t.Fatalf("unexpected base dir %q", cfg.Storage.BaseDir)
	}
	if cfg.Storage.PoolSize != 8 || cfg.Storage.MaxRetryAttempts != 5 {
		t.Fatalf("expected storage overrides to apply: %+v", cfg.Storage)
	}
	if cfg.Storage.DuplicatePolicy != PolicyReplace || cfg.Storage.Routing != RouteCentral {
		t.Fatalf("expected policy overrides to apply: %+v", cfg.Storage)
	}
	if len(cfg.Migration.LegacyRoots) != 2 || cfg.Migration.LegacyRoots[1] != "/data/older/db" {
		t.Fatalf("expected legacy roots to be loaded: %+v", cfg.Migration.LegacyRoots)
	}
	if cfg.Ingest.QueueDepth != 128 || cfg.Ingest.Workers != 6 {
		t.Fatalf("expected ingest overrides to apply: %+v", cfg.Ingest)
	}
	if cfg.Events.BufferSize != 512 || cfg.Events.MaxBatchEvents != 500 {
		t.Fatalf("expected partial events override to keep defaults: %+v", cfg.Events)
	}
	if !cfg.Logging.Development {
		t.Fatal("expected development logging enabled")
	}
	if got := cfg.CheckoutTimeout(); got != 2500*time.Millisecond {
		t.Fatalf("expected checkout timeout 2.5s, got %v", got)
	}
	if got := cfg.BusyTimeout(); got != 10*time.Second {
		t.Fatalf("expected busy timeout 10s, got %v", got)
	}
	if got := cfg.BackoffInitial(); got != 50*time.Millisecond {
		t.Fatalf("expected initial backoff 50ms, got %v", got)
	}
	if got := cfg.MaxBatchWait(); got != 100*time.Millisecond {
		t.Fatalf("expected batch wait 100ms, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.BaseDir != "data/vault" {
		t.Fatalf("expected default base dir, got %q", cfg.Storage.BaseDir)
	}
	if cfg.Storage.PoolSize != 4 {
		t.Fatalf("expected default pool size 4, got %d", cfg.Storage.PoolSize)
	}
	if cfg.Storage.DuplicatePolicy != PolicySkipIfExists {
		t.Fatalf("expected default skip policy, got %q", cfg.Storage.DuplicatePolicy)
	}
	if cfg.Storage.Routing != RouteBySource {
		t.Fatalf("expected default source routing, got %q", cfg.Storage.Routing)
	}
	if cfg.Ingest.Workers != 4 || cfg.Ingest.QueueDepth != 1024 {
		t.Fatalf("unexpected ingest defaults: %+v", cfg.Ingest)
	}
	if cfg.Events.BufferSize != 4096 || cfg.Events.MaxBatchEvents != 500 || cfg.Events.MaxBatchWaitMs != 500 {
		t.Fatalf("unexpected events defaults: %+v", cfg.Events)
	}
	if cfg.Logging.Development {
		t.Fatal("expected production logging by default")
	}
}

func TestFromViperRequiresValidValues(t *testing.T) {
	t.Parallel()

	v := viper.New()
	SetDefaults(v)
	v.Set("storage.pool_size", 0)
	if _, err := FromViper(v); err == nil || !strings.Contains(err.Error(), "storage.pool_size") {
		t.Fatalf("expected pool size validation error, got %v", err)
	}

	v = viper.New()
	SetDefaults(v)
	v.Set("storage.base_dir", "/var/lib/newsvault")
	cfg, err := FromViper(v)
	if err != nil {
		t.Fatalf("FromViper() error = %v", err)
	}
	if cfg.Storage.BaseDir != "/var/lib/newsvault" {
		t.Fatalf("expected override to survive unmarshal, got %q", cfg.Storage.BaseDir)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "empty base dir",
			cfg: func() Config {
				c := base
				c.Storage.BaseDir = "  "
				return c
			}(),
			want: "storage.base_dir",
		},
		{
			name: "invalid pool size",
			cfg: func() Config {
				c := base
				c.Storage.PoolSize = 0
				return c
			}(),
			want: "storage.pool_size",
		},
		{
			name: "invalid retry attempts",
			cfg: func() Config {
				c := base
				c.Storage.MaxRetryAttempts = 0
				return c
			}(),
			want: "storage.max_retry_attempts",
		},
		{
			name: "inverted backoff bounds",
			cfg: func() Config {
				c := base
				c.Storage.BackoffMaxMs = c.Storage.BackoffInitialMs - 1
				return c
			}(),
			want: "backoff",
		},
		{
			name: "unknown duplicate policy",
			cfg: func() Config {
				c := base
				c.Storage.DuplicatePolicy = "upsert"
				return c
			}(),
			want: "storage.duplicate_policy",
		},
		{
			name: "unknown routing",
			cfg: func() Config {
				c := base
				c.Storage.Routing = "broadcast"
				return c
			}(),
			want: "storage.routing",
		},
		{
			name: "invalid workers",
			cfg: func() Config {
				c := base
				c.Ingest.Workers = 0
				return c
			}(),
			want: "ingest.workers",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
