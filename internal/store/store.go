// Package store implements the multi-shard storage manager: routed, verified
// writes with bounded retry and cross-shard deduplicated reads.
package store

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tidefall/newsvault/internal/clock"
	"github.com/tidefall/newsvault/internal/metrics"
	"github.com/tidefall/newsvault/internal/pool"
	"github.com/tidefall/newsvault/internal/registry"
)

// DuplicatePolicy decides what happens when a submitted URL already exists in
// the target shard.
type DuplicatePolicy int

const (
	// SkipIfExists keeps the stored row and reports Duplicate.
	SkipIfExists DuplicatePolicy = iota
	// Replace overwrites the stored row in place and reports Accepted.
	Replace
)

func (p DuplicatePolicy) String() string {
	switch p {
	case Replace:
		return "replace"
	default:
		return "skip"
	}
}

// ParseDuplicatePolicy maps a configuration value to a DuplicatePolicy.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch s {
	case "skip", "":
		return SkipIfExists, nil
	case "replace":
		return Replace, nil
	default:
		return SkipIfExists, fmt.Errorf("unknown duplicate policy %q", s)
	}
}

// Routing selects the target shard for a save.
type Routing int

const (
	// RouteBySource writes each record to the shard named after its source.
	RouteBySource Routing = iota
	// RouteCentral funnels every record into the main shard.
	RouteCentral
)

// ParseRouting maps a configuration value to a Routing mode.
func ParseRouting(s string) (Routing, error) {
	switch s {
	case "source", "":
		return RouteBySource, nil
	case "central":
		return RouteCentral, nil
	default:
		return RouteBySource, fmt.Errorf("unknown routing mode %q", s)
	}
}

// Config controls pooling, write retry, and shard routing.
type Config struct {
	// PoolSize bounds live connections per shard.
	PoolSize int
	// CheckoutTimeout bounds how long a save or read waits for a connection.
	CheckoutTimeout time.Duration
	// BusyTimeout is handed to SQLite; same-shard writers queue this long
	// before surfacing a lock error.
	BusyTimeout time.Duration
	// MaxRetryAttempts bounds the backoff loop around lock contention.
	MaxRetryAttempts int
	// BackoffInitial and BackoffMax bound the jittered retry delays.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// Routing picks the target shard for saves.
	Routing Routing
}

// Shard schema, created idempotently on every fresh pool handle so replacement
// connections always see the same tables.
const createRecordsTable = `
CREATE TABLE IF NOT EXISTS news_records (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL,
	content        TEXT NOT NULL,
	url            TEXT NOT NULL UNIQUE,
	source         TEXT NOT NULL,
	category       TEXT NOT NULL DEFAULT '',
	pub_time       TIMESTAMP,
	crawl_time     TIMESTAMP,
	author         TEXT NOT NULL DEFAULT '',
	keywords       TEXT NOT NULL DEFAULT '[]',
	images         TEXT NOT NULL DEFAULT '[]',
	related_stocks TEXT NOT NULL DEFAULT '[]',
	sentiment      TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT ''
)`

func schemaStatements() []string {
	return []string{
		createRecordsTable,
		`CREATE INDEX IF NOT EXISTS idx_news_records_pub_time ON news_records(pub_time)`,
		`CREATE INDEX IF NOT EXISTS idx_news_records_source ON news_records(source)`,
		`CREATE INDEX IF NOT EXISTS idx_news_records_category ON news_records(category)`,
	}
}

// Manager owns one connection pool per shard and implements record ingestion
// and cross-shard reads. Shard pools are opened lazily on first use.
type Manager struct {
	cfg    Config
	reg    *registry.Registry
	logger *zap.Logger
	clock  clock.Clock
	retry  *retryPolicy

	mu     sync.Mutex
	pools  map[string]*pool.Pool
	closed bool
}

// New builds a Manager on top of the path registry. The registry stays the
// sole authority for shard placement; the manager never builds paths itself.
func New(cfg Config, reg *registry.Registry, clk clock.Clock, logger *zap.Logger) (*Manager, error) {
	if reg == nil {
		return nil, fmt.Errorf("store requires a path registry")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.CheckoutTimeout <= 0 {
		cfg.CheckoutTimeout = 5 * time.Second
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	metrics.Init()

	return &Manager{
		cfg:    cfg,
		reg:    reg,
		logger: logger.Named("store"),
		clock:  clk,
		retry:  newRetryPolicy(cfg.MaxRetryAttempts, cfg.BackoffInitial, cfg.BackoffMax),
		pools:  make(map[string]*pool.Pool),
	}, nil
}

// Registry exposes the path registry backing this manager.
func (m *Manager) Registry() *registry.Registry {
	return m.reg
}

// shardPool returns the pool for a shard slug, opening it on first use.
func (m *Manager) shardPool(slug string) (*pool.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if p, ok := m.pools[slug]; ok {
		return p, nil
	}
	path, err := m.reg.CanonicalPath(slug)
	if err != nil {
		return nil, fmt.Errorf("resolve shard %s: %w", slug, err)
	}
	p, err := pool.New(pool.Config{
		Shard:           slug,
		Path:            path,
		Size:            m.cfg.PoolSize,
		CheckoutTimeout: m.cfg.CheckoutTimeout,
		BusyTimeoutMs:   int(m.cfg.BusyTimeout / time.Millisecond),
		InitStatements:  schemaStatements(),
	}, m.logger)
	if err != nil {
		return nil, fmt.Errorf("open pool for shard %s: %w", slug, err)
	}
	m.pools[slug] = p
	return p, nil
}

// targetShard resolves the shard a record routes to under the configured mode.
func (m *Manager) targetShard(source string) (string, error) {
	if m.cfg.Routing == RouteCentral {
		return registry.MainShard, nil
	}
	return m.reg.Slug(source)
}

// CloseShard shuts down one shard's pool. The shard reopens lazily on the
// next operation that touches it.
func (m *Manager) CloseShard(name string) error {
	slug, err := m.reg.Slug(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	p, ok := m.pools[slug]
	if ok {
		delete(m.pools, slug)
	}
	m.mu.Unlock()
	if ok {
		p.Shutdown()
	}
	return nil
}

// ResetPools shuts down every shard pool so shard files can be replaced on
// disk. Migration calls this before copying legacy data; later operations
// reopen pools lazily.
func (m *Manager) ResetPools() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*pool.Pool)
	m.mu.Unlock()
	for _, p := range pools {
		p.Shutdown()
	}
}

// Close shuts down all pools and marks the manager terminal. Subsequent
// operations fail fast with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pools := m.pools
	m.pools = nil
	m.mu.Unlock()
	for _, p := range pools {
		p.Shutdown()
	}
	m.logger.Debug("storage manager closed")
	return nil
}
