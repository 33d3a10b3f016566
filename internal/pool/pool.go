// Package pool bounds and reuses SQLite connections to one shard file.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	// Registers the sqlite3 driver used by every shard handle.
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/tidefall/newsvault/internal/metrics"
)

// Checkout failure modes surfaced to callers.
var (
	// ErrExhausted means no handle became free within the checkout timeout.
	// Callers may retry; the pool never grows past its configured size.
	ErrExhausted = errors.New("connection pool exhausted")
	// ErrClosed means the pool has been shut down; checkouts fail fast.
	ErrClosed = errors.New("connection pool is shut down")
)

const defaultCheckoutTimeout = 5 * time.Second

// Config controls pool sizing and the underlying SQLite handles.
type Config struct {
	// Shard names the pool in logs and metrics.
	Shard string
	// Path is the shard's canonical database file.
	Path string
	// Size bounds the number of simultaneously live handles.
	Size int
	// CheckoutTimeout bounds how long Checkout blocks when saturated.
	CheckoutTimeout time.Duration
	// BusyTimeoutMs is passed to SQLite so same-file writers queue briefly
	// before surfacing SQLITE_BUSY.
	BusyTimeoutMs int
	// InitStatements run on every freshly opened handle. They are idempotent
	// schema statements, so replacement handles see the same tables.
	InitStatements []string
}

// Handle is one reusable connection to the shard file. Each handle owns a
// dedicated *sql.DB capped at a single underlying connection, so a checked-out
// handle maps to exactly one file descriptor on the shard.
type Handle struct {
	db *sql.DB
}

// DB exposes the underlying database handle.
func (h *Handle) DB() *sql.DB {
	return h.db
}

func (h *Handle) probe(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

// Pool is a bounded free-list of handles to one shard file. A token channel
// performs admission control; free-list state is guarded by a single mutex.
type Pool struct {
	cfg    Config
	logger *zap.Logger
	openFn func() (*sql.DB, error)

	tokens   chan struct{}
	closedCh chan struct{}

	mu      sync.Mutex
	free    []*Handle
	created int
	inUse   int
	closed  bool
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Created int
	InUse   int
	Idle    int
}

// New constructs a pool for one shard file. No handle is opened until the
// first checkout.
func New(cfg Config, logger *zap.Logger) (*Pool, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("pool size must be > 0, got %d", cfg.Size)
	}
	if cfg.Path == "" {
		return nil, errors.New("pool requires a shard path")
	}
	if cfg.CheckoutTimeout <= 0 {
		cfg.CheckoutTimeout = defaultCheckoutTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	p := &Pool{
		cfg:      cfg,
		logger:   logger.Named("pool").With(zap.String("shard", cfg.Shard)),
		tokens:   make(chan struct{}, cfg.Size),
		closedCh: make(chan struct{}),
	}
	p.openFn = p.openSQLite
	for i := 0; i < cfg.Size; i++ {
		p.tokens <- struct{}{}
	}
	return p, nil
}

// Checkout returns a live handle, blocking up to the configured timeout when
// all handles are in use. A pooled handle is probed before reuse; a dead one
// is replaced transparently. After Shutdown, Checkout fails immediately with
// ErrClosed.
func (p *Pool) Checkout(ctx context.Context) (*Handle, error) {
	select {
	case <-p.closedCh:
		metrics.ObserveCheckout(p.cfg.Shard, metrics.CheckoutClosed)
		return nil, ErrClosed
	default:
	}

	timer := time.NewTimer(p.cfg.CheckoutTimeout)
	defer timer.Stop()

	select {
	case <-p.tokens:
	case <-p.closedCh:
		metrics.ObserveCheckout(p.cfg.Shard, metrics.CheckoutClosed)
		return nil, ErrClosed
	case <-ctx.Done():
		metrics.ObserveCheckout(p.cfg.Shard, metrics.CheckoutTimeout)
		return nil, fmt.Errorf("checkout canceled: %w", ctx.Err())
	case <-timer.C:
		metrics.ObserveCheckout(p.cfg.Shard, metrics.CheckoutTimeout)
		return nil, fmt.Errorf("checkout %s after %s: %w", p.cfg.Shard, p.cfg.CheckoutTimeout, ErrExhausted)
	}

	h, result, err := p.takeHandle(ctx)
	if err != nil {
		p.returnToken()
		return nil, err
	}
	metrics.ObserveCheckout(p.cfg.Shard, result)
	return h, nil
}

// With checks out a handle, runs fn, and releases the handle on every exit
// path, including panics inside fn.
func (p *Pool) With(ctx context.Context, fn func(h *Handle) error) error {
	h, err := p.Checkout(ctx)
	if err != nil {
		return err
	}
	defer p.Release(h)
	return fn(h)
}

// Release returns a handle to the free list. If the pool shut down while the
// handle was out, the handle is closed instead of pooled.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	p.inUse--
	inUse := p.inUse
	if p.closed {
		p.closeHandleLocked(h)
		p.mu.Unlock()
		metrics.SetPoolInUse(p.cfg.Shard, inUse)
		return
	}
	p.free = append(p.free, h)
	p.mu.Unlock()

	metrics.SetPoolInUse(p.cfg.Shard, inUse)
	p.tokens <- struct{}{}
}

// Shutdown closes idle handles and marks the pool terminal. Handles still
// checked out are closed as they are released.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.closedCh)
	for _, h := range p.free {
		p.closeHandleLocked(h)
	}
	p.free = nil
	p.mu.Unlock()

	p.logger.Debug("pool shut down")
}

// Stats reports current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Created: p.created, InUse: p.inUse, Idle: len(p.free)}
}

func (p *Pool) takeHandle(ctx context.Context) (*Handle, string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, "", ErrClosed
	}
	var h *Handle
	if n := len(p.free); n > 0 {
		h = p.free[n-1]
		p.free = p.free[:n-1]
	}
	p.mu.Unlock()

	if h != nil {
		probeErr := h.probe(ctx)
		if probeErr == nil {
			p.markInUse()
			return h, metrics.CheckoutReused, nil
		}
		p.logger.Warn("pooled connection failed liveness probe, replacing", zap.Error(probeErr))
		p.discard(h)
		fresh, err := p.openHandle(ctx)
		if err != nil {
			return nil, "", err
		}
		p.markInUse()
		return fresh, metrics.CheckoutReplaced, nil
	}

	fresh, err := p.openHandle(ctx)
	if err != nil {
		return nil, "", err
	}
	p.markInUse()
	return fresh, metrics.CheckoutFresh, nil
}

func (p *Pool) openHandle(ctx context.Context) (*Handle, error) {
	db, err := p.openFn()
	if err != nil {
		return nil, fmt.Errorf("open shard %s: %w", p.cfg.Shard, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("probe new shard connection %s: %w", p.cfg.Shard, err)
	}
	for _, stmt := range p.cfg.InitStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("init shard %s: %w", p.cfg.Shard, err)
		}
	}

	p.mu.Lock()
	p.created++
	p.mu.Unlock()
	metrics.AddHandleOpened(p.cfg.Shard)
	return &Handle{db: db}, nil
}

func (p *Pool) openSQLite() (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL&_txlock=immediate",
		p.cfg.Path, p.cfg.BusyTimeoutMs,
	)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	// One OS-level connection per handle; the pool, not database/sql,
	// decides how many exist.
	db.SetMaxOpenConns(1)
	return db, nil
}

func (p *Pool) markInUse() {
	p.mu.Lock()
	p.inUse++
	inUse := p.inUse
	p.mu.Unlock()
	metrics.SetPoolInUse(p.cfg.Shard, inUse)
}

func (p *Pool) discard(h *Handle) {
	p.mu.Lock()
	p.closeHandleLocked(h)
	p.mu.Unlock()
}

func (p *Pool) closeHandleLocked(h *Handle) {
	if err := h.db.Close(); err != nil {
		p.logger.Warn("closing shard connection failed", zap.Error(err))
	}
	p.created--
	metrics.AddHandleClosed(p.cfg.Shard)
}

func (p *Pool) returnToken() {
	select {
	case <-p.closedCh:
	default:
		p.tokens <- struct{}{}
	}
}
