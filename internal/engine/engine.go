// Package engine is the in-process facade over the vault: record submission,
// cross-shard reads, legacy migration, and consistency audits.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tidefall/newsvault/internal/clock"
	"github.com/tidefall/newsvault/internal/events"
	"github.com/tidefall/newsvault/internal/news"
	"github.com/tidefall/newsvault/internal/registry"
	"github.com/tidefall/newsvault/internal/store"
	"github.com/tidefall/newsvault/internal/validator"
)

// ListQuery narrows and pages a cross-shard listing.
type ListQuery struct {
	Source   string
	Category string
	Keyword  string
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// ShardStatus is one shard's on-disk footprint plus its row count.
type ShardStatus struct {
	Name      string
	Path      string
	SizeBytes int64
	RowCount  int
}

// IDSource mints batch IDs for emitted events.
type IDSource interface {
	NewRawID() (uuid.UUID, error)
}

// Config carries the engine's only policy decision.
type Config struct {
	// DuplicatePolicy applies uniformly to every submitted record.
	DuplicatePolicy store.DuplicatePolicy
}

// Engine wires the storage manager, validator, and event hub behind one
// facade. Construct it through app wiring; there are no globals.
type Engine struct {
	cfg       Config
	store     *store.Manager
	validator *validator.Validator
	hub       events.Emitter
	clock     clock.Clock
	ids       IDSource
	logger    *zap.Logger
}

// New assembles an Engine. The hub may be nil when no observer is wired.
func New(cfg Config, st *store.Manager, v *validator.Validator, hub events.Emitter, clk clock.Clock, ids IDSource, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if hub == nil {
		hub = noopEmitter{}
	}
	return &Engine{
		cfg:       cfg,
		store:     st,
		validator: v,
		hub:       hub,
		clock:     clk,
		ids:       ids,
		logger:    logger.Named("engine"),
	}
}

// SubmitRecord persists one record under the configured duplicate policy and
// returns its definite outcome. Event emission for saves belongs to the
// ingest pipeline, which knows the batch.
func (e *Engine) SubmitRecord(ctx context.Context, rec news.Record) (store.SaveResult, error) {
	return e.store.Save(ctx, rec, e.cfg.DuplicatePolicy)
}

// ListRecords returns one page of matching records plus the total distinct
// count under the same filter.
func (e *Engine) ListRecords(ctx context.Context, q ListQuery) ([]news.Record, int, error) {
	f := news.Filter{
		Source:   q.Source,
		Category: q.Category,
		Keyword:  q.Keyword,
		Since:    q.Since,
		Until:    q.Until,
	}
	recs, err := e.store.Query(ctx, f, store.AllShards, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := e.store.Count(ctx, f, store.AllShards)
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

// GetRecord fetches one record by URL or ID; anything carrying a scheme
// separator is treated as a URL. Returns store.ErrNotFound when absent.
func (e *Engine) GetRecord(ctx context.Context, idOrURL string) (news.Record, error) {
	if strings.Contains(idOrURL, "://") {
		return e.store.GetByURL(ctx, idOrURL)
	}
	return e.store.GetByID(ctx, idOrURL)
}

// TriggerMigration absorbs legacy shard files into the canonical directory.
// Shard pools are shut first so copied files are never replaced underneath
// open handles; they reopen lazily afterwards.
func (e *Engine) TriggerMigration(ctx context.Context) (registry.MigrationReport, error) {
	e.store.ResetPools()

	start := time.Now()
	report, err := e.store.Registry().Migrate(ctx)
	if err != nil {
		return report, fmt.Errorf("migration: %w", err)
	}

	batch := e.newBatchID()
	for _, res := range report.Results {
		e.hub.Emit(events.Event{
			BatchID: batch,
			TS:      e.clock.Now(),
			Stage:   events.StageMigrateFile,
			Shard:   res.Shard,
			Outcome: res.Outcome,
			Note:    res.Reason,
		})
	}
	e.hub.Emit(events.Event{
		BatchID: batch,
		TS:      e.clock.Now(),
		Stage:   events.StageMigrateDone,
		Rows:    int64(report.Migrated),
		Dur:     time.Since(start),
		Note:    report.ID,
	})
	e.logger.Info("migration finished",
		zap.String("report_id", report.ID),
		zap.Int("migrated", report.Migrated),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}

// ConsistencyReport audits every shard and emits the audit milestone.
func (e *Engine) ConsistencyReport(ctx context.Context) (validator.Report, error) {
	start := time.Now()
	report, err := e.validator.Analyze(ctx)
	if err != nil {
		return report, err
	}
	e.hub.Emit(events.Event{
		BatchID: e.newBatchID(),
		TS:      e.clock.Now(),
		Stage:   events.StageAnalyzeDone,
		Rows:    int64(report.TotalRows),
		Dur:     time.Since(start),
		Note:    report.ID,
	})
	return report, nil
}

// NearDuplicates reports advisory title-similarity findings.
func (e *Engine) NearDuplicates(ctx context.Context, threshold float64) ([]validator.NearDupPair, error) {
	return e.validator.NearDuplicates(ctx, threshold)
}

// ListShards reports every shard with its file footprint and row count.
func (e *Engine) ListShards(ctx context.Context) ([]ShardStatus, error) {
	infos, err := e.store.Registry().ListShards()
	if err != nil {
		return nil, err
	}
	statuses := make([]ShardStatus, 0, len(infos))
	for _, info := range infos {
		n, err := e.store.RowCount(ctx, info.Name)
		if err != nil {
			return nil, fmt.Errorf("count shard %s: %w", info.Name, err)
		}
		statuses = append(statuses, ShardStatus{
			Name:      info.Name,
			Path:      info.Path,
			SizeBytes: info.SizeBytes,
			RowCount:  n,
		})
	}
	return statuses, nil
}

// Close releases the storage manager. The event hub is owned by the caller
// that built it.
func (e *Engine) Close() error {
	return e.store.Close()
}

func (e *Engine) newBatchID() [16]byte {
	raw, err := e.ids.NewRawID()
	if err != nil {
		e.logger.Warn("batch id generation failed", zap.Error(err))
		return [16]byte{}
	}
	return events.UUIDToBytes(raw)
}

type noopEmitter struct{}

func (noopEmitter) Emit(events.Event) {}
