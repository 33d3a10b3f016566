package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tidefall/newsvault/internal/clock"
	"github.com/tidefall/newsvault/internal/events"
	"github.com/tidefall/newsvault/internal/news"
	"github.com/tidefall/newsvault/internal/store"
)

// Submitter is the slice of the engine the pipeline needs.
type Submitter interface {
	SubmitRecord(ctx context.Context, rec news.Record) (store.SaveResult, error)
}

// Stats totals one batch's outcomes.
type Stats struct {
	Accepted   int64
	Duplicates int64
	Failed     int64
}

// Config controls Pipeline behavior.
type Config struct {
	// Workers is the submit fan-out. Writers to one shard still serialize at
	// the database, so this mostly helps batches spread across sources.
	Workers int
}

// Pipeline drains a queue through Submitter workers, counting outcomes and
// emitting one event per record.
type Pipeline struct {
	cfg    Config
	queue  *Queue
	engine Submitter
	hub    events.Emitter
	clock  clock.Clock
	logger *zap.Logger
	batch  [16]byte

	accepted   atomic.Int64
	duplicates atomic.Int64
	failed     atomic.Int64
}

// New constructs a Pipeline for one batch.
func New(cfg Config, q *Queue, engine Submitter, hub events.Emitter, clk clock.Clock, batch uuid.UUID, logger *zap.Logger) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Pipeline{
		cfg:    cfg,
		queue:  q,
		engine: engine,
		hub:    hub,
		clock:  clk,
		logger: logger.Named("ingest"),
		batch:  events.UUIDToBytes(batch),
	}
}

// Run blocks until the queue is closed and drained, or the context ends, and
// returns the batch totals.
func (p *Pipeline) Run(ctx context.Context) Stats {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runWorker(ctx)
		}()
	}
	wg.Wait()
	return p.Stats()
}

// Stats reports the outcome totals so far.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Accepted:   p.accepted.Load(),
		Duplicates: p.duplicates.Load(),
		Failed:     p.failed.Load(),
	}
}

func (p *Pipeline) runWorker(ctx context.Context) {
	for {
		rec, err := p.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		p.process(ctx, rec)
	}
}

func (p *Pipeline) process(ctx context.Context, rec news.Record) {
	start := time.Now()
	res, err := p.engine.SubmitRecord(ctx, rec)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("record rejected",
			zap.String("url", rec.URL),
			zap.String("source", rec.Source),
			zap.Error(err))
		p.emit(events.Event{
			Stage:  events.StageSaveError,
			Source: sourceLabel(rec.Source),
			Dur:    time.Since(start),
			Note:   err.Error(),
		})
		return
	}

	if res.Outcome == store.OutcomeDuplicate {
		p.duplicates.Add(1)
	} else {
		p.accepted.Add(1)
	}
	p.logger.Debug("record stored",
		zap.String("shard", res.Shard),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("attempts", res.Attempts))
	p.emit(events.Event{
		Stage:   events.StageSaveDone,
		Shard:   res.Shard,
		Source:  sourceLabel(rec.Source),
		Outcome: string(res.Outcome),
		Dur:     time.Since(start),
	})
}

func (p *Pipeline) emit(evt events.Event) {
	if p.hub == nil {
		return
	}
	evt.BatchID = p.batch
	evt.TS = p.clock.Now()
	p.hub.Emit(evt)
}

// sourceLabel keeps event payloads valid for records that failed validation
// before a source was known.
func sourceLabel(source string) string {
	if source == "" {
		return "unknown"
	}
	return source
}
