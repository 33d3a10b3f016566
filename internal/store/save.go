package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tidefall/newsvault/internal/metrics"
	"github.com/tidefall/newsvault/internal/news"
	"github.com/tidefall/newsvault/internal/pool"
)

// Outcome of a completed save.
type Outcome string

// Save outcomes reported to crawler workers.
const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDuplicate Outcome = "duplicate"
)

// SaveResult is the definite per-record outcome a crawler worker receives.
type SaveResult struct {
	// Outcome is Accepted or Duplicate; errors are returned separately.
	Outcome Outcome
	// ID is the stored row's ID.
	ID string
	// Shard names the shard the record routed to.
	Shard string
	// Attempts counts tries including the successful one.
	Attempts int
}

const (
	insertRecord = `INSERT INTO news_records
		(id, title, content, url, source, category, pub_time, crawl_time,
		 author, keywords, images, related_stocks, sentiment, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	replaceRecord = `UPDATE news_records
		SET id = ?, title = ?, content = ?, source = ?, category = ?,
		    pub_time = ?, crawl_time = ?, author = ?, keywords = ?,
		    images = ?, related_stocks = ?, sentiment = ?, status = ?
		WHERE url = ?`

	selectIDByURL = `SELECT id FROM news_records WHERE url = ?`
)

// Save persists one record into its target shard under the given duplicate
// policy. The write runs in an immediate transaction, is verified by re-read
// after commit, and is retried with jittered backoff on lock contention.
func (m *Manager) Save(ctx context.Context, rec news.Record, policy DuplicatePolicy) (SaveResult, error) {
	if err := rec.Validate(); err != nil {
		return SaveResult{}, err
	}
	rec = rec.EnsureID()
	if rec.CrawlTime.IsZero() {
		rec.CrawlTime = m.clock.Now()
	}

	shard, err := m.targetShard(rec.Source)
	if err != nil {
		return SaveResult{}, fmt.Errorf("route record: %w", err)
	}
	p, err := m.shardPool(shard)
	if err != nil {
		return SaveResult{}, err
	}

	for attempt := 1; ; attempt++ {
		res, err := m.saveOnce(ctx, p, shard, rec, policy)
		if err == nil {
			res.Attempts = attempt
			return res, nil
		}
		if !m.retry.ShouldRetry(ctx, err, attempt) {
			return SaveResult{}, fmt.Errorf("save %s to shard %s: %w", rec.URL, shard, err)
		}
		metrics.AddSaveRetry(shard)
		wait := m.retry.Backoff(attempt)
		m.logger.Warn("shard write contended, backing off",
			zap.String("shard", shard),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return SaveResult{}, fmt.Errorf("save interrupted: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
}

// saveOnce runs a single upsert attempt: checkout, immediate transaction,
// duplicate check, write, commit, verification read. Rollback and release are
// guaranteed on every exit path.
func (m *Manager) saveOnce(ctx context.Context, p *pool.Pool, shard string, rec news.Record, policy DuplicatePolicy) (SaveResult, error) {
	var res SaveResult
	err := p.With(ctx, func(h *pool.Handle) error {
		db := h.DB()
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return classify(shard, fmt.Errorf("begin write transaction: %w", err))
		}
		committed := false
		defer func() {
			if committed {
				return
			}
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				m.logger.Warn("transaction rollback failed",
					zap.String("shard", shard), zap.Error(rbErr))
			}
		}()

		var existingID string
		lookupErr := tx.QueryRowContext(ctx, selectIDByURL, rec.URL).Scan(&existingID)
		switch {
		case lookupErr == nil && policy == SkipIfExists:
			// Existing row wins. The deferred rollback releases the write
			// lock without touching the file.
			res = SaveResult{Outcome: OutcomeDuplicate, ID: existingID, Shard: shard}
			return nil
		case lookupErr == nil:
			if err := execReplace(ctx, tx, rec); err != nil {
				return classify(shard, err)
			}
		case errors.Is(lookupErr, sql.ErrNoRows):
			if err := execInsert(ctx, tx, rec); err != nil {
				return classify(shard, err)
			}
		default:
			return classify(shard, fmt.Errorf("look up url: %w", lookupErr))
		}

		if err := tx.Commit(); err != nil {
			return classify(shard, fmt.Errorf("commit: %w", err))
		}
		committed = true

		// A retry after a successful commit would observe our own row and
		// misreport Duplicate, so nothing past this point may re-enter the
		// retry loop.
		var storedID string
		verifyErr := db.QueryRowContext(ctx, selectIDByURL, rec.URL).Scan(&storedID)
		if verifyErr != nil {
			if errors.Is(verifyErr, sql.ErrNoRows) {
				metrics.AddVerificationFailure(shard)
				return &VerificationError{Shard: shard, URL: rec.URL}
			}
			return fmt.Errorf("verification read: %w", verifyErr)
		}
		if storedID != rec.ID {
			metrics.AddVerificationFailure(shard)
			return &VerificationError{Shard: shard, URL: rec.URL}
		}
		res = SaveResult{Outcome: OutcomeAccepted, ID: rec.ID, Shard: shard}
		return nil
	})
	if err != nil {
		return SaveResult{}, err
	}
	return res, nil
}

func execInsert(ctx context.Context, tx *sql.Tx, rec news.Record) error {
	keywords, images, stocks, err := encodeLists(rec)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, insertRecord,
		rec.ID, rec.Title, rec.Content, rec.URL, rec.Source, rec.Category,
		nullableTime(rec.PubTime), nullableTime(rec.CrawlTime),
		rec.Author, keywords, images, stocks, rec.Sentiment, rec.Status,
	); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func execReplace(ctx context.Context, tx *sql.Tx, rec news.Record) error {
	keywords, images, stocks, err := encodeLists(rec)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, replaceRecord,
		rec.ID, rec.Title, rec.Content, rec.Source, rec.Category,
		nullableTime(rec.PubTime), nullableTime(rec.CrawlTime),
		rec.Author, keywords, images, stocks, rec.Sentiment, rec.Status,
		rec.URL,
	); err != nil {
		return fmt.Errorf("replace record: %w", err)
	}
	return nil
}

func encodeLists(rec news.Record) (string, string, string, error) {
	keywords, err := news.EncodeList(rec.Keywords)
	if err != nil {
		return "", "", "", fmt.Errorf("keywords: %w", err)
	}
	images, err := news.EncodeList(rec.Images)
	if err != nil {
		return "", "", "", fmt.Errorf("images: %w", err)
	}
	stocks, err := news.EncodeList(rec.RelatedStocks)
	if err != nil {
		return "", "", "", fmt.Errorf("related stocks: %w", err)
	}
	return keywords, images, stocks, nil
}

// nullableTime maps the zero time to NULL so undated rows sort after dated
// ones under pub_time DESC.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
