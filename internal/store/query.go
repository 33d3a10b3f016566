package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tidefall/newsvault/internal/metrics"
	"github.com/tidefall/newsvault/internal/news"
	"github.com/tidefall/newsvault/internal/pool"
)

// AllShards selects every known shard; results are merged in registry order
// and deduplicated by URL before paging.
const AllShards = ""

const selectRecordColumns = `SELECT id, title, content, url, source, category,
	pub_time, crawl_time, author, keywords, images, related_stocks,
	sentiment, status FROM news_records`

// Query returns records matching the filter, newest first. An empty shard
// name selects AllShards: every shard is read in registry order, merged,
// deduplicated by URL (first shard wins), sorted by pub_time descending, and
// only then paged. A limit <= 0 means unbounded.
func (m *Manager) Query(ctx context.Context, f news.Filter, shard string, limit, offset int) ([]news.Record, error) {
	start := time.Now()
	if shard == AllShards {
		recs, err := m.queryAll(ctx, f, limit, offset)
		metrics.ObserveQueryDuration("all", time.Since(start))
		return recs, err
	}
	slug, err := m.reg.Slug(shard)
	if err != nil {
		return nil, err
	}
	recs, err := m.queryShard(ctx, slug, f, limit, offset)
	metrics.ObserveQueryDuration(slug, time.Since(start))
	return recs, err
}

// Count returns the number of matching records. The AllShards scope counts
// distinct URLs across every shard, never a naive per-shard sum, so a story
// republished into several shards is counted once.
func (m *Manager) Count(ctx context.Context, f news.Filter, shard string) (int, error) {
	if shard == AllShards {
		return m.countAll(ctx, f)
	}
	slug, err := m.reg.Slug(shard)
	if err != nil {
		return 0, err
	}
	return m.countShard(ctx, slug, f)
}

// GetByURL returns the record stored under url, searching shards in registry
// order; the first shard holding the URL wins.
func (m *Manager) GetByURL(ctx context.Context, url string) (news.Record, error) {
	return m.getFirst(ctx, "url = ?", url)
}

// GetByID returns the record stored under id, searching shards in registry
// order.
func (m *Manager) GetByID(ctx context.Context, id string) (news.Record, error) {
	return m.getFirst(ctx, "id = ?", id)
}

// RowCount returns the raw number of rows stored in one shard.
func (m *Manager) RowCount(ctx context.Context, shard string) (int, error) {
	slug, err := m.reg.Slug(shard)
	if err != nil {
		return 0, err
	}
	return m.countShard(ctx, slug, news.Filter{})
}

func (m *Manager) queryAll(ctx context.Context, f news.Filter, limit, offset int) ([]news.Record, error) {
	shards, err := m.reg.ListShards()
	if err != nil {
		return nil, err
	}
	perShard := make([][]news.Record, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, sh := range shards {
		g.Go(func() error {
			recs, err := m.queryShard(gctx, sh.Name, f, 0, 0)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Partial results: a failing shard contributes nothing.
				m.logger.Warn("shard read failed during merged query",
					zap.String("shard", sh.Name), zap.Error(err))
				return nil
			}
			perShard[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("merged query: %w", err)
	}

	merged := mergeDedup(perShard)
	sortByPubTimeDesc(merged)
	return page(merged, limit, offset), nil
}

func (m *Manager) queryShard(ctx context.Context, slug string, f news.Filter, limit, offset int) ([]news.Record, error) {
	p, err := m.shardPool(slug)
	if err != nil {
		return nil, err
	}
	where, args := buildWhere(f)
	// SQLite needs LIMIT -1 to express "no limit" when OFFSET is present.
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	q := selectRecordColumns + where + ` ORDER BY pub_time DESC, url ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	var recs []news.Record
	err = p.With(ctx, func(h *pool.Handle) error {
		rows, err := h.DB().QueryContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("query shard %s: %w", slug, err)
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return fmt.Errorf("scan shard %s row: %w", slug, err)
			}
			recs = append(recs, rec)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate shard %s rows: %w", slug, err)
		}
		return nil
	})
	if err != nil {
		return nil, classify(slug, err)
	}
	return recs, nil
}

func (m *Manager) countShard(ctx context.Context, slug string, f news.Filter) (int, error) {
	p, err := m.shardPool(slug)
	if err != nil {
		return 0, err
	}
	where, args := buildWhere(f)
	var n int
	err = p.With(ctx, func(h *pool.Handle) error {
		return h.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM news_records`+where, args...).Scan(&n)
	})
	if err != nil {
		return 0, classify(slug, fmt.Errorf("count shard %s: %w", slug, err))
	}
	return n, nil
}

func (m *Manager) countAll(ctx context.Context, f news.Filter) (int, error) {
	shards, err := m.reg.ListShards()
	if err != nil {
		return 0, err
	}
	perShard := make([][]string, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, sh := range shards {
		g.Go(func() error {
			urls, err := m.shardURLs(gctx, sh.Name, f)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				m.logger.Warn("shard read failed during merged count",
					zap.String("shard", sh.Name), zap.Error(err))
				return nil
			}
			perShard[i] = urls
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("merged count: %w", err)
	}

	unique := make(map[string]struct{})
	for _, urls := range perShard {
		for _, u := range urls {
			unique[u] = struct{}{}
		}
	}
	return len(unique), nil
}

func (m *Manager) shardURLs(ctx context.Context, slug string, f news.Filter) ([]string, error) {
	p, err := m.shardPool(slug)
	if err != nil {
		return nil, err
	}
	where, args := buildWhere(f)
	var urls []string
	err = p.With(ctx, func(h *pool.Handle) error {
		rows, err := h.DB().QueryContext(ctx, `SELECT url FROM news_records`+where, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var u string
			if err := rows.Scan(&u); err != nil {
				return err
			}
			urls = append(urls, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, classify(slug, fmt.Errorf("list shard %s urls: %w", slug, err))
	}
	return urls, nil
}

func (m *Manager) getFirst(ctx context.Context, cond string, arg any) (news.Record, error) {
	shards, err := m.reg.ListShards()
	if err != nil {
		return news.Record{}, err
	}
	for _, sh := range shards {
		rec, err := m.getFromShard(ctx, sh.Name, cond, arg)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrNotFound) {
			continue
		}
		m.logger.Warn("shard lookup failed",
			zap.String("shard", sh.Name), zap.Error(err))
	}
	return news.Record{}, ErrNotFound
}

func (m *Manager) getFromShard(ctx context.Context, slug, cond string, arg any) (news.Record, error) {
	p, err := m.shardPool(slug)
	if err != nil {
		return news.Record{}, err
	}
	var rec news.Record
	err = p.With(ctx, func(h *pool.Handle) error {
		row := h.DB().QueryRowContext(ctx, selectRecordColumns+` WHERE `+cond+` LIMIT 1`, arg)
		got, err := scanRecord(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("read shard %s: %w", slug, err)
		}
		rec = got
		return nil
	})
	if err != nil {
		return news.Record{}, err
	}
	return rec, nil
}

// buildWhere translates a Filter into a WHERE clause with bound args.
func buildWhere(f news.Filter) (string, []any) {
	var conds []string
	var args []any
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if f.Keyword != "" {
		conds = append(conds, "(title LIKE ? OR content LIKE ?)")
		kw := "%" + f.Keyword + "%"
		args = append(args, kw, kw)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "pub_time >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "pub_time <= ?")
		args = append(args, f.Until.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// mergeDedup flattens per-shard results in shard order, keeping the first
// occurrence of each URL so merged reads are reproducible.
func mergeDedup(perShard [][]news.Record) []news.Record {
	seen := make(map[string]struct{})
	var merged []news.Record
	for _, recs := range perShard {
		for _, rec := range recs {
			if _, ok := seen[rec.URL]; ok {
				continue
			}
			seen[rec.URL] = struct{}{}
			merged = append(merged, rec)
		}
	}
	return merged
}

func sortByPubTimeDesc(recs []news.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].PubTime.Equal(recs[j].PubTime) {
			return recs[i].PubTime.After(recs[j].PubTime)
		}
		return recs[i].URL < recs[j].URL
	})
}

// page applies offset and limit to the merged, deduplicated sequence, never
// per shard.
func page(recs []news.Record, limit, offset int) []news.Record {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(recs) {
		return nil
	}
	recs = recs[offset:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (news.Record, error) {
	var (
		rec                      news.Record
		pubTime, crawlTime       sql.NullTime
		keywords, images, stocks string
	)
	if err := row.Scan(
		&rec.ID, &rec.Title, &rec.Content, &rec.URL, &rec.Source, &rec.Category,
		&pubTime, &crawlTime, &rec.Author, &keywords, &images, &stocks,
		&rec.Sentiment, &rec.Status,
	); err != nil {
		return news.Record{}, err
	}
	if pubTime.Valid {
		rec.PubTime = pubTime.Time.UTC()
	}
	if crawlTime.Valid {
		rec.CrawlTime = crawlTime.Time.UTC()
	}
	var err error
	if rec.Keywords, err = news.DecodeList(keywords); err != nil {
		return news.Record{}, fmt.Errorf("keywords column: %w", err)
	}
	if rec.Images, err = news.DecodeList(images); err != nil {
		return news.Record{}, fmt.Errorf("images column: %w", err)
	}
	if rec.RelatedStocks, err = news.DecodeList(stocks); err != nil {
		return news.Record{}, fmt.Errorf("related_stocks column: %w", err)
	}
	return rec, nil
}
