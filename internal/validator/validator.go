// Package validator audits shard contents: per-shard row health, cross-shard
// URL duplication, and advisory near-duplicate detection over titles. It only
// reads; repairs stay with operators.
package validator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tidefall/newsvault/internal/clock"
	"github.com/tidefall/newsvault/internal/news"
	"github.com/tidefall/newsvault/internal/store"
)

// DefaultNearDupThreshold flags titles that are nearly verbatim copies.
const DefaultNearDupThreshold = 0.90

// maxNearDupPairs caps the advisory pair list so a pathological corpus cannot
// blow up report size.
const maxNearDupPairs = 200

// IDGenerator produces report IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// ShardReport summarizes one shard's health. A failed shard carries Err and
// zeroes elsewhere; it never aborts the whole report.
type ShardReport struct {
	Name        string
	Rows        int
	ValidRows   int
	InvalidRows int
	EarliestPub time.Time
	LatestPub   time.Time
	// IntraShardDupURLs lists URLs stored more than once inside this shard.
	// Current schema forbids that, but legacy files predate the UNIQUE
	// constraint.
	IntraShardDupURLs []string
	Err               string
}

// DupGroup is one URL present in more than one shard.
type DupGroup struct {
	URL    string
	Shards []string
}

// Report is a full consistency audit across all shards.
type Report struct {
	ID          string
	GeneratedAt time.Time
	Shards      []ShardReport
	TotalRows   int
	UniqueURLs  int
	// CrossShardDups lists stories stored in several shards, sorted by URL.
	CrossShardDups []DupGroup
	// QualityScore is UniqueURLs/TotalRows; 1.0 for an empty vault.
	QualityScore float64
}

// NearDupPair is one advisory near-duplicate finding.
type NearDupPair struct {
	URLA       string
	URLB       string
	TitleA     string
	TitleB     string
	Similarity float64
}

// Validator reads through the storage manager's pools and never writes.
type Validator struct {
	store  *store.Manager
	logger *zap.Logger
	clock  clock.Clock
	ids    IDGenerator
}

// New builds a Validator over an open storage manager.
func New(st *store.Manager, clk clock.Clock, ids IDGenerator, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Validator{
		store:  st,
		logger: logger.Named("validator"),
		clock:  clk,
		ids:    ids,
	}
}

// Analyze audits every shard in parallel. Concurrent writers are not blocked,
// so the figures are a best-effort snapshot; run it during quiescence for
// exact numbers.
func (v *Validator) Analyze(ctx context.Context) (Report, error) {
	id, err := v.ids.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("report id: %w", err)
	}
	shards, err := v.store.Registry().ListShards()
	if err != nil {
		return Report{}, err
	}

	shardReports := make([]ShardReport, len(shards))
	urlsByShard := make([][]string, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, sh := range shards {
		g.Go(func() error {
			rep, urls, err := v.analyzeShard(gctx, sh.Name)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				v.logger.Warn("shard analysis failed",
					zap.String("shard", sh.Name), zap.Error(err))
				shardReports[i] = ShardReport{Name: sh.Name, Err: err.Error()}
				return nil
			}
			shardReports[i] = rep
			urlsByShard[i] = urls
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("consistency analysis: %w", err)
	}

	report := Report{ID: id, GeneratedAt: v.clock.Now(), Shards: shardReports}

	// presence maps each URL to the shards holding it, one entry per shard
	// no matter how many rows the shard has for that URL.
	presence := make(map[string][]string)
	for i := range shardReports {
		report.TotalRows += shardReports[i].Rows
		seen := make(map[string]struct{}, len(urlsByShard[i]))
		for _, u := range urlsByShard[i] {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			presence[u] = append(presence[u], shardReports[i].Name)
		}
	}
	report.UniqueURLs = len(presence)
	for url, names := range presence {
		if len(names) > 1 {
			report.CrossShardDups = append(report.CrossShardDups, DupGroup{URL: url, Shards: names})
		}
	}
	sort.Slice(report.CrossShardDups, func(i, j int) bool {
		return report.CrossShardDups[i].URL < report.CrossShardDups[j].URL
	})

	if report.TotalRows == 0 {
		report.QualityScore = 1.0
	} else {
		report.QualityScore = float64(report.UniqueURLs) / float64(report.TotalRows)
	}
	return report, nil
}

func (v *Validator) analyzeShard(ctx context.Context, name string) (ShardReport, []string, error) {
	recs, err := v.store.Query(ctx, news.Filter{}, name, 0, 0)
	if err != nil {
		return ShardReport{}, nil, err
	}

	rep := ShardReport{Name: name, Rows: len(recs)}
	counts := make(map[string]int, len(recs))
	urls := make([]string, 0, len(recs))
	for _, rec := range recs {
		if rec.Validate() == nil {
			rep.ValidRows++
		} else {
			rep.InvalidRows++
		}
		counts[rec.URL]++
		urls = append(urls, rec.URL)
		if rec.PubTime.IsZero() {
			continue
		}
		if rep.EarliestPub.IsZero() || rec.PubTime.Before(rep.EarliestPub) {
			rep.EarliestPub = rec.PubTime
		}
		if rec.PubTime.After(rep.LatestPub) {
			rep.LatestPub = rec.PubTime
		}
	}
	for url, n := range counts {
		if n > 1 {
			rep.IntraShardDupURLs = append(rep.IntraShardDupURLs, url)
		}
	}
	sort.Strings(rep.IntraShardDupURLs)
	return rep, urls, nil
}

// NearDuplicates reports pairs of stored titles whose rune-bigram Dice
// similarity reaches the threshold. Findings are advisory; nothing is
// deleted. The pair list is capped at 200.
func (v *Validator) NearDuplicates(ctx context.Context, threshold float64) ([]NearDupPair, error) {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultNearDupThreshold
	}
	recs, err := v.store.Query(ctx, news.Filter{}, store.AllShards, 0, 0)
	if err != nil {
		return nil, err
	}

	type entry struct {
		url   string
		title string
		grams map[string]int
	}
	entries := make([]entry, 0, len(recs))
	for _, rec := range recs {
		normalized := normalizeTitle(rec.Title)
		if normalized == "" {
			continue
		}
		entries = append(entries, entry{url: rec.URL, title: rec.Title, grams: runeBigrams(normalized)})
	}

	var pairs []NearDupPair
	for i := 0; i < len(entries) && len(pairs) < maxNearDupPairs; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		for j := i + 1; j < len(entries) && len(pairs) < maxNearDupPairs; j++ {
			if entries[i].url == entries[j].url {
				continue
			}
			sim := diceCoefficient(entries[i].grams, entries[j].grams)
			if sim < threshold {
				continue
			}
			pairs = append(pairs, NearDupPair{
				URLA:       entries[i].url,
				URLB:       entries[j].url,
				TitleA:     entries[i].title,
				TitleB:     entries[j].title,
				Similarity: sim,
			})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Similarity != pairs[j].Similarity {
			return pairs[i].Similarity > pairs[j].Similarity
		}
		if pairs[i].URLA != pairs[j].URLA {
			return pairs[i].URLA < pairs[j].URLA
		}
		return pairs[i].URLB < pairs[j].URLB
	})
	return pairs, nil
}

// normalizeTitle lowers and collapses whitespace so spacing and case noise
// does not dilute similarity. CJK text passes through untouched.
func normalizeTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// runeBigrams counts adjacent rune pairs. Operating on runes keeps one
// Chinese character one symbol instead of three bytes.
func runeBigrams(s string) map[string]int {
	rs := []rune(s)
	grams := make(map[string]int, len(rs))
	if len(rs) == 1 {
		grams[string(rs)] = 1
		return grams
	}
	for i := 0; i+1 < len(rs); i++ {
		grams[string(rs[i:i+2])]++
	}
	return grams
}

// diceCoefficient is 2*|A∩B| / (|A|+|B|) over bigram multisets.
func diceCoefficient(a, b map[string]int) float64 {
	var sizeA, sizeB, overlap int
	for _, n := range a {
		sizeA += n
	}
	for g, n := range b {
		sizeB += n
		if m, ok := a[g]; ok {
			overlap += min(m, n)
		}
	}
	if sizeA+sizeB == 0 {
		return 0
	}
	return 2 * float64(overlap) / float64(sizeA+sizeB)
}
