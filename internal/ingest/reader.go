package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/tidefall/newsvault/internal/news"
)

// Article content routinely exceeds bufio's default line limit.
const (
	initialLineBuf = 64 * 1024
	maxLineBytes   = 8 * 1024 * 1024
)

// FeedStats counts feed lines handled by FeedJSONL.
type FeedStats struct {
	Read      int
	Malformed int
}

// FeedJSONL streams newline-delimited JSON records into the queue. Blank
// lines are skipped and malformed lines are counted and logged without
// stopping the feed. The queue is left open for the caller to close.
func FeedJSONL(ctx context.Context, r io.Reader, q *Queue, logger *zap.Logger) (FeedStats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var stats FeedStats
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialLineBuf), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec news.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			stats.Malformed++
			logger.Warn("skipping malformed feed line", zap.Int("line", line), zap.Error(err))
			continue
		}
		if err := q.Enqueue(ctx, rec); err != nil {
			return stats, fmt.Errorf("feed line %d: %w", line, err)
		}
		stats.Read++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read feed: %w", err)
	}
	return stats, nil
}
