// Package ingest moves batches of records from a feed into the vault through
// a bounded queue and a pool of submit workers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tidefall/newsvault/internal/news"
)

// ErrQueueClosed reports an operation on a closed queue. Dequeue returns it
// only once the backlog is fully drained.
var ErrQueueClosed = errors.New("ingest queue closed")

// Queue is a bounded in-memory record queue with context-aware operations.
// Closing it stops intake immediately while letting consumers drain what was
// already accepted.
type Queue struct {
	ch        chan news.Record
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan news.Record, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a record, blocking while the queue is full. It returns when
// the context ends or the queue closes.
func (q *Queue) Enqueue(ctx context.Context, rec news.Record) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrQueueClosed
	case q.ch <- rec:
		return nil
	}
}

// Dequeue pops the next record, respecting context cancellation. After Close,
// it keeps returning queued records until the backlog is empty, then reports
// ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (news.Record, error) {
	select {
	case <-ctx.Done():
		return news.Record{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case rec := <-q.ch:
		return rec, nil
	case <-q.done:
		select {
		case rec := <-q.ch:
			return rec, nil
		default:
			return news.Record{}, ErrQueueClosed
		}
	}
}

// Close stops intake. Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Len reports the current backlog size.
func (q *Queue) Len() int {
	return len(q.ch)
}
