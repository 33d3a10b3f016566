package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// ErrNotFound signals that the requested record does not exist in any shard.
var ErrNotFound = errors.New("record not found")

// ErrClosed signals that the manager has been closed; operations fail fast.
var ErrClosed = errors.New("storage manager is closed")

// TransientLockError wraps SQLITE_BUSY/SQLITE_LOCKED contention on one shard.
// It is retryable: Save resolves it internally with jittered backoff, and it
// only escapes when the attempt budget is exhausted.
type TransientLockError struct {
	Shard string
	Err   error
}

func (e *TransientLockError) Error() string {
	return fmt.Sprintf("shard %s is locked: %v", e.Shard, e.Err)
}

func (e *TransientLockError) Unwrap() error {
	return e.Err
}

// VerificationError reports a row missing (or carrying the wrong ID) when
// re-read immediately after a successful commit. It is an integrity fault and
// is never retried.
type VerificationError struct {
	Shard string
	URL   string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("shard %s: row for %s not visible after commit", e.Shard, e.URL)
}

// isLockContention reports whether err is SQLite lock contention. The driver
// surfaces SQLITE_BUSY/SQLITE_LOCKED as sqlite3.Error; database/sql sometimes
// re-wraps them as plain strings, so both forms are recognized.
func isLockContention(err error) bool {
	if err == nil {
		return false
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// classify wraps lock contention in TransientLockError so the retry loop and
// callers can recognize it; other errors pass through untouched.
func classify(shard string, err error) error {
	if err == nil {
		return nil
	}
	if isLockContention(err) {
		return &TransientLockError{Shard: shard, Err: err}
	}
	return err
}
