// Package main hosts the newsvault command line tool.
//
// Architecture overview:
//   - Storage: internal/store.Manager routes records to per-source SQLite shard
//     files (plus a main shard for everything else) under the configured base
//     directory. Each shard gets a small connection pool with WAL journaling,
//     immediate transactions, and bounded retry on SQLITE_BUSY.
//   - Registry & migration: internal/registry owns the shard directory layout,
//     discovers legacy shard files under configured roots, and absorbs them
//     into the canonical directory, preferring the newer file on collision.
//   - Ingest: internal/ingest feeds JSONL batches through a bounded queue into
//     a fixed pool of submit workers. Duplicate handling follows the configured
//     policy (skip or replace, decided by URL identity).
//   - Consistency: internal/validator re-validates stored rows, finds duplicate
//     URLs within and across shards, scores near-duplicate titles, and rolls
//     everything into a quality-scored report.
//   - Events & plumbing: internal/events batches lifecycle events (saves,
//     migrations, audits) to log and Prometheus sinks; Viper populates config
//     from files and NEWSVAULT_* env vars; zap provides structured logging on
//     stderr so stdout stays parseable.
//
// Run `newsvault --help` for the command surface: ingest, migrate, report,
// shards, and records.
package main

import (
	"github.com/tidefall/newsvault/cmd"
)

func main() {
	cmd.Execute()
}
