// Package events carries ingestion and maintenance milestones from the engine
// to pluggable sinks.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names the milestone an Event reports.
type Stage string

// Emitted stages.
const (
	StageSaveDone    Stage = "SAVE_DONE"
	StageSaveError   Stage = "SAVE_ERROR"
	StageMigrateFile Stage = "MIGRATE_FILE"
	StageMigrateDone Stage = "MIGRATE_DONE"
	StageAnalyzeDone Stage = "ANALYZE_DONE"
)

// Event is one milestone in the vault's write, migration, or audit flow.
type Event struct {
	// BatchID groups events from one ingest batch or maintenance run, in the
	// 16-byte UUID form.
	BatchID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage names the milestone.
	Stage Stage
	// Shard scopes the event to one shard where that applies.
	Shard string
	// Source is the record's source label for save events.
	Source string
	// Outcome carries the save or migration outcome.
	Outcome string
	// Rows carries row or file counts for batch-level stages.
	Rows int64
	// Dur captures operation latency.
	Dur time.Duration
	// Note lets emitters attach low-volume context such as error text.
	Note string
}

// Validate performs coarse per-stage validation on Event payloads.
func (e Event) Validate() error {
	if e.BatchID == [16]byte{} {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSaveDone:
		if e.Shard == "" {
			return errors.New("save done requires shard")
		}
		if e.Outcome == "" {
			return errors.New("save done requires outcome")
		}
	case StageSaveError:
		if e.Source == "" {
			return errors.New("save error requires source")
		}
	case StageMigrateFile:
		if e.Outcome == "" {
			return errors.New("migrate file requires outcome")
		}
	case StageMigrateDone, StageAnalyzeDone:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Rows < 0 {
		return errors.New("rows must be >= 0")
	}
	return nil
}

// BatchUUID converts the binary batch ID to uuid.UUID.
func (e Event) BatchUUID() uuid.UUID {
	return uuid.UUID(e.BatchID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
