package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	id := UUIDToBytes(uuid.New())
	now := time.Now()

	cases := []struct {
		name    string
		evt     Event
		wantErr string
	}{
		{
			name: "valid save done",
			evt:  Event{BatchID: id, TS: now, Stage: StageSaveDone, Shard: "sina", Outcome: "accepted"},
		},
		{
			name: "valid migrate done",
			evt:  Event{BatchID: id, TS: now, Stage: StageMigrateDone, Rows: 3},
		},
		{
			name: "valid analyze done",
			evt:  Event{BatchID: id, TS: now, Stage: StageAnalyzeDone, Rows: 120},
		},
		{
			name:    "missing batch id",
			evt:     Event{TS: now, Stage: StageSaveDone, Shard: "sina", Outcome: "accepted"},
			wantErr: "batch id",
		},
		{
			name:    "missing timestamp",
			evt:     Event{BatchID: id, Stage: StageMigrateDone},
			wantErr: "timestamp",
		},
		{
			name:    "save done without shard",
			evt:     Event{BatchID: id, TS: now, Stage: StageSaveDone, Outcome: "accepted"},
			wantErr: "requires shard",
		},
		{
			name:    "save done without outcome",
			evt:     Event{BatchID: id, TS: now, Stage: StageSaveDone, Shard: "sina"},
			wantErr: "requires outcome",
		},
		{
			name:    "save error without source",
			evt:     Event{BatchID: id, TS: now, Stage: StageSaveError},
			wantErr: "requires source",
		},
		{
			name:    "migrate file without outcome",
			evt:     Event{BatchID: id, TS: now, Stage: StageMigrateFile, Shard: "sina"},
			wantErr: "requires outcome",
		},
		{
			name:    "unknown stage",
			evt:     Event{BatchID: id, TS: now, Stage: "REINDEX_DONE"},
			wantErr: "unknown stage",
		},
		{
			name:    "negative duration",
			evt:     Event{BatchID: id, TS: now, Stage: StageMigrateDone, Dur: -time.Second},
			wantErr: "duration",
		},
		{
			name:    "negative rows",
			evt:     Event{BatchID: id, TS: now, Stage: StageAnalyzeDone, Rows: -1},
			wantErr: "rows",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.evt.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestBatchUUIDRoundTrip(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	evt := Event{BatchID: UUIDToBytes(id)}
	require.Equal(t, id, evt.BatchUUID())
}
