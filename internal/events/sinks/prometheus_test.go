package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/tidefall/newsvault/internal/events"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are
// incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batchID := events.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []events.Event{
		{BatchID: batchID, TS: now, Stage: events.StageSaveDone,
			Shard: "sina", Source: "sina", Outcome: "accepted", Dur: 5 * time.Millisecond},
		{BatchID: batchID, TS: now, Stage: events.StageSaveDone,
			Shard: "sina", Source: "sina", Outcome: "duplicate"},
		{BatchID: batchID, TS: now, Stage: events.StageSaveError,
			Source: "eastmoney", Note: "shard sina is locked"},
		{BatchID: batchID, TS: now, Stage: events.StageMigrateFile,
			Shard: "eastmoney", Outcome: "migrated"},
		{BatchID: batchID, TS: now, Stage: events.StageMigrateFile,
			Shard: "10jqka", Outcome: "skipped"},
		{BatchID: batchID, TS: now, Stage: events.StageMigrateDone, Rows: 2},
		{BatchID: batchID, TS: now, Stage: events.StageAnalyzeDone, Rows: 128},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.saves.WithLabelValues("sina", "accepted")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.saves.WithLabelValues("sina", "duplicate")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.saveErrors.WithLabelValues("eastmoney")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.saveDuration, "newsvault_save_duration_seconds"))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.migratedFiles.WithLabelValues("migrated")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.migratedFiles.WithLabelValues("skipped")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.migrationRuns))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.auditRuns))
	require.Equal(t, 128.0, testutil.ToFloat64(sink.auditRowsSeen))

	require.NoError(t, sink.Close(context.Background()))
}

// TestPrometheusSinkRejectsDoubleRegistration guards against reusing one
// registry for two sinks.
func TestPrometheusSinkRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
