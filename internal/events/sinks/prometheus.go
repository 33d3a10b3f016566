package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tidefall/newsvault/internal/events"
)

// PrometheusSink exports vault activity via Prometheus. It owns collectors
// for saves, save errors, migration outcomes, and audit runs.
type PrometheusSink struct {
	saves        *prometheus.CounterVec
	saveErrors   *prometheus.CounterVec
	saveDuration *prometheus.HistogramVec

	migratedFiles *prometheus.CounterVec
	migrationRuns prometheus.Counter

	auditRuns     prometheus.Counter
	auditRowsSeen prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsvault_saves_total",
			Help: "Completed saves partitioned by shard and outcome.",
		}, []string{"shard", "outcome"}),
		saveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsvault_save_errors_total",
			Help: "Failed saves partitioned by source.",
		}, []string{"source"}),
		saveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newsvault_save_duration_seconds",
			Help:    "Save latency partitioned by shard.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"shard"}),
		migratedFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsvault_migration_files_total",
			Help: "Legacy files processed partitioned by outcome.",
		}, []string{"outcome"}),
		migrationRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsvault_migration_runs_total",
			Help: "Completed migration batches.",
		}),
		auditRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsvault_audit_runs_total",
			Help: "Completed consistency audits.",
		}),
		auditRowsSeen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newsvault_audit_rows",
			Help: "Total rows counted by the most recent consistency audit.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.saves,
		s.saveErrors,
		s.saveDuration,
		s.migratedFiles,
		s.migrationRuns,
		s.auditRuns,
		s.auditRowsSeen,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register vault collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt events.Event) {
	switch evt.Stage {
	case events.StageSaveDone:
		s.saves.WithLabelValues(evt.Shard, evt.Outcome).Inc()
		if evt.Dur > 0 {
			s.saveDuration.WithLabelValues(evt.Shard).Observe(evt.Dur.Seconds())
		}
	case events.StageSaveError:
		source := evt.Source
		if source == "" {
			source = "unknown"
		}
		s.saveErrors.WithLabelValues(source).Inc()
	case events.StageMigrateFile:
		s.migratedFiles.WithLabelValues(evt.Outcome).Inc()
	case events.StageMigrateDone:
		s.migrationRuns.Inc()
	case events.StageAnalyzeDone:
		s.auditRuns.Inc()
		s.auditRowsSeen.Set(float64(evt.Rows))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
