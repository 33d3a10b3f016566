// Package metrics exposes Prometheus collectors for the storage engine.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolCheckoutsTotal          *prometheus.CounterVec
	poolHandlesOpenedTotal      *prometheus.CounterVec
	poolHandlesClosedTotal      *prometheus.CounterVec
	poolInUse                   *prometheus.GaugeVec
	storeSaveRetriesTotal       *prometheus.CounterVec
	storeVerificationFailsTotal *prometheus.CounterVec
	storeQueryDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Checkout result labels recorded by the pool.
const (
	CheckoutReused   = "reused"
	CheckoutFresh    = "fresh"
	CheckoutReplaced = "replaced"
	CheckoutTimeout  = "timeout"
	CheckoutClosed   = "closed"
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		poolCheckoutsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsvault_pool_checkouts_total",
				Help: "Total pool checkouts, labeled by shard and result.",
			},
			[]string{"shard", "result"},
		)

		poolHandlesOpenedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsvault_pool_handles_opened_total",
				Help: "Total shard connections opened, labeled by shard.",
			},
			[]string{"shard"},
		)

		poolHandlesClosedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsvault_pool_handles_closed_total",
				Help: "Total shard connections closed, labeled by shard.",
			},
			[]string{"shard"},
		)

		poolInUse = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "newsvault_pool_in_use",
				Help: "Connections currently checked out, labeled by shard.",
			},
			[]string{"shard"},
		)

		storeSaveRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsvault_store_save_retries_total",
				Help: "Save attempts retried after lock contention, labeled by shard.",
			},
			[]string{"shard"},
		)

		storeVerificationFailsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsvault_store_verification_failures_total",
				Help: "Post-commit verification reads that found no row, labeled by shard.",
			},
			[]string{"shard"},
		)

		storeQueryDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newsvault_store_query_duration_seconds",
				Help:    "Histogram of read latencies, labeled by scope (shard name or all).",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"scope"},
		)
	})
}

// ObserveCheckout increments the checkout counter for the given result.
func ObserveCheckout(shard, result string) {
	poolCheckoutsTotal.WithLabelValues(shard, result).Inc()
}

// AddHandleOpened increments the opened-connections counter.
func AddHandleOpened(shard string) {
	poolHandlesOpenedTotal.WithLabelValues(shard).Inc()
}

// AddHandleClosed increments the closed-connections counter.
func AddHandleClosed(shard string) {
	poolHandlesClosedTotal.WithLabelValues(shard).Inc()
}

// SetPoolInUse records the number of checked-out connections for a shard.
func SetPoolInUse(shard string, n int) {
	poolInUse.WithLabelValues(shard).Set(float64(n))
}

// AddSaveRetry increments the lock-contention retry counter.
func AddSaveRetry(shard string) {
	storeSaveRetriesTotal.WithLabelValues(shard).Inc()
}

// AddVerificationFailure increments the verification failure counter.
func AddVerificationFailure(shard string) {
	storeVerificationFailsTotal.WithLabelValues(shard).Inc()
}

// ObserveQueryDuration records the latency of a read.
func ObserveQueryDuration(scope string, d time.Duration) {
	storeQueryDurationSeconds.WithLabelValues(scope).Observe(d.Seconds())
}
