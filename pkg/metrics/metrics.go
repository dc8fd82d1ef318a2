// Package metrics exposes the Prometheus gauges and histograms the sync
// engine and storage layer update during normal operation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DirtyRecordsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "basin_dirty_records_total",
			Help: "Number of records per collection with unacknowledged local changes",
		},
		[]string{"collection"},
	)

	QuarantinedRecordsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "basin_quarantined_records_total",
			Help: "Number of records per collection excluded from sync due to repeated failures",
		},
		[]string{"collection"},
	)

	SyncCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basin_sync_cycles_total",
			Help: "Total number of sync cycles run per collection and outcome",
		},
		[]string{"collection", "outcome"},
	)

	SyncCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "basin_sync_cycle_duration_seconds",
			Help:    "Duration of a full pull+push sync cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	PushBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "basin_sync_push_batch_size",
			Help:    "Number of records included in one push call",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		},
	)

	PullRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basin_sync_pull_records_total",
			Help: "Total number of records received from pull, by collection",
		},
		[]string{"collection"},
	)

	EpochAdvancesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "basin_epoch_advances_total",
			Help: "Total number of completed epoch advances",
		},
	)
)

func init() {
	prometheus.MustRegister(DirtyRecordsTotal)
	prometheus.MustRegister(QuarantinedRecordsTotal)
	prometheus.MustRegister(SyncCyclesTotal)
	prometheus.MustRegister(SyncCycleDuration)
	prometheus.MustRegister(PushBatchSize)
	prometheus.MustRegister(PullRecordsTotal)
	prometheus.MustRegister(EpochAdvancesTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
