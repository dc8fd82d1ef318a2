/*
Package metrics provides Prometheus metrics collection and exposition for
the sync engine and storage layer.

Metrics are registered at package init against the default Prometheus
registry and exposed via the HTTP handler returned by Handler(), for
scraping by a Prometheus server.

# Categories

  - Dirty/quarantine gauges: per-collection counts set by pkg/sync. The
    dirty gauge is set at the start of each push phase; the quarantine
    gauge is incremented when a record is quarantined and reset to zero
    by RetryQuarantined.
  - Cycle counters and histograms: outcome-labeled cycle counts and
    cycle duration, recorded by pkg/sync at the end of each cycle, and
    push batch size, recorded per batch sent.
  - Epoch counter: incremented once per completed epoch advance by
    pkg/epoch.

# Usage

	import "github.com/cuemby/basin/pkg/metrics"

	timer := metrics.NewTimer()
	// ... run a sync cycle ...
	timer.ObserveDurationVec(metrics.SyncCycleDuration, collection)
	metrics.SyncCyclesTotal.WithLabelValues(collection, "success").Inc()

Mount the handler wherever the host application already serves HTTP:

	mux.Handle("/metrics", metrics.Handler())
*/
package metrics
