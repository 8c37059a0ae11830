// Package metrics defines the Prometheus instruments the dwell daemon
// exposes at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AggregationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dwell_aggregation_runs_total",
		Help: "Aggregation passes by result",
	}, []string{"result"})

	AggregationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dwell_aggregation_duration_seconds",
		Help:    "Wall time of one aggregation pass",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	})

	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dwell_events_processed_total",
		Help: "Events folded into accumulations",
	})

	LockContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dwell_lock_contention_total",
		Help: "Aggregation passes skipped because the lock was held",
	})

	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dwell_events_ingested_total",
		Help: "Events accepted over the ingest API",
	})

	IngestRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dwell_ingest_rejects_total",
		Help: "Ingest requests rejected, by reason",
	}, []string{"reason"})

	RowsPruned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dwell_rows_pruned_total",
		Help: "Rows removed by retention pruning, by table",
	}, []string{"table"})
)
