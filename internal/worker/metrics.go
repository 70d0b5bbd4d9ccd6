package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Definition
var (
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "twinspect_worker_queue_depth",
			Help: "Number of closed events waiting for a worker slot.",
		},
	)
	eventsSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "twinspect_worker_events_saved_total",
			Help: "Total number of events persisted and analyzed successfully.",
		},
	)
	eventsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twinspect_worker_events_failed_total",
			Help: "Total number of event tasks that failed.",
		},
		[]string{"stage"}, // "persistence", "analysis"
	)
	taskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "twinspect_worker_task_duration_seconds",
			Help:    "Wall time of a full persist-and-analyze task.",
			Buckets: prometheus.DefBuckets,
		},
	)
)
