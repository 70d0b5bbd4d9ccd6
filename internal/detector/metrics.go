package detector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Definition
var (
	samplesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "twinspect_samples_processed_total",
			Help: "Total number of samples consumed by the event detector.",
		},
	)
	samplesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twinspect_samples_dropped_total",
			Help: "Total number of samples rejected before detection.",
		},
		[]string{"reason"}, // "malformed", "out_of_order", "channel_mismatch"
	)
	triggersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "twinspect_triggers_total",
			Help: "Total number of Idle to Triggered transitions.",
		},
	)
	eventsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "twinspect_events_completed_total",
			Help: "Total number of events closed and handed to the worker pool.",
		},
	)
	eventsDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twinspect_events_discarded_total",
			Help: "Total number of events discarded without being saved.",
		},
		[]string{"reason"}, // "too_short", "shutdown"
	)
	recordingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "twinspect_event_recording",
			Help: "1 while an event is actively being recorded, 0 otherwise.",
		},
	)
	eventDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "twinspect_event_duration_seconds",
			Help:    "Trigger-to-detrigger duration of completed events.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
)
