package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memories",
		Subsystem: "pipeline",
		Name:      "cycles_total",
		Help:      "Capture cycles by outcome.",
	}, []string{"app", "outcome"})

	fragmentsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memories",
		Subsystem: "pipeline",
		Name:      "fragments_committed_total",
		Help:      "Fragments newly written to the store.",
	}, []string{"app"})

	capturesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memories",
		Subsystem: "pipeline",
		Name:      "captures_dropped_total",
		Help:      "Captures dropped before extraction.",
	}, []string{"app", "reason"})

	cycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "memories",
		Subsystem: "pipeline",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one capture cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"app"})
)
