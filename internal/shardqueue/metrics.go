package shardqueue

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memories",
		Subsystem: "shardqueue",
		Name:      "submissions_total",
		Help:      "Jobs accepted per shard.",
	}, []string{"shard"})

	queueFullTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memories",
		Subsystem: "shardqueue",
		Name:      "queue_full_total",
		Help:      "Submissions rejected because the shard queue stayed full.",
	}, []string{"shard"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "memories",
		Subsystem: "shardqueue",
		Name:      "run_duration_seconds",
		Help:      "Duration of a single job attempt.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"shard"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "memories",
		Subsystem: "shardqueue",
		Name:      "queue_depth",
		Help:      "Jobs waiting per shard.",
	}, []string{"shard"})
)

func labelFor(shard int) string { return strconv.Itoa(shard) }
