package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "insights",
			Subsystem: "executor",
			Name:      "query_duration_seconds",
			Help:      "Duration of tenant-scoped analytics queries in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "insights",
			Subsystem: "executor",
			Name:      "queries_total",
			Help:      "Total analytics queries by outcome",
		},
		[]string{"operation", "status"},
	)
)
