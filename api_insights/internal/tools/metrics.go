package tools

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	invocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "insights",
			Name:      "tool_invocations_total",
			Help:      "Total tool invocations by outcome",
		},
		[]string{"tool", "status"}, // ok, invalid, error, timeout, unknown
	)

	invocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "insights",
			Name:      "tool_duration_seconds",
			Help:      "Duration of tool invocations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)
)
