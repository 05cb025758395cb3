package mcpspoke

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	spokeCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "insights",
			Subsystem: "spoke",
			Name:      "tool_calls_total",
			Help:      "Total MCP tool calls",
		},
		[]string{"tool", "status"},
	)

	spokeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "insights",
			Subsystem: "spoke",
			Name:      "tool_duration_seconds",
			Help:      "Duration of MCP tool calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)
)
