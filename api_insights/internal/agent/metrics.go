package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "insights",
			Name:      "llm_calls_total",
			Help:      "Total LLM API calls",
		},
		[]string{"status"},
	)

	llmDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "insights",
			Name:      "llm_duration_seconds",
			Help:      "Duration of LLM API calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
	)

	agentRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "insights",
			Name:      "agent_rounds",
			Help:      "Model calls per answered question",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	agentOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "insights",
			Name:      "agent_outcomes_total",
			Help:      "Terminal agent states",
		},
		[]string{"state"}, // finalized, inconclusive, error
	)
)
