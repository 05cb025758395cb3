package embedcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "insights",
			Name:      "embedding_cache_lookups_total",
			Help:      "Embedding cache lookups by backend and result",
		},
		[]string{"backend", "result"}, // result: hit, miss, error
	)

	cacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "insights",
			Name:      "embedding_cache_evictions_total",
			Help:      "In-process embedding cache evictions",
		},
	)
)
