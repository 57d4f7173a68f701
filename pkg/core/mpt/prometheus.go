package mpt

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics for monitoring node resolution.
var (
	// cacheHits prometheus metric.
	cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of MPT nodes resolved from the in-memory cache",
			Name:      "mpt_cache_hits_total",
			Namespace: "neogo",
		},
	)
	// cacheMisses prometheus metric.
	cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of MPT nodes not found in the in-memory cache",
			Name:      "mpt_cache_misses_total",
			Namespace: "neogo",
		},
	)
)

func init() {
	prometheus.MustRegister(
		cacheHits,
		cacheMisses,
	)
}
