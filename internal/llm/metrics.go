package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jgk",
		Subsystem: "llm",
		Name:      "generate_total",
		Help:      "Generation attempts by outcome.",
	}, []string{"outcome"})

	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jgk",
		Subsystem: "llm",
		Name:      "cache_hits_total",
		Help:      "Response cache hits by tier.",
	}, []string{"tier"})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "jgk",
		Subsystem: "llm",
		Name:      "cache_misses_total",
		Help:      "Response cache misses.",
	})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "jgk",
		Subsystem: "llm",
		Name:      "retries_total",
		Help:      "Generation retries after a retryable failure.",
	})

	embedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "jgk",
		Subsystem: "llm",
		Name:      "embed_total",
		Help:      "Embedding requests.",
	})
)
