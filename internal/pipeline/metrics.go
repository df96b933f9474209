package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jgk",
		Subsystem: "pipeline",
		Name:      "stage_transitions_total",
		Help:      "Stage transitions by destination stage.",
	}, []string{"stage"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jgk",
		Subsystem: "pipeline",
		Name:      "workflow_failures_total",
		Help:      "Terminally failed workflows by error kind.",
	}, []string{"kind"})

	stageRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jgk",
		Subsystem: "pipeline",
		Name:      "stage_retries_total",
		Help:      "Stage retries after a retryable failure, by stage.",
	}, []string{"stage"})
)
