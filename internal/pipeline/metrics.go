package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_pipeline_steps_total",
			Help: "Total number of generation steps by outcome.",
		},
		[]string{"step", "outcome"},
	)
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_pipeline_runs_total",
			Help: "Total number of pipeline runs by terminal state.",
		},
		[]string{"state"},
	)
	creditsSpentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storybook_pipeline_credits_spent_total",
			Help: "Total credits spent by generation runs (before refunds).",
		},
	)
	creditsRefundedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storybook_pipeline_credits_refunded_total",
			Help: "Total credits refunded after failed runs.",
		},
	)
)
