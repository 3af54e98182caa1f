package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationStartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_generation_starts_total",
			Help: "Total number of generation start requests by decision.",
		},
		[]string{"decision"},
	)

	storiesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storybook_stories_created_total",
		Help: "Total number of created story drafts.",
	})

	tokenVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_token_verifications_total",
			Help: "Total number of access token verification attempts by status.",
		},
		[]string{"status"},
	)
)
