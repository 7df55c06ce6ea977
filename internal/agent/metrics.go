package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "souq_assistant",
			Name:      "turns_total",
			Help:      "Total assistant turns by outcome.",
		},
		[]string{"outcome"},
	)

	turnDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "souq_assistant",
			Name:      "turn_duration_seconds",
			Help:      "Duration of assistant turns.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "souq_assistant",
			Name:      "llm_requests_total",
			Help:      "Total field-parsing calls to the language model.",
		},
		[]string{"provider", "status"}, // status: ok, error, timeout, invalid
	)

	llmRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "souq_assistant",
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of language model calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"provider"},
	)

	rateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "souq_assistant",
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by a rate limiter.",
		},
		[]string{"limiter"}, // llm, chat
	)

	extractorPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "souq_assistant",
			Name:      "extractor_panics_total",
			Help:      "Extractor calls that panicked and were treated as no value.",
		},
		[]string{"extractor"},
	)

	listingsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "souq_assistant",
			Name:      "listings_published_total",
			Help:      "Publish attempts by status.",
		},
		[]string{"status"},
	)

	wsConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "souq_assistant",
			Name:      "websocket_connections",
			Help:      "Open assistant WebSocket connections.",
		},
	)
)
