package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Generation metrics
	GenerationsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftpilot_generations_started_total",
			Help: "Total number of streaming generations started",
		},
		[]string{"intent"},
	)

	GenerationsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftpilot_generations_finished_total",
			Help: "Total number of streaming generations that ended",
		},
		[]string{"intent", "status"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "draftpilot_generation_duration_seconds",
			Help:    "Streaming generation duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"intent"},
	)

	GenerateRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftpilot_generate_requests_total",
			Help: "Total number of one-shot generate calls by outcome",
		},
		[]string{"status"},
	)

	// Stream metrics
	StreamFramesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "draftpilot_stream_frames_skipped_total",
			Help: "Data frames dropped because the payload could not be decoded",
		},
	)

	StreamFlushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "draftpilot_stream_flushes_total",
			Help: "Coalesced buffer publications to observers",
		},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "draftpilot_sessions_created_total",
			Help: "Total number of workflow sessions created",
		},
	)

	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftpilot_stage_transitions_total",
			Help: "Workflow stage transitions",
		},
		[]string{"from", "to"},
	)

	PersistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftpilot_persistence_errors_total",
			Help: "Persistence failures swallowed by the adapter",
		},
		[]string{"operation"},
	)
)
