// Package metrics exposes Prometheus instruments for the chat backend.
// Swallowed failures (storage writes after a delivered reply, background
// jobs) must stay observable even though they are never user-visible;
// these counters are where they surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts completed turns by outcome:
	// "ok", "validation_error", "generation_error".
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aira_turns_total",
			Help: "Total number of processed turns by outcome",
		},
		[]string{"outcome"},
	)

	// GenerationLatency observes reply-path generation call duration.
	GenerationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "aira_generation_latency_seconds",
			Help: "Generation backend call latency in seconds",
		},
	)

	// StorageWriteFailures counts memory writes that failed after the reply
	// was already delivered (swallowed by design, never retried further).
	StorageWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aira_storage_write_failures_total",
			Help: "Total number of swallowed post-reply storage write failures",
		},
	)

	// BackgroundJobFailures counts failed maintenance jobs by job name:
	// "summarize", "analyze".
	BackgroundJobFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aira_background_job_failures_total",
			Help: "Total number of failed background memory jobs",
		},
		[]string{"job"},
	)

	// ActiveSessions tracks currently connected websocket sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aira_active_sessions",
			Help: "Number of active websocket sessions",
		},
	)
)
