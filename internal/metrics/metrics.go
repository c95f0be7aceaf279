// Package metrics exposes Prometheus instrumentation for the run registry, job queue,
// and export engine, served at /metrics by the HTTP façade.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunEventsFoundTotal sums Run.EventsFound across all finished runs, labeled by source.
	RunEventsFoundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "run_events_found_total",
			Help: "Total events_found recorded across finished runs.",
		},
		[]string{"source", "status"},
	)

	// RunPagesCrawledTotal sums Run.PagesCrawled across all finished runs.
	RunPagesCrawledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "run_pages_crawled_total",
			Help: "Total pages_crawled recorded across finished runs.",
		},
		[]string{"source"},
	)

	// RunDuration observes wall-clock run duration by terminal status.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "run_duration_seconds",
			Help:    "Duration of a run from queued to terminal status.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~1h7m
		},
		[]string{"status"},
	)

	// QueueJobDuration observes handler execution time per named queue.
	QueueJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_job_duration_seconds",
			Help:    "Duration of a single job handler invocation.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	// QueueJobAttempts counts attempts per queue/outcome (completed, retried, failed).
	QueueJobAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_job_attempts_total",
			Help: "Total job attempts by outcome.",
		},
		[]string{"queue", "outcome"},
	)

	// ExportItemsTotal counts items written per export, labeled by format and outcome.
	ExportItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "export_items_total",
			Help: "Total items written by the export engine.",
		},
		[]string{"format", "outcome"},
	)

	// MatchCandidatesTotal counts candidate pairs generated by the match engine.
	MatchCandidatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "match_candidates_total",
			Help: "Total candidate pairs generated by the match engine.",
		},
	)

	// LogStreamClients tracks the number of connected SSE tail subscribers.
	LogStreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logstream_clients",
			Help: "Current number of connected log-stream SSE clients.",
		},
	)
)
