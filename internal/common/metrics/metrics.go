// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RetrievalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retriever_requests_total",
			Help: "Total number of search requests by final strategy and status",
		},
		[]string{"strategy", "status"},
	)

	RetrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retriever_request_duration_seconds",
			Help:    "End-to-end duration of search requests in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"strategy"},
	)

	StrategyAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retriever_strategy_attempts_total",
			Help: "Backend attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	FallbackActivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retriever_fallback_activations_total",
			Help: "Number of times a fallback strategy was activated",
		},
		[]string{"from", "to"},
	)

	RetrievalResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "retriever_results_returned",
			Help:    "Number of results returned per successful search",
			Buckets: []float64{0, 1, 3, 5, 10, 20, 50},
		},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)
