// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicdesk_gateway_calls_total",
			Help: "Model gateway calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	GatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "civicdesk_gateway_call_duration_seconds",
			Help:    "Duration of model gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	TaskResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicdesk_task_results_total",
			Help: "Agent task results by task type and outcome",
		},
		[]string{"task_type", "outcome"},
	)

	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicdesk_routing_decisions_total",
			Help: "Organizational routing outcomes",
		},
		[]string{"outcome"},
	)

	LedgerWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "civicdesk_ledger_write_failures_total",
			Help: "Ledger appends that failed and were skipped",
		},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicdesk_jobs_processed_total",
			Help: "Dispatch queue jobs by type and outcome",
		},
		[]string{"type", "outcome"},
	)
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	// OutcomeInterrupted marks a job released back to the queue on shutdown.
	OutcomeInterrupted = "interrupted"
)
