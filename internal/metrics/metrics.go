// Package metrics holds the Prometheus instruments shared by the catalog
// components. Everything registers with the default registry, which the HTTP
// transport exposes on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "launcher"

// Discovery
var (
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scans_total",
		Help:      "Completed scans by kind and final status",
	}, []string{"kind", "status"})

	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scan_duration_seconds",
		Help:      "Wall time of a scan",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"kind"})

	ScanDeltas = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scan_deltas_total",
		Help:      "Reconciliation outcomes observed by scans",
	}, []string{"kind", "delta"})
)

// Enrichment
var (
	EnrichmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrichments_total",
		Help:      "Committed enrichments by launch method",
	}, []string{"method"})

	EnrichmentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrichment_failures_total",
		Help:      "Strategy failures by strategy and failure kind",
	}, []string{"strategy", "kind"})

	EnrichmentDiscards = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrichment_discards_total",
		Help:      "Results dropped at commit time",
	}, []string{"reason"})

	EnrichmentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "enrichment_duration_seconds",
		Help:      "Time from claim to commit for one project",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})

	WorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "enrichment_workers_busy",
		Help:      "Enrichment workers currently holding a claim",
	})

	InferenceCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inference_calls_total",
		Help:      "Inference requests by request kind and outcome",
	}, []string{"kind", "outcome"})

	ScriptsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scripts_total",
		Help:      "Custom script materializations by outcome",
	}, []string{"outcome"})
)

// Scheduling and launch
var (
	SchedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_runs_total",
		Help:      "Jobs started by the scheduler by kind and trigger",
	}, []string{"kind", "trigger"})

	SchedulerCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_coalesced_total",
		Help:      "Triggers absorbed by an already running job",
	}, []string{"kind"})

	DirtyMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dirty_marks_total",
		Help:      "Projects queued for enrichment by reason",
	}, []string{"reason"})

	Launches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "launches_total",
		Help:      "Project launches by launch method and outcome",
	}, []string{"method", "outcome"})

	MCPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mcp_requests_total",
		Help:      "Inbound MCP requests by method and outcome",
	}, []string{"method", "outcome"})
)
