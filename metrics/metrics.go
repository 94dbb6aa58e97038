// Package metrics owns the Prometheus registry exported on the debug
// server's /metrics endpoint.
package metrics

import (
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "lender"

var (
	Registry = prometheus.NewRegistry()

	GRPCMetrics = grpcprometheus.NewServerMetrics(
		func(c *prometheus.CounterOpts) {
			c.Namespace = namespace
		},
	)
)

// Partition cache
var (
	PartitionRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "partition",
		Name:      "requests_total",
		Help:      "Partition average requests by provenance (reuse, create, recreate, or error).",
	}, []string{"source"})

	PartitionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "partition",
		Name:      "request_duration_seconds",
		Help:      "Partition average latency by provenance.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	}, []string{"source"})

	PartitionScans = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "partition",
		Name:      "main_dataset_scans_total",
		Help:      "Scans of the main dataset performed to build partitions.",
	})

	PartitionRowGroupsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "partition",
		Name:      "row_groups_skipped_total",
		Help:      "Main dataset row groups skipped by county_code statistics.",
	})
)

// Materialization
var (
	MaterializeAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "materialize",
		Name:      "attempts_total",
		Help:      "Materialization attempts by result (success or failure).",
	}, []string{"result"})

	MaterializeRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "materialize",
		Name:      "runs_total",
		Help:      "Materialization runs by result (success, exhausted, or aborted).",
	}, []string{"result"})

	MaterializeRows = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "materialize",
		Name:      "last_rows",
		Help:      "Rows written by the last successful materialization.",
	})
)

// Block locator
var (
	BlockLocateRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "blocks",
		Name:      "locate_requests_total",
		Help:      "Block location lookups by result (success or error).",
	}, []string{"result"})

	BlockBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "blocks",
		Name:      "breaker_state",
		Help:      "Metadata circuit breaker state (0=closed, 1=half-open, 2=open).",
	})
)

// System
var (
	SystemCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "system",
		Name:      "cpu_usage_percent",
		Help:      "Host CPU usage.",
	})

	SystemMemPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "system",
		Name:      "mem_usage_percent",
		Help:      "Host memory usage.",
	})

	SystemDiskPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "system",
		Name:      "disk_usage_percent",
		Help:      "Usage of the disk holding the local store.",
	})
)

func init() {
	// The histogram must exist before registration so its descriptor is
	// described to the registry.
	GRPCMetrics.EnableHandlingTimeHistogram(
		func(h *prometheus.HistogramOpts) {
			h.Namespace = namespace
		},
	)
	Registry.MustRegister(
		GRPCMetrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		PartitionRequests,
		PartitionDuration,
		PartitionScans,
		PartitionRowGroupsSkipped,
		MaterializeAttempts,
		MaterializeRuns,
		MaterializeRows,
		BlockLocateRequests,
		BlockBreakerState,
		SystemCPUPercent,
		SystemMemPercent,
		SystemDiskPercent,
	)
}
