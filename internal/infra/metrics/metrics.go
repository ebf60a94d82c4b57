// Package metrics provides Prometheus metrics for rendersync.
// Counters and gauges for polling cycles, transfers, retries and uploads.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Orchestrator ───────────────────────────────────────────────────────────

// PollCycles counts completed polling cycles by orchestration mode.
var PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rendersync",
	Name:      "poll_cycles_total",
	Help:      "Total polling cycles run.",
}, []string{"mode"})

// WorkingSetSize tracks tasks still waiting in a run's working set.
var WorkingSetSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "rendersync",
	Name:      "working_set_size",
	Help:      "Tasks not yet resolved in the working set.",
}, []string{"mode"})

// TasksResolved counts tasks leaving the working set by outcome
// (transferred, failed).
var TasksResolved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rendersync",
	Name:      "tasks_resolved_total",
	Help:      "Tasks removed from a working set.",
}, []string{"mode", "outcome"})

// StatusQueryErrors counts failed status queries.
var StatusQueryErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "rendersync",
	Name:      "status_query_errors_total",
	Help:      "Failed task status queries.",
})

// ─── Transfers ──────────────────────────────────────────────────────────────

// Transfers counts transmitter invocations by transmit type and result.
var Transfers = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rendersync",
	Name:      "transfers_total",
	Help:      "Transmitter invocations.",
}, []string{"type", "result"})

// TransferDuration tracks transmitter run time in seconds.
var TransferDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "rendersync",
	Name:      "transfer_duration_seconds",
	Help:      "Transmitter run time in seconds.",
	Buckets:   []float64{0.5, 1, 5, 15, 60, 300, 900, 3600},
}, []string{"type"})

// RetriesExhausted counts operations that spent their retry budget.
var RetriesExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rendersync",
	Name:      "retries_exhausted_total",
	Help:      "Operations that failed on every attempt.",
}, []string{"op"})

// ─── Uploads ────────────────────────────────────────────────────────────────

// UploadsInFlight tracks dispatcher units currently running.
var UploadsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "rendersync",
	Name:      "uploads_in_flight",
	Help:      "Concurrent upload units currently running.",
})
