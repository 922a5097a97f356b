// Package telemetry exposes process-local Prometheus collectors. Failures and
// warnings from the export pipeline and the compute path are surfaced here
// instead of free-form console output.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Capture path metrics
	ActionsRecordedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apmlive_actions_recorded_total",
			Help: "Total number of input events accepted by the ledger",
		},
	)

	ActionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apmlive_actions_rejected_total",
			Help: "Total number of input events rejected by reason",
		},
		[]string{"reason"}, // not_recording, timestamp_regression
	)

	// Poll loop metrics
	PollTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apmlive_poll_ticks_total",
			Help: "Total number of statistics poll ticks",
		},
	)

	PollPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apmlive_poll_panics_total",
			Help: "Total number of recovered panics in the compute path",
		},
	)

	// Export pipeline metrics
	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apmlive_exports_total",
			Help: "Total number of export writes by format and status",
		},
		[]string{"format", "status"}, // status: ok, error
	)

	ExportsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apmlive_exports_rejected_total",
			Help: "Total number of export requests rejected because the queue was full",
		},
	)

	ExportQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apmlive_export_queue_depth",
			Help: "Number of export requests waiting for the worker",
		},
	)

	// Session lifecycle metrics
	SessionsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apmlive_sessions_started_total",
			Help: "Total number of recording sessions started",
		},
	)
)

// RecordActionRejected counts a rejected capture event.
func RecordActionRejected(reason string) {
	ActionsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordExport counts one export write outcome.
func RecordExport(format string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ExportsTotal.WithLabelValues(format, status).Inc()
}
