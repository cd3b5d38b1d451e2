// Package metrics defines vortex's prometheus instrumentation and a small
// debug HTTP surface (/healthz, /metrics) served by a chi router, adapted
// from the teacher's internal/api metrics middleware and server wiring.
// Unlike the teacher, there is no public REST API behind this router — the
// daemon's real RPC surface is the NDJSON socket in internal/daemon; this
// router exists purely for local operational visibility.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	vmsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_vms_created_total",
			Help: "Total number of VMs created, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	vmsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vortex_vms_active",
			Help: "Number of VMs currently tracked in the Running state.",
		},
	)

	vmOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vortex_vm_operation_duration_seconds",
			Help:    "Duration of VM lifecycle operations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	sessionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vortex_sessions_total",
			Help: "Number of sessions, labeled by state.",
		},
		[]string{"state"},
	)

	daemonRPCTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_daemon_rpc_total",
			Help: "Total number of daemon RPC commands handled, labeled by command and outcome.",
		},
		[]string{"command", "outcome"},
	)

	eventHandlerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_event_handler_failures_total",
			Help: "Total number of event handler invocations that returned an error or panicked.",
		},
		[]string{"handler"},
	)
)

func init() {
	prometheus.MustRegister(
		vmsCreatedTotal,
		vmsActive,
		vmOperationDuration,
		sessionsTotal,
		daemonRPCTotal,
		eventHandlerFailuresTotal,
	)
}

// RecordVMCreated increments the creation counter for the given outcome
// ("success" or "error").
func RecordVMCreated(outcome string) {
	vmsCreatedTotal.WithLabelValues(outcome).Inc()
}

// SetActiveVMs sets the current count of Running VMs.
func SetActiveVMs(n int) {
	vmsActive.Set(float64(n))
}

// ObserveVMOperation records how long a named VM lifecycle operation took.
func ObserveVMOperation(operation string, seconds float64) {
	vmOperationDuration.WithLabelValues(operation).Observe(seconds)
}

// SetSessionsByState replaces the session-count gauge for state.
func SetSessionsByState(state string, n int) {
	sessionsTotal.WithLabelValues(state).Set(float64(n))
}

// RecordDaemonRPC increments the RPC counter for the given command/outcome pair.
func RecordDaemonRPC(command, outcome string) {
	daemonRPCTotal.WithLabelValues(command, outcome).Inc()
}

// RecordEventHandlerFailure increments the failure counter for a named event handler.
func RecordEventHandlerFailure(handler string) {
	eventHandlerFailuresTotal.WithLabelValues(handler).Inc()
}
