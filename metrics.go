package grantkit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// engineMetrics holds the engine's Prometheus collectors. They are always
// created so the engine can increment unconditionally; registration only
// happens when the caller supplies a registerer.
type engineMetrics struct {
	mutations       *prometheus.CounterVec
	mutationErrors  *prometheus.CounterVec
	sweepTransition *prometheus.CounterVec
	sweepRuns       prometheus.Counter
	notifyFailures  prometheus.Counter
	auditFailures   prometheus.Counter
}

func newEngineMetrics() *engineMetrics {
	return &engineMetrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grantkit",
			Name:      "mutations_total",
			Help:      "Completed grant mutations by operation.",
		}, []string{"operation"}),
		mutationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grantkit",
			Name:      "mutation_errors_total",
			Help:      "Failed grant mutations by operation.",
		}, []string{"operation"}),
		sweepTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grantkit",
			Name:      "sweep_transitions_total",
			Help:      "Applied expiration sweep transitions by kind.",
		}, []string{"transition"}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grantkit",
			Name:      "sweep_runs_total",
			Help:      "Completed expiration sweep invocations.",
		}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grantkit",
			Name:      "notification_failures_total",
			Help:      "Swallowed notification delivery failures.",
		}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grantkit",
			Name:      "audit_append_failures_total",
			Help:      "Swallowed audit log append failures.",
		}),
	}
}

func (m *engineMetrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.mutations,
		m.mutationErrors,
		m.sweepTransition,
		m.sweepRuns,
		m.notifyFailures,
		m.auditFailures,
	)
}
