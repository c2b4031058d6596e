// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package observability

import "github.com/prometheus/client_golang/prometheus"

// Module load outcomes.
const (
	OutcomeSuccess        = "success"
	OutcomeFailed         = "failed"
	OutcomeRolledBack     = "rolled_back"
	OutcomeRollbackFailed = "rollback_failed"
)

// IPC request outcomes.
const (
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeClosed    = "closed"
)

// Metrics contains the domain collectors for dyno.
//
// All recording methods are safe on a nil *Metrics so packages can run
// without an observability server (tests, CLI one-shots).
type Metrics struct {
	ModuleLoads          *prometheus.CounterVec
	ModuleUnloadFailures prometheus.Counter
	ModulesActive        prometheus.Gauge
	IPCRequests          *prometheus.CounterVec
	IPCMalformed         prometheus.Counter
	IPCHandlerFailures   prometheus.Counter
}

// NewMetrics creates and registers dyno metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ModuleLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dyno_module_loads_total",
				Help: "Total number of module loads by outcome",
			},
			[]string{"outcome"},
		),
		ModuleUnloadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dyno_module_unload_failures_total",
			Help: "Total number of unload hooks that failed during a swap or unload",
		}),
		ModulesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dyno_modules_active",
			Help: "Number of modules currently installed in the registry",
		}),
		IPCRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dyno_ipc_requests_total",
				Help: "Total number of IPC requests by outcome",
			},
			[]string{"outcome"},
		),
		IPCMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dyno_ipc_malformed_total",
			Help: "Total number of inbound IPC messages dropped as malformed",
		}),
		IPCHandlerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dyno_ipc_handler_failures_total",
			Help: "Total number of IPC handler invocations that failed or panicked",
		}),
	}

	reg.MustRegister(
		m.ModuleLoads,
		m.ModuleUnloadFailures,
		m.ModulesActive,
		m.IPCRequests,
		m.IPCMalformed,
		m.IPCHandlerFailures,
	)
	return m
}

// RecordModuleLoad counts a load attempt by outcome.
func (m *Metrics) RecordModuleLoad(outcome string) {
	if m == nil {
		return
	}
	m.ModuleLoads.WithLabelValues(outcome).Inc()
}

// RecordUnloadFailure counts an ignored unload failure.
func (m *Metrics) RecordUnloadFailure() {
	if m == nil {
		return
	}
	m.ModuleUnloadFailures.Inc()
}

// SetModulesActive records the registry size.
func (m *Metrics) SetModulesActive(n int) {
	if m == nil {
		return
	}
	m.ModulesActive.Set(float64(n))
}

// RecordIPCRequest counts a settled request by outcome.
func (m *Metrics) RecordIPCRequest(outcome string) {
	if m == nil {
		return
	}
	m.IPCRequests.WithLabelValues(outcome).Inc()
}

// RecordMalformed counts a dropped inbound message.
func (m *Metrics) RecordMalformed() {
	if m == nil {
		return
	}
	m.IPCMalformed.Inc()
}

// RecordHandlerFailure counts a failed handler.
func (m *Metrics) RecordHandlerFailure() {
	if m == nil {
		return
	}
	m.IPCHandlerFailures.Inc()
}
