// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package audit

import "github.com/prometheus/client_golang/prometheus"

// DroppedTotal counts events that never reached a writer.
var DroppedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "courtcheck_audit_dropped_total",
		Help: "Total number of audit events dropped before delivery",
	},
	[]string{"reason"},
)

// FailuresTotal counts writer errors.
var FailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "courtcheck_audit_failures_total",
		Help: "Total number of audit writer failures",
	},
)

// RegisterMetrics registers audit metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(DroppedTotal, FailuresTotal)
}
