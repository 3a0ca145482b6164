// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package notify

import "github.com/prometheus/client_golang/prometheus"

// FailuresTotal counts messages that were not delivered, by reason.
var FailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "courtcheck_notify_failures_total",
		Help: "Total number of notifications dropped or failed after retries",
	},
	[]string{"reason"},
)

// RegisterMetrics registers notify metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(FailuresTotal)
}
