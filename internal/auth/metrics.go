// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth

import "github.com/prometheus/client_golang/prometheus"

// LoginsTotal counts login attempts by outcome.
var LoginsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "courtcheck_auth_logins_total",
		Help: "Total number of login attempts by outcome",
	},
	[]string{"outcome"},
)

// RefreshTotal counts refresh calls by outcome.
var RefreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "courtcheck_auth_refresh_total",
		Help: "Total number of token refreshes by outcome",
	},
	[]string{"outcome"},
)

// TokensRevokedTotal counts refresh token revocations by reason.
var TokensRevokedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "courtcheck_auth_tokens_revoked_total",
		Help: "Total number of refresh tokens revoked by reason",
	},
	[]string{"reason"},
)

// SessionsEvictedTotal counts sessions evicted by forced logins.
var SessionsEvictedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "courtcheck_auth_sessions_evicted_total",
		Help: "Total number of sessions evicted to make room for a forced login",
	},
)

// RegisterMetrics registers auth metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LoginsTotal)
	reg.MustRegister(RefreshTotal)
	reg.MustRegister(TokensRevokedTotal)
	reg.MustRegister(SessionsEvictedTotal)
}

func recordRevoked(reason string, n int64) {
	if n > 0 {
		TokensRevokedTotal.WithLabelValues(reason).Add(float64(n))
	}
}
