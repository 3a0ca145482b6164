// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth

import "context"

// Audit event types.
const (
	EventLogin                = "auth.login"
	EventLogout               = "auth.logout"
	EventRefresh              = "auth.refresh"
	EventPasswordChange       = "auth.password_change"
	EventPasswordResetRequest = "auth.password_reset_request"
	EventPasswordReset        = "auth.password_reset"
	EventAccountLocked        = "auth.account_locked"
	EventSessionEvicted       = "auth.session_evicted"
)

// Audit and metric outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeLocked       = "locked"
	OutcomeRateLimited  = "rate_limited"
	OutcomeMFARequired  = "mfa_required"
	OutcomeSessionLimit = "session_limit"
	OutcomeInvalidToken = "invalid_token"
)

// AuditSink records security-relevant events. Implementations must not block
// the caller; delivery failures are their own concern.
type AuditSink interface {
	Record(ctx context.Context, eventType, email, ip, outcome string)
}

// NotificationSink delivers a message to a user, fire-and-forget.
type NotificationSink interface {
	Send(ctx context.Context, recipient, subject, body string)
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, string, string, string, string) {}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, string, string, string) {}
