// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/samber/oops"
)

// DefaultSubject is the NATS subject outbound notifications are published on.
const DefaultSubject = "courtcheck.notify"

// LogSender writes messages to a logger instead of delivering them. The body
// is omitted because it may carry a reset token.
type LogSender struct {
	Logger *slog.Logger
}

// Deliver implements Sender.
func (s LogSender) Deliver(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"recipient", msg.Recipient,
		"subject", msg.Subject,
	)
	return nil
}

// Publisher is the subset of *nats.Conn the NATS sender uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSender publishes messages as JSON for a mailer service to pick up.
type NATSSender struct {
	pub     Publisher
	subject string
}

// NewNATSSender returns a sender publishing on subject. An empty subject uses
// DefaultSubject.
func NewNATSSender(pub Publisher, subject string) *NATSSender {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSender{pub: pub, subject: subject}
}

// Deliver implements Sender.
func (s *NATSSender) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("NOTIFY_CANCELED").Wrap(err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return oops.Code("NOTIFY_ENCODE_FAILED").Wrap(err)
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		return oops.Code("NOTIFY_PUBLISH_FAILED").With("subject", s.subject).Wrap(err)
	}
	return nil
}
