// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/samber/oops"
)

// DefaultSubject is the NATS subject audit events are published on.
const DefaultSubject = "courtcheck.audit"

// SlogWriter writes events as structured log records.
type SlogWriter struct {
	logger *slog.Logger
}

// NewSlogWriter returns a writer that logs events to logger at info level.
func NewSlogWriter(logger *slog.Logger) *SlogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogWriter{logger: logger}
}

// Write implements Writer.
func (w *SlogWriter) Write(ctx context.Context, event Event) error {
	w.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("event_type", event.Type),
		slog.String("email", event.Email),
		slog.String("ip", event.IP),
		slog.String("outcome", event.Outcome),
		slog.String("trace_id", event.TraceID),
		slog.Time("at", event.Timestamp),
	)
	return nil
}

// Close implements Writer.
func (w *SlogWriter) Close() error { return nil }

// Publisher is the subset of *nats.Conn the NATS writer uses.
type Publisher interface {
	Publish(subject string, data []byte) error
	Flush() error
}

// NATSWriter publishes events as JSON to a NATS subject.
type NATSWriter struct {
	pub     Publisher
	subject string
}

// NewNATSWriter returns a writer publishing on subject. An empty subject uses
// DefaultSubject.
func NewNATSWriter(pub Publisher, subject string) *NATSWriter {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSWriter{pub: pub, subject: subject}
}

// Write implements Writer.
func (w *NATSWriter) Write(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return oops.Code("AUDIT_ENCODE_FAILED").Wrap(err)
	}
	if err := w.pub.Publish(w.subject+"."+event.Type, data); err != nil {
		return oops.Code("AUDIT_PUBLISH_FAILED").
			With("subject", w.subject).
			With("event_type", event.Type).
			Wrap(err)
	}
	return nil
}

// Close flushes buffered publishes. The connection itself belongs to the caller.
func (w *NATSWriter) Close() error {
	if err := w.pub.Flush(); err != nil {
		return oops.Code("AUDIT_FLUSH_FAILED").With("subject", w.subject).Wrap(err)
	}
	return nil
}
