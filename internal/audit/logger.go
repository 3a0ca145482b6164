// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

// Package audit delivers authentication audit events to one or more writers
// without blocking the request path.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"

	"github.com/courtcheck/courtcheck/pkg/errutil"
)

// DefaultQueueSize is the number of events buffered before new ones are dropped.
const DefaultQueueSize = 1000

// Event is a single security-relevant occurrence.
type Event struct {
	Type      string    `json:"type"`
	Email     string    `json:"email,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Outcome   string    `json:"outcome"`
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Writer persists or forwards audit events.
type Writer interface {
	Write(ctx context.Context, event Event) error
	Close() error
}

// Options configures a Logger.
type Options struct {
	// QueueSize bounds the pending event buffer. Zero uses DefaultQueueSize.
	QueueSize int
	// WriteTimeout bounds a single Write call. Zero means no timeout.
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Logger queues events and fans them out to its writers on a worker goroutine.
// It implements auth.AuditSink.
type Logger struct {
	writers []Writer
	opts    Options
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	events chan Event
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewLogger starts a Logger that writes to writers.
func NewLogger(opts Options, writers ...Writer) (*Logger, error) {
	if len(writers) == 0 {
		return nil, oops.Code("AUDIT_INVALID_CONFIG").Errorf("at least one writer is required")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := &Logger{
		writers: writers,
		opts:    opts,
		logger:  opts.Logger,
		events:  make(chan Event, opts.QueueSize),
		stop:    make(chan struct{}),
	}
	l.wg.Add(1)
	go l.consume()
	return l, nil
}

// Record queues an event. It never blocks: a full queue or a closed logger
// drops the event and counts it.
func (l *Logger) Record(ctx context.Context, eventType, email, ip, outcome string) {
	event := Event{
		Type:      eventType,
		Email:     email,
		IP:        ip,
		Outcome:   outcome,
		Timestamp: l.opts.Now().UTC(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		event.TraceID = sc.TraceID().String()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		DroppedTotal.WithLabelValues("closed").Inc()
		return
	}
	select {
	case l.events <- event:
	default:
		DroppedTotal.WithLabelValues("queue_full").Inc()
		l.logger.Warn("audit queue full, dropping event",
			"event_type", eventType,
			"outcome", outcome,
		)
	}
}

func (l *Logger) consume() {
	defer l.wg.Done()
	for {
		select {
		case event := <-l.events:
			l.write(event)
		case <-l.stop:
			l.drain()
			return
		}
	}
}

func (l *Logger) drain() {
	for {
		select {
		case event := <-l.events:
			l.write(event)
		default:
			return
		}
	}
}

func (l *Logger) write(event Event) {
	for _, w := range l.writers {
		ctx := context.Background()
		cancel := context.CancelFunc(func() {})
		if l.opts.WriteTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, l.opts.WriteTimeout)
		}
		err := w.Write(ctx, event)
		cancel()
		if err != nil {
			FailuresTotal.Inc()
			errutil.LogError(
				l.logger.With("event_type", event.Type, "outcome", event.Outcome),
				"audit write failed", err)
		}
	}
}

// Close stops accepting events, drains the queue and closes every writer.
// Safe to call more than once.
func (l *Logger) Close() error {
	var errs []error
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.stop)
		l.mu.Unlock()

		l.wg.Wait()

		for _, w := range l.writers {
			if err := w.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	if err := errors.Join(errs...); err != nil {
		return oops.Code("AUDIT_CLOSE_FAILED").Wrap(err)
	}
	return nil
}
