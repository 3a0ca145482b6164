// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

// Package notify delivers user-facing messages (lockout notices, password
// reset links) asynchronously with retries.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/courtcheck/courtcheck/pkg/errutil"
)

// Queue defaults.
const (
	DefaultQueueSize    = 256
	DefaultWorkers      = 2
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 500 * time.Millisecond
	DefaultSendTimeout  = 10 * time.Second
)

// Message is one notification addressed to a user.
type Message struct {
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	QueuedAt  time.Time `json:"queued_at"`
}

// Sender hands a message to a delivery channel.
type Sender interface {
	Deliver(ctx context.Context, msg Message) error
}

// Options configures a Queue. Zero fields take the package defaults.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   uint64
	RetryBackoff time.Duration
	SendTimeout  time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Queue buffers messages and delivers them from a fixed pool of workers.
// It implements auth.NotificationSink.
type Queue struct {
	sender Sender
	opts   Options

	mu       sync.RWMutex
	closed   bool
	messages chan Message
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once
}

// NewQueue starts opts.Workers delivery goroutines feeding sender.
func NewQueue(sender Sender, opts Options) (*Queue, error) {
	if sender == nil {
		return nil, oops.Code("NOTIFY_INVALID_CONFIG").Errorf("sender is required")
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		sender:   sender,
		opts:     opts,
		messages: make(chan Message, opts.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	for range opts.Workers {
		q.wg.Add(1)
		go q.work()
	}
	return q, nil
}

// Send queues a message without blocking. A full or closed queue drops it.
func (q *Queue) Send(_ context.Context, recipient, subject, body string) {
	msg := Message{Recipient: recipient, Subject: subject, Body: body, QueuedAt: q.opts.Now().UTC()}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		FailuresTotal.WithLabelValues("closed").Inc()
		return
	}
	select {
	case q.messages <- msg:
	default:
		FailuresTotal.WithLabelValues("queue_full").Inc()
		q.opts.Logger.Warn("notification queue full, dropping message", "subject", subject)
	}
}

func (q *Queue) work() {
	defer q.wg.Done()
	for msg := range q.messages {
		q.deliver(msg)
	}
}

func (q *Queue) deliver(msg Message) {
	backoff := retry.WithMaxRetries(q.opts.MaxRetries, retry.NewExponential(q.opts.RetryBackoff))
	err := retry.Do(q.ctx, backoff, func(ctx context.Context) error {
		sendCtx, cancel := context.WithTimeout(ctx, q.opts.SendTimeout)
		defer cancel()
		if err := q.sender.Deliver(sendCtx, msg); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		FailuresTotal.WithLabelValues("delivery").Inc()
		errutil.LogError(q.opts.Logger, "notification delivery failed",
			oops.Code("NOTIFY_DELIVERY_FAILED").
				With("subject", msg.Subject).
				With("attempts", q.opts.MaxRetries+1).
				Wrap(err))
	}
}

// Close stops accepting messages and waits for queued ones to be delivered.
// If ctx ends first, pending retries are abandoned and ctx's error returned.
func (q *Queue) Close(ctx context.Context) error {
	var err error
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.messages)
		q.mu.Unlock()

		done := make(chan struct{})
		go func() {
			q.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			q.cancel()
			<-done
			err = oops.Code("NOTIFY_CLOSE_TIMEOUT").Wrap(ctx.Err())
		}
		q.cancel()
	})
	return err
}
