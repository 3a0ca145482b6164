// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

// Package observability serves Prometheus metrics and the liveness and
// readiness checks on a listener separate from the public API.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// DefaultCheckTimeout bounds a single dependency check during a readiness check.
const DefaultCheckTimeout = 2 * time.Second

// ReadinessChecker returns whether the service is ready to take traffic.
type ReadinessChecker func() bool

// Check tests one backing dependency, such as a database ping.
type Check func(ctx context.Context) error

// Metrics holds the HTTP API metrics shared by every route.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ChecksFailed    *prometheus.CounterVec
}

// NewMetrics creates and registers the HTTP API metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courtcheck_http_requests_total",
				Help: "Total number of API requests by route and status code",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "courtcheck_http_request_duration_seconds",
				Help:    "API request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		ChecksFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courtcheck_readiness_check_failures_total",
				Help: "Failed dependency checks during readiness checks",
			},
			[]string{"check"},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.ChecksFailed)
	return m
}

// ObserveRequest records one finished request. Safe on a nil receiver.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithCheckTimeout bounds each dependency check.
func WithCheckTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.checkTimeout = d
		}
	}
}

// Server exposes /metrics, /healthz/liveness and /healthz/readiness.
//
// Readiness fails while the readiness checker reports false, and otherwise
// runs every registered Check; any failing check makes readiness fail.
type Server struct {
	addr         string
	logger       *slog.Logger
	checkTimeout time.Duration
	registry     *prometheus.Registry
	metrics      *Metrics
	isReady      ReadinessChecker

	mu       sync.RWMutex
	checks   map[string]Check
	listener net.Listener
	httpSrv  *http.Server
	running  atomic.Bool
}

// NewServer creates a server for addr ("127.0.0.1:9100", or ":9100" for all
// interfaces). Go runtime and process collectors are registered up front.
func NewServer(addr string, readinessChecker ReadinessChecker, opts ...Option) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		addr:         addr,
		logger:       slog.Default(),
		checkTimeout: DefaultCheckTimeout,
		registry:     registry,
		metrics:      NewMetrics(registry),
		isReady:      readinessChecker,
		checks:       make(map[string]Check),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics returns the HTTP API metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Registry returns the registry served on /metrics.
func (s *Server) Registry() prometheus.Registerer {
	return s.registry
}

// AddCheck registers a dependency check under name, replacing any previous one.
func (s *Server) AddCheck(name string, check Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Start begins serving. The returned channel receives a serve error if the
// server fails and is closed when it stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("OBSERVABILITY_START_FAILED").Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("OBSERVABILITY_START_FAILED").With("addr", s.addr).Wrap(err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("GET /healthz/liveness", s.handleLiveness)
	mux.HandleFunc("GET /healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.httpSrv = httpSrv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	return errCh, nil
}

// Stop shuts the server down. Stopping a server that is not running is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.RLock()
	httpSrv := s.httpSrv
	s.mu.RUnlock()
	if err := httpSrv.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.Code("OBSERVABILITY_STOP_FAILED").Wrap(err)
	}
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, http.StatusOK, "ok\n")
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.isReady != nil && !s.isReady() {
		writeProbe(w, http.StatusServiceUnavailable, "not ready\n")
		return
	}

	failures := s.runChecks(r.Context())
	if len(failures) == 0 {
		writeProbe(w, http.StatusOK, "ok\n")
		return
	}
	var b strings.Builder
	for _, name := range slices.Sorted(maps.Keys(failures)) {
		fmt.Fprintf(&b, "%s: %v\n", name, failures[name])
	}
	writeProbe(w, http.StatusServiceUnavailable, b.String())
}

// runChecks runs every check concurrently and returns the failures by name.
func (s *Server) runChecks(ctx context.Context) map[string]error {
	s.mu.RLock()
	checks := maps.Clone(s.checks)
	s.mu.RUnlock()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures = make(map[string]error)
	)
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, s.checkTimeout)
			defer cancel()
			if err := check(checkCtx); err != nil {
				s.metrics.ChecksFailed.WithLabelValues(name).Inc()
				s.logger.Warn("readiness check failed", "check", name, "error", err)
				mu.Lock()
				failures[name] = err
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return failures
}

func writeProbe(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // health clients may disconnect
	w.Write([]byte(body))
}
