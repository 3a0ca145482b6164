// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/courtcheck/courtcheck/internal/auth/memory"
	"github.com/courtcheck/courtcheck/internal/observability"
	"github.com/courtcheck/courtcheck/internal/store"
)

const testSigningKey = "cmd-test-signing-key-0123456789abcdef"

var errFakeDatabase = errors.New("fake database: no SQL in unit tests")

// fakeDatabase satisfies Database without a server. The stores under test
// are in memory, so no query should reach it.
type fakeDatabase struct {
	closed atomic.Bool
}

func (d *fakeDatabase) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errFakeDatabase
}

func (d *fakeDatabase) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errFakeDatabase
}

func (d *fakeDatabase) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

func (d *fakeDatabase) Ping(context.Context) error { return nil }

func (d *fakeDatabase) Close() { d.closed.Store(true) }

type errRow struct{}

func (errRow) Scan(...any) error { return errFakeDatabase }

// mockMigrator implements Migrator for testing.
type mockMigrator struct {
	version     uint
	dirty       bool
	pending     []uint
	applied     []uint
	upCalled    bool
	upError     error
	downCalled  bool
	steps       []int
	forced      *int
	closeCalled bool
	closeError  error
}

func (m *mockMigrator) Up() error {
	m.upCalled = true
	return m.upError
}

func (m *mockMigrator) Down() error {
	m.downCalled = true
	return nil
}

func (m *mockMigrator) Steps(n int) error {
	m.steps = append(m.steps, n)
	return nil
}

func (m *mockMigrator) Version() (uint, bool, error) {
	return m.version, m.dirty, nil
}

func (m *mockMigrator) Force(version int) error {
	m.forced = &version
	return nil
}

func (m *mockMigrator) PendingMigrations() ([]uint, error) { return m.pending, nil }

func (m *mockMigrator) AppliedMigrations() ([]uint, error) { return m.applied, nil }

func (m *mockMigrator) Close() error {
	m.closeCalled = true
	return m.closeError
}

// fakeBus records publishes in place of a NATS connection.
type fakeBus struct {
	mu       sync.Mutex
	subjects []string
	flushed  int
	drained  bool
}

func (b *fakeBus) Publish(subject string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subjects = append(b.subjects, subject)
	return nil
}

func (b *fakeBus) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushed++
	return nil
}

func (b *fakeBus) Drain() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drained = true
	return nil
}

func (b *fakeBus) published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.subjects...)
}

// mockObservabilityServer implements ObservabilityServer without listening.
type mockObservabilityServer struct {
	registry *prometheus.Registry
	metrics  *observability.Metrics
	ready    observability.ReadinessChecker
	checks   map[string]observability.Check
	started  atomic.Bool
	stopped  atomic.Bool
}

func newMockObservabilityServer(ready observability.ReadinessChecker) *mockObservabilityServer {
	reg := prometheus.NewRegistry()
	return &mockObservabilityServer{
		registry: reg,
		metrics:  observability.NewMetrics(reg),
		ready:    ready,
		checks:   make(map[string]observability.Check),
	}
}

func (s *mockObservabilityServer) Start() (<-chan error, error) {
	s.started.Store(true)
	return make(chan error), nil
}

func (s *mockObservabilityServer) Stop(context.Context) error {
	s.stopped.Store(true)
	return nil
}

func (s *mockObservabilityServer) Addr() string { return "127.0.0.1:0" }

func (s *mockObservabilityServer) Registry() prometheus.Registerer { return s.registry }

func (s *mockObservabilityServer) Metrics() *observability.Metrics { return s.metrics }

func (s *mockObservabilityServer) AddCheck(name string, check observability.Check) {
	s.checks[name] = check
}

// syncBuffer is a bytes.Buffer safe for the concurrent writers serve starts.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// memoryStores returns stores and a Deps that opens a fakeDatabase and hands
// out those stores.
func memoryStores() (Stores, *fakeDatabase, *Deps) {
	stores := Stores{
		Credentials:   memory.NewCredentialStore(),
		Attempts:      memory.NewAttemptLedger(),
		RefreshTokens: memory.NewRefreshTokenStore(),
	}
	db := &fakeDatabase{}
	deps := &Deps{
		DatabaseOpener: func(context.Context, store.PoolConfig) (Database, error) {
			return db, nil
		},
		StoresFactory: func(Database) Stores { return stores },
	}
	return stores, db, deps
}

// isolate points config discovery at an empty directory and clears the
// environment secrets Load reads.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, name := range []string{"DATABASE_URL", "REDIS_URL", "NATS_URL", "AUTH_SIGNING_KEY"} {
		t.Setenv("COURTCHECK_"+name, "")
	}
	configFile = ""
	prev := slog.Default()
	t.Cleanup(func() {
		configFile = ""
		slog.SetDefault(prev)
	})
}

// execute runs the root command with args and returns its combined output.
func execute(t *testing.T, deps *Deps, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmdWithDeps(deps)
	out := &syncBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetIn(bytes.NewBufferString(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}
