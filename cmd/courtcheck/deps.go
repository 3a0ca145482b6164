// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/courtcheck/courtcheck/internal/auth"
	"github.com/courtcheck/courtcheck/internal/auth/postgres"
	"github.com/courtcheck/courtcheck/internal/observability"
	"github.com/courtcheck/courtcheck/internal/store"
)

// Deps contains injectable dependencies shared by the subcommands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// DatabaseOpener connects to PostgreSQL.
	// Default: store.OpenPool
	DatabaseOpener func(ctx context.Context, cfg store.PoolConfig) (Database, error)

	// MigratorFactory opens a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// StoresFactory builds the durable auth stores on a database.
	// Default: the internal/auth/postgres repositories
	StoresFactory func(db Database) Stores

	// RedisConnector connects to Redis and checks the connection.
	// Default: connectRedis
	RedisConnector func(ctx context.Context, url string) (redis.UniversalClient, error)

	// BusConnector connects to NATS.
	// Default: connectNATS
	BusConnector func(url string) (MessageBus, error)

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// ListenerFactory opens the public API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// Now is the clock.
	// Default: time.Now
	Now func() time.Time
}

// Database is the pool surface the commands use. *pgxpool.Pool satisfies it.
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	AppliedMigrations() ([]uint, error)
	Close() error
}

// Stores are the durable auth stores.
type Stores struct {
	Credentials   auth.CredentialStore
	Attempts      auth.LoginAttemptLedger
	RefreshTokens auth.RefreshTokenStore
}

// MessageBus wraps the methods used from *nats.Conn.
type MessageBus interface {
	Publish(subject string, data []byte) error
	Flush() error
	Drain() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registry() prometheus.Registerer
	Metrics() *observability.Metrics
	AddCheck(name string, check observability.Check)
}

func (d *Deps) withDefaults() *Deps {
	if d == nil {
		d = &Deps{}
	}
	if d.DatabaseOpener == nil {
		d.DatabaseOpener = func(ctx context.Context, cfg store.PoolConfig) (Database, error) {
			pool, err := store.OpenPool(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return pool, nil
		}
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(databaseURL string) (Migrator, error) {
			m, err := store.NewMigrator(databaseURL)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	if d.StoresFactory == nil {
		d.StoresFactory = postgresStores
	}
	if d.RedisConnector == nil {
		d.RedisConnector = connectRedis
	}
	if d.BusConnector == nil {
		d.BusConnector = connectNATS
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker, observability.WithLogger(slog.Default()))
		}
	}
	if d.ListenerFactory == nil {
		d.ListenerFactory = net.Listen
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func postgresStores(db Database) Stores {
	return Stores{
		Credentials:   postgres.NewCredentialRepository(db),
		Attempts:      postgres.NewAttemptLedger(db),
		RefreshTokens: postgres.NewRefreshTokenRepository(db),
	}
}

func connectRedis(ctx context.Context, url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("REDIS_CONFIG_INVALID").With("operation", "parse redis url").Wrap(err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // the ping error is the one worth reporting
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", opts.Addr).Wrap(err)
	}
	return client, nil
}

func connectNATS(url string) (MessageBus, error) {
	conn, err := nats.Connect(url,
		nats.Name("courtcheck"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, oops.Code("NATS_CONNECT_FAILED").Wrap(err)
	}
	return conn, nil
}
