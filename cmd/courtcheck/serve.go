// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/courtcheck/courtcheck/internal/audit"
	"github.com/courtcheck/courtcheck/internal/auth"
	"github.com/courtcheck/courtcheck/internal/auth/memory"
	"github.com/courtcheck/courtcheck/internal/auth/redisstore"
	"github.com/courtcheck/courtcheck/internal/auth/token"
	"github.com/courtcheck/courtcheck/internal/config"
	"github.com/courtcheck/courtcheck/internal/httpapi"
	"github.com/courtcheck/courtcheck/internal/logging"
	"github.com/courtcheck/courtcheck/internal/notify"
	"github.com/courtcheck/courtcheck/internal/store"
	"github.com/courtcheck/courtcheck/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the auth API server",
		Long: `Start the JSON API under /api/v1/auth together with the metrics and
health server. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd, deps)
		},
	}
}

// sessionBackend holds the shared session registry, blacklist and in-flight
// login counter. Without Redis they live in process memory.
type sessionBackend struct {
	sessions  auth.SessionRegistry
	blacklist token.Blacklist
	inflight  auth.InFlightCounter
	client    redis.UniversalClient
}

func (b *sessionBackend) close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

// runServe wires the service from cfg and blocks until ctx is done or a
// server fails.
func runServe(ctx context.Context, cfg config.Config, cmd *cobra.Command, deps *Deps) error {
	deps = deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.Setup("courtcheck", version, cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	logger.Info("starting courtcheck", "http_addr", cfg.HTTP.Addr, "metrics_addr", cfg.Metrics.Addr)

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(cfg.Database.URL, deps); err != nil {
			return err
		}
	}

	db, err := deps.DatabaseOpener(ctx, poolConfig(cfg.Database))
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database")
	stores := deps.StoresFactory(db)

	backend, err := openSessionBackend(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := backend.close(); closeErr != nil {
			logger.Warn("error closing redis client", "error", closeErr)
		}
	}()

	var bus MessageBus
	if cfg.NATS.URL != "" {
		bus, err = deps.BusConnector(cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer func() {
			if drainErr := bus.Drain(); drainErr != nil {
				logger.Warn("error draining nats connection", "error", drainErr)
			}
		}()
		logger.Info("connected to nats")
	}

	var ready atomic.Bool
	obs := deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready.Load)
	registerMetrics(obs.Registry())
	obs.AddCheck("database", db.Ping)
	if backend.client != nil {
		obs.AddCheck("redis", func(ctx context.Context) error {
			return backend.client.Ping(ctx).Err()
		})
	}

	auditLog, err := newAuditLogger(cfg, bus, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := auditLog.Close(); closeErr != nil {
			errutil.LogError(logger, "error closing audit log", closeErr)
		}
	}()

	queue, err := newNotifyQueue(cfg, bus, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if closeErr := queue.Close(closeCtx); closeErr != nil {
			errutil.LogError(logger, "error closing notification queue", closeErr)
		}
	}()

	issuer, err := token.NewIssuer(token.Config{
		SigningKey: []byte(cfg.Auth.SigningKey),
		Issuer:     cfg.Auth.Issuer,
		Now:        deps.Now,
		Logger:     logger,
	}, backend.blacklist)
	if err != nil {
		return err
	}

	coord, err := auth.NewCoordinator(cfg.Auth.Coordinator(), auth.Deps{
		Credentials:   stores.Credentials,
		Attempts:      stores.Attempts,
		RefreshTokens: stores.RefreshTokens,
		Sessions:      backend.sessions,
		Issuer:        issuer,
		Blacklist:     backend.blacklist,
		MFA:           auth.TOTPVerifier{Skew: cfg.Auth.MFASkew},
		Audit:         auditLog,
		Notifier:      queue,
		InFlight:      backend.inflight,
		Logger:        logger,
		Now:           deps.Now,
	})
	if err != nil {
		return err
	}

	api, err := httpapi.New(coord, httpapi.Options{
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
		TrustedProxies:    cfg.HTTP.TrustedProxies,
		Metrics:           obs.Metrics(),
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("SERVE_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	httpSrv := &http.Server{
		Handler:           api,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics.Addr != "" {
		obsErrChan, startErr := obs.Start()
		if startErr != nil {
			_ = listener.Close() //nolint:errcheck // the start error is the one worth reporting
			return startErr
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
		logger.Info("observability server started", "addr", obs.Addr())
	}

	apiErrChan := make(chan error, 1)
	go func() {
		defer close(apiErrChan)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			apiErrChan <- serveErr
		}
	}()

	ready.Store(true)
	cmd.Println("CourtCheck started")
	logger.Info("api server listening", "addr", listener.Addr().String())

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-apiErrChan:
		serveErr = oops.Code("SERVE_FAILED").Wrap(err)
		errutil.LogError(logger, "api server failed", serveErr)
	}
	ready.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	if err := obs.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}

	logger.Info("shutdown complete")
	return serveErr
}

func poolConfig(cfg config.DatabaseConfig) store.PoolConfig {
	return store.PoolConfig{
		URL:             cfg.URL,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
		ConnectAttempts: cfg.ConnectAttempts,
		ConnectBackoff:  cfg.ConnectBackoff,
	}
}

func autoMigrate(databaseURL string, deps *Deps) (err error) {
	migrator, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil && err == nil {
			err = oops.Code("MIGRATION_CLOSE_FAILED").Wrap(closeErr)
		}
	}()
	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "auto-migrate").Wrap(err)
	}
	slog.Info("database schema up to date")
	return nil
}

func openSessionBackend(ctx context.Context, cfg config.Config, deps *Deps, logger *slog.Logger) (*sessionBackend, error) {
	if cfg.Redis.URL == "" {
		logger.Warn("redis not configured, sessions and revocations are local to this process")
		return &sessionBackend{
			sessions:  memory.NewSessionRegistry(memory.WithClock(deps.Now)),
			blacklist: memory.NewBlacklist(memory.WithClock(deps.Now)),
		}, nil
	}

	client, err := deps.RedisConnector(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to redis")
	opts := []redisstore.Option{
		redisstore.WithKeyPrefix(cfg.Redis.KeyPrefix),
		redisstore.WithClock(deps.Now),
	}
	return &sessionBackend{
		sessions:  redisstore.NewSessionRegistry(client, opts...),
		blacklist: redisstore.NewBlacklist(client, opts...),
		inflight:  redisstore.NewInFlightCounter(client, opts...),
		client:    client,
	}, nil
}

func newAuditLogger(cfg config.Config, bus MessageBus, logger *slog.Logger) (*audit.Logger, error) {
	writers := []audit.Writer{audit.NewSlogWriter(logger.With("component", "audit"))}
	if bus != nil {
		writers = append(writers, audit.NewNATSWriter(bus, cfg.NATS.AuditSubject))
	}
	return audit.NewLogger(audit.Options{
		WriteTimeout: cfg.Auth.StoreTimeout,
		Logger:       logger,
	}, writers...)
}

func newNotifyQueue(cfg config.Config, bus MessageBus, logger *slog.Logger) (*notify.Queue, error) {
	var sender notify.Sender = notify.LogSender{Logger: logger.With("component", "notify")}
	if bus != nil {
		sender = notify.NewNATSSender(bus, cfg.NATS.NotifySubject)
	}
	return notify.NewQueue(sender, notify.Options{Logger: logger})
}

func registerMetrics(reg prometheus.Registerer) {
	auth.RegisterMetrics(reg)
	audit.RegisterMetrics(reg)
	notify.RegisterMetrics(reg)
}

// monitorServerErrors cancels ctx when a server reports an error. It exits when
// an error arrives, the channel closes, or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
