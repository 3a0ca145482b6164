// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// Sweep defaults.
const (
	defaultSweepTimeout     = 30 * time.Second
	defaultAttemptRetention = 30 * 24 * time.Hour
)

// sweepConfig holds configuration for the sweep command.
type sweepConfig struct {
	timeout          time.Duration
	attemptRetention time.Duration
}

// NewSweepCmd creates the sweep subcommand.
func NewSweepCmd(deps *Deps) *cobra.Command {
	cfg := &sweepConfig{}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired refresh tokens and old login attempts",
		Long: `Deletes refresh tokens past their expiry and login attempts older than
the retention period. Safe to run repeatedly, e.g. from cron.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd, cfg, deps)
		},
	}

	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultSweepTimeout, "timeout for database operations (e.g., 30s, 1m)")
	cmd.Flags().DurationVar(&cfg.attemptRetention, "attempt-retention", defaultAttemptRetention, "keep login attempts this long")

	return cmd
}

func runSweep(cmd *cobra.Command, cfg *sweepConfig, deps *Deps) error {
	deps = deps.withDefaults()
	if cfg.attemptRetention <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("attempt-retention must be positive")
	}

	appCfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if appCfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("database.url is required (set it in the config file or COURTCHECK_DATABASE_URL)")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	db, err := deps.DatabaseOpener(ctx, poolConfig(appCfg.Database))
	if err != nil {
		return err
	}
	defer db.Close()
	stores := deps.StoresFactory(db)
	now := deps.Now()

	tokens, err := stores.RefreshTokens.DeleteExpired(ctx, now)
	if err != nil {
		return oops.Code("SWEEP_FAILED").With("operation", "delete expired refresh tokens").Wrap(err)
	}
	attempts, err := stores.Attempts.DeleteBefore(ctx, now.Add(-cfg.attemptRetention))
	if err != nil {
		return oops.Code("SWEEP_FAILED").With("operation", "delete old login attempts").Wrap(err)
	}

	cmd.Printf("Deleted %d expired refresh token(s)\n", tokens)
	cmd.Printf("Deleted %d login attempt(s) older than %s\n", attempts, cfg.attemptRetention)
	return nil
}
