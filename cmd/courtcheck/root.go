// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/courtcheck/courtcheck/internal/config"
	"github.com/courtcheck/courtcheck/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the CourtCheck CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmdWithDeps(nil)
}

func newRootCmdWithDeps(deps *Deps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "courtcheck",
		Short: "CourtCheck - authentication and session service",
		Long: `CourtCheck authenticates court staff, issues and revokes access tokens,
rotates refresh tokens and enforces lockout, rate and session limits.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/courtcheck/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd(deps))
	cmd.AddCommand(NewMigrateCmd(deps))
	cmd.AddCommand(NewSweepCmd(deps))
	cmd.AddCommand(NewUserCmd(deps))
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig merges the config file, flags and environment for cmd. A
// missing HOME only means there is no default file to look for.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	defaultFile, err := xdg.ConfigFile()
	if err != nil {
		defaultFile = ""
	}
	return config.Load(config.Options{
		File:        configFile,
		DefaultFile: defaultFile,
		Flags:       cmd.Flags(),
	})
}
