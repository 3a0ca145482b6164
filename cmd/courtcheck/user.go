// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/courtcheck/courtcheck/internal/auth"
)

// defaultUserTimeout bounds the database work of a user subcommand.
const defaultUserTimeout = 30 * time.Second

// NewUserCmd creates the user command and its subcommands.
func NewUserCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage staff credentials",
	}

	var (
		roles      []string
		mustChange bool
	)
	create := &cobra.Command{
		Use:   "create EMAIL",
		Short: "Create a credential, reading the password from stdin",
		Long: `Create an active credential. The password is read from the first line of
standard input and must satisfy the password policy.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, deps, func(ctx context.Context, cfg auth.Config, stores Stores) error {
				return runUserCreate(ctx, cmd, cfg, stores, deps.Now(), args[0], roles, mustChange)
			})
		},
	}
	create.Flags().StringSliceVar(&roles, "role", nil, "role to grant (repeatable)")
	create.Flags().BoolVar(&mustChange, "must-change-password", false, "require a password change after first login")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "unlock EMAIL",
		Short: "Clear the failure count and lockout of a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, deps, func(ctx context.Context, _ auth.Config, stores Stores) error {
				return updateCredential(ctx, cmd, stores, args[0], func(cred *auth.Credential) string {
					cred.ClearLockout(deps.Now())
					return "Unlocked " + cred.Email
				})
			})
		},
	})

	var enable bool
	activation := &cobra.Command{
		Use:   "set-active EMAIL",
		Short: "Enable or disable a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, deps, func(ctx context.Context, _ auth.Config, stores Stores) error {
				return updateCredential(ctx, cmd, stores, args[0], func(cred *auth.Credential) string {
					cred.Active = enable
					cred.UpdatedAt = deps.Now()
					if enable {
						return "Enabled " + cred.Email
					}
					return "Disabled " + cred.Email
				})
			})
		},
	}
	activation.Flags().BoolVar(&enable, "enabled", true, "whether the credential may log in")
	cmd.AddCommand(activation)

	cmd.AddCommand(&cobra.Command{
		Use:   "enroll-mfa EMAIL",
		Short: "Generate a TOTP secret and require it at login",
		Long: `Generate a new TOTP secret for the credential, enable MFA and print the
otpauth:// URL to load into an authenticator app. Any previous secret stops working.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, deps, func(ctx context.Context, _ auth.Config, stores Stores) error {
				return runEnrollMFA(ctx, cmd, stores, deps.Now(), args[0])
			})
		},
	})

	return cmd
}

// withStores loads config, opens the database and runs fn with the stores.
func withStores(cmd *cobra.Command, deps *Deps, fn func(context.Context, auth.Config, Stores) error) error {
	deps = deps.withDefaults()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("database.url is required (set it in the config file or COURTCHECK_DATABASE_URL)")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), defaultUserTimeout)
	defer cancel()

	db, err := deps.DatabaseOpener(ctx, poolConfig(cfg.Database))
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, cfg.Auth.Coordinator(), deps.StoresFactory(db))
}

func runUserCreate(ctx context.Context, cmd *cobra.Command, cfg auth.Config, stores Stores, now time.Time, email string, roles []string, mustChange bool) error {
	password, err := readPassword(cmd.InOrStdin())
	if err != nil {
		return err
	}
	if err := cfg.Password.Check(password); err != nil {
		return err
	}

	hash, err := auth.NewArgon2idHasher().Hash(password)
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").With("operation", "hash password").Wrap(err)
	}
	cred, err := auth.NewCredential(email, hash, roles)
	if err != nil {
		return err
	}
	cred.SetPassword(hash, now, cfg.PasswordMaxAge)
	cred.MustChangePassword = mustChange
	cred.CreatedAt = now

	if err := stores.Credentials.Save(ctx, cred); err != nil {
		return err
	}
	cmd.Printf("Created %s (%s)\n", cred.Email, cred.ID)
	return nil
}

func runEnrollMFA(ctx context.Context, cmd *cobra.Command, stores Stores, now time.Time, email string) error {
	normalized, err := auth.NormalizeEmail(email)
	if err != nil {
		return err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "CourtCheck",
		AccountName: normalized,
	})
	if err != nil {
		return oops.Code("USER_MFA_FAILED").With("operation", "generate totp secret").Wrap(err)
	}

	err = updateCredential(ctx, cmd, stores, normalized, func(cred *auth.Credential) string {
		cred.MFASecret = key.Secret()
		cred.MFAEnabled = true
		cred.UpdatedAt = now
		return "MFA enabled for " + cred.Email
	})
	if err != nil {
		return err
	}
	cmd.Println(key.URL())
	return nil
}

// updateCredential loads the credential for email, applies mutate and saves
// it. mutate returns the line to print on success.
func updateCredential(ctx context.Context, cmd *cobra.Command, stores Stores, email string, mutate func(*auth.Credential) string) error {
	normalized, err := auth.NormalizeEmail(email)
	if err != nil {
		return err
	}
	cred, err := stores.Credentials.FindByEmail(ctx, normalized)
	if errors.Is(err, auth.ErrNotFound) {
		return oops.Code("USER_NOT_FOUND").With("email", normalized).Errorf("no credential for %s", normalized)
	}
	if err != nil {
		return err
	}

	msg := mutate(cred)
	if err := stores.Credentials.Save(ctx, cred); err != nil {
		return err
	}
	cmd.Println(msg)
	return nil
}

// readPassword returns the first line of r without its line ending.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", oops.Code("USER_PASSWORD_READ_FAILED").Wrap(err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", oops.Code("USER_PASSWORD_REQUIRED").Errorf("password must be provided on stdin")
	}
	return line, nil
}
