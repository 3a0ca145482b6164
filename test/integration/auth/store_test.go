// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

//go:build integration

package auth_test

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/courtcheck/courtcheck/internal/auth"
	"github.com/courtcheck/courtcheck/internal/store"
)

var _ = Describe("Schema migrations", func() {
	It("reports every embedded migration as applied", func() {
		m, err := store.NewMigrator(env.connStr)
		Expect(err).NotTo(HaveOccurred())
		defer func() { Expect(m.Close()).To(Succeed()) }()

		version, dirty, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(dirty).To(BeFalse())
		Expect(version).To(BeNumerically("==", 4))

		pending, err := m.PendingMigrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})

	It("rolls back one step and reapplies it", func() {
		m, err := store.NewMigrator(env.connStr)
		Expect(err).NotTo(HaveOccurred())
		defer func() { Expect(m.Close()).To(Succeed()) }()

		Expect(m.Steps(-1)).To(Succeed())
		pending, err := m.PendingMigrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(ConsistOf(uint(4)))

		Expect(m.Up()).To(Succeed())
		version, _, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeNumerically("==", 3))
	})
})

var _ = Describe("Repositories", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		resetData(ctx)
	})

	It("rejects a second credential with the same email", func() {
		first := createUser(ctx)
		dup, err := auth.NewCredential(userEmail, first.PasswordHash, nil)
		Expect(err).NotTo(HaveOccurred())

		err = env.Credentials.Save(ctx, dup)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("email"))
	})

	It("finds a credential by its reset token hash", func() {
		cred := createUser(ctx)
		expires := time.Now().Add(time.Hour)
		cred.ResetTokenHash = auth.HashToken("reset-code")
		cred.ResetTokenExpiresAt = &expires
		Expect(env.Credentials.Save(ctx, cred)).To(Succeed())

		found, err := env.Credentials.FindByResetTokenHash(ctx, auth.HashToken("reset-code"))
		Expect(err).NotTo(HaveOccurred())
		Expect(found.ID).To(Equal(cred.ID))

		_, err = env.Credentials.FindByResetTokenHash(ctx, auth.HashToken("other"))
		Expect(err).To(MatchError(auth.ErrNotFound))
	})

	It("sweeps expired refresh tokens and old attempts", func() {
		cred := createUser(ctx)
		now := time.Now()
		for hash, expires := range map[string]time.Time{
			"expired": now.Add(-time.Minute),
			"live":    now.Add(time.Hour),
		} {
			Expect(env.RefreshTokens.Create(ctx, &auth.RefreshToken{
				ID:        ulid.Make(),
				TokenHash: hash,
				UserID:    cred.ID,
				Email:     cred.Email,
				SessionID: "s-" + hash,
				ExpiresAt: expires,
				CreatedAt: now.Add(-time.Hour),
			})).To(Succeed())
		}
		Expect(env.Attempts.Append(ctx,
			auth.NewLoginAttempt(userEmail, "203.0.113.9", "curl", "bad_password", now.Add(-48*time.Hour)))).To(Succeed())
		Expect(env.Attempts.Append(ctx,
			auth.NewLoginAttempt(userEmail, "203.0.113.9", "curl", "", now))).To(Succeed())

		deleted, err := env.RefreshTokens.DeleteExpired(ctx, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(BeNumerically("==", 1))

		pruned, err := env.Attempts.DeleteBefore(ctx, now.Add(-24*time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(pruned).To(BeNumerically("==", 1))

		_, err = env.RefreshTokens.GetByHash(ctx, "expired")
		Expect(err).To(MatchError(auth.ErrNotFound))
		_, err = env.RefreshTokens.GetByHash(ctx, "live")
		Expect(err).NotTo(HaveOccurred())
	})

	It("revokes a token only once", func() {
		cred := createUser(ctx)
		now := time.Now()
		Expect(env.RefreshTokens.Create(ctx, &auth.RefreshToken{
			ID:        ulid.Make(),
			TokenHash: "once",
			UserID:    cred.ID,
			Email:     cred.Email,
			SessionID: "s-once",
			ExpiresAt: now.Add(time.Hour),
			CreatedAt: now,
		})).To(Succeed())

		won, err := env.RefreshTokens.Revoke(ctx, "once", auth.RevokedRotated, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(won).To(BeTrue())

		won, err = env.RefreshTokens.Revoke(ctx, "once", auth.RevokedRotated, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(won).To(BeFalse())
	})
})
