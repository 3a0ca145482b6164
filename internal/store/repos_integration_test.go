// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/courtcheck/courtcheck/internal/auth"
	"github.com/courtcheck/courtcheck/internal/auth/postgres"
)

var _ = Describe("PostgreSQL auth stores", func() {
	var (
		ctx  context.Context
		pool *pgxpool.Pool
		now  time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		pool = migratedPool(ctx)
		now = time.Now().UTC().Truncate(time.Microsecond)
		_, err := pool.Exec(ctx, `TRUNCATE credentials, login_attempts, refresh_tokens`)
		Expect(err).NotTo(HaveOccurred())
	})

	newCredential := func(email string) *auth.Credential {
		cred, err := auth.NewCredential(email, "$argon2id$hash", []string{"officer"})
		Expect(err).NotTo(HaveOccurred())
		cred.CreatedAt, cred.UpdatedAt = now, now
		return cred
	}

	Describe("CredentialRepository", func() {
		It("round-trips a credential and updates it in place", func() {
			repo := postgres.NewCredentialRepository(pool)
			cred := newCredential("a@x.com")
			Expect(repo.Save(ctx, cred)).To(Succeed())

			cred.RecordFailure(auth.DefaultLockoutPolicy(), now)
			cred.ResetTokenHash = "reset-hash"
			expires := now.Add(time.Hour)
			cred.ResetTokenExpiresAt = &expires
			Expect(repo.Save(ctx, cred)).To(Succeed())

			got, err := repo.FindByEmail(ctx, "a@x.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(cred.ID))
			Expect(got.FailedAttempts).To(Equal(1))
			Expect(got.Roles).To(ConsistOf("officer"))

			byReset, err := repo.FindByResetTokenHash(ctx, "reset-hash")
			Expect(err).NotTo(HaveOccurred())
			Expect(byReset.ID).To(Equal(cred.ID))
			Expect(byReset.ResetTokenExpiresAt.Equal(expires)).To(BeTrue())
		})

		It("rejects a second credential with the same email", func() {
			repo := postgres.NewCredentialRepository(pool)
			Expect(repo.Save(ctx, newCredential("dup@x.com"))).To(Succeed())
			err := repo.Save(ctx, newCredential("dup@x.com"))
			Expect(err).To(MatchError(ContainSubstring("already registered")))
		})

		It("reports unknown users as not found", func() {
			_, err := postgres.NewCredentialRepository(pool).FindByEmail(ctx, "nobody@x.com")
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("AttemptLedger", func() {
		It("counts attempts per IP inside the window and prunes old ones", func() {
			ledger := postgres.NewAttemptLedger(pool)
			for i := range 3 {
				at := now.Add(-time.Duration(i) * time.Minute)
				Expect(ledger.Append(ctx, auth.NewLoginAttempt("a@x.com", "198.51.100.1", "ua", auth.ReasonBadPassword, at))).To(Succeed())
			}
			Expect(ledger.Append(ctx, auth.NewLoginAttempt("a@x.com", "198.51.100.2", "ua", "", now))).To(Succeed())

			n, err := ledger.CountByIPSince(ctx, "198.51.100.1", now.Add(-90*time.Second))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))

			pruned, err := ledger.DeleteBefore(ctx, now.Add(-30*time.Second))
			Expect(err).NotTo(HaveOccurred())
			Expect(pruned).To(Equal(int64(2)))
		})
	})

	Describe("RefreshTokenRepository", func() {
		It("lets exactly one concurrent revoke win", func() {
			cred := newCredential("rt@x.com")
			Expect(postgres.NewCredentialRepository(pool).Save(ctx, cred)).To(Succeed())

			repo := postgres.NewRefreshTokenRepository(pool)
			plain, hash, err := auth.GenerateOpaqueToken()
			Expect(err).NotTo(HaveOccurred())
			Expect(plain).NotTo(BeEmpty())
			Expect(repo.Create(ctx, &auth.RefreshToken{
				ID: cred.ID, TokenHash: hash, UserID: cred.ID, Email: cred.Email,
				SessionID: "s-1", ExpiresAt: now.Add(time.Hour), CreatedAt: now,
			})).To(Succeed())

			var wins atomic.Int32
			var wg sync.WaitGroup
			for range 8 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					ok, err := repo.Revoke(ctx, hash, auth.RevokedRotated, now)
					Expect(err).NotTo(HaveOccurred())
					if ok {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			Expect(wins.Load()).To(Equal(int32(1)))

			got, err := repo.GetByHash(ctx, hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Revoked).To(BeTrue())
			Expect(got.RevokedReason).To(Equal(auth.RevokedRotated))
		})
	})
})
