// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

//go:build integration

package auth_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/courtcheck/courtcheck/internal/auth"
)

var _ = Describe("Coordinator on PostgreSQL and Redis", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		resetData(ctx)
		createUser(ctx)
	})

	Describe("session lifecycle", func() {
		It("logs in, validates, logs out and rejects the revoked tokens", func() {
			coord := newCoordinator(nil)

			res, err := login(ctx, coord, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(auth.LoginAuthenticated))
			Expect(res.TokenType).To(Equal(auth.TokenType))

			v := coord.ValidateToken(ctx, res.AccessToken)
			Expect(v.Valid).To(BeTrue())
			Expect(v.Email).To(Equal(userEmail))
			Expect(v.SessionID).To(Equal(res.SessionID))

			stored, err := env.RefreshTokens.GetByHash(ctx, auth.HashToken(res.RefreshToken))
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.SessionID).To(Equal(res.SessionID))
			Expect(stored.Revoked).To(BeFalse())
			Expect(stored.SessionExpiresAt).To(BeTemporally("~", time.Now().Add(auth.DefaultConfig().SessionTimeout), time.Minute))

			Expect(coord.Logout(ctx, res.AccessToken).Success).To(BeTrue())
			Expect(coord.ValidateToken(ctx, res.AccessToken).Valid).To(BeFalse())

			stored, err = env.RefreshTokens.GetByHash(ctx, auth.HashToken(res.RefreshToken))
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Revoked).To(BeTrue())
			Expect(stored.RevokedReason).To(Equal(auth.RevokedLogout))

			_, err = coord.Refresh(ctx, res.RefreshToken, "198.51.100.20", "court-ui/2.1")
			Expect(errors.Is(err, auth.ErrInvalidToken)).To(BeTrue())
		})

		It("records every attempt in the ledger", func() {
			coord := newCoordinator(nil)

			_, err := coord.Login(ctx, auth.LoginRequest{Email: userEmail, Password: "wrong", IP: "198.51.100.20"})
			Expect(errors.Is(err, auth.ErrAuthentication)).To(BeTrue())
			_, err = login(ctx, coord, false)
			Expect(err).NotTo(HaveOccurred())

			n, err := env.Attempts.CountByIPSince(ctx, "198.51.100.20", time.Now().Add(-time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))
		})
	})

	Describe("refresh rotation", func() {
		It("lets exactly one concurrent caller rotate a token", func() {
			coord := newCoordinator(func(cfg *auth.Config) { cfg.RefreshRotateAfter = 0 })

			res, err := login(ctx, coord, false)
			Expect(err).NotTo(HaveOccurred())

			const callers = 8
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				winners  []*auth.RefreshResult
				rejected int
			)
			start := make(chan struct{})
			for range callers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					<-start
					out, err := coord.Refresh(ctx, res.RefreshToken, "198.51.100.20", "court-ui/2.1")
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						Expect(errors.Is(err, auth.ErrInvalidToken)).To(BeTrue(), "unexpected error: %v", err)
						rejected++
						return
					}
					winners = append(winners, out)
				}()
			}
			close(start)
			wg.Wait()

			Expect(winners).To(HaveLen(1))
			Expect(rejected).To(Equal(callers - 1))
			Expect(winners[0].Rotated).To(BeTrue())
			Expect(winners[0].RefreshToken).NotTo(Equal(res.RefreshToken))

			old, err := env.RefreshTokens.GetByHash(ctx, auth.HashToken(res.RefreshToken))
			Expect(err).NotTo(HaveOccurred())
			Expect(old.RevokedReason).To(Equal(auth.RevokedRotated))

			_, err = coord.Refresh(ctx, winners[0].RefreshToken, "198.51.100.20", "court-ui/2.1")
			Expect(err).NotTo(HaveOccurred())
		})

		It("keeps the token when it is younger than the rotation age", func() {
			coord := newCoordinator(nil)

			res, err := login(ctx, coord, false)
			Expect(err).NotTo(HaveOccurred())

			out, err := coord.Refresh(ctx, res.RefreshToken, "198.51.100.20", "court-ui/2.1")
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Rotated).To(BeFalse())
			Expect(out.RefreshToken).To(Equal(res.RefreshToken))
			Expect(coord.ValidateToken(ctx, out.AccessToken).Valid).To(BeTrue())
		})
	})

	Describe("lockout", func() {
		It("persists the lock on the credential row", func() {
			coord := newCoordinator(nil)

			var err error
			for range auth.DefaultMaxLoginAttempts {
				_, err = coord.Login(ctx, auth.LoginRequest{Email: userEmail, Password: "wrong", IP: "198.51.100.21"})
			}
			Expect(errors.Is(err, auth.ErrAuthentication)).To(BeTrue(), "the locking failure still reads as a bad password")

			cred, err := env.Credentials.FindByEmail(ctx, userEmail)
			Expect(err).NotTo(HaveOccurred())
			Expect(cred.FailedAttempts).To(Equal(auth.DefaultMaxLoginAttempts))
			Expect(cred.IsLockedAt(time.Now())).To(BeTrue())

			_, err = login(ctx, coord, false)
			Expect(errors.Is(err, auth.ErrAccountLocked)).To(BeTrue())
			minutes, locked := auth.LockedMinutes(err)
			Expect(locked).To(BeTrue())
			Expect(minutes).To(BeNumerically("~", 15, 1))
		})
	})

	Describe("concurrent failures", func() {
		It("counts every failure", func() {
			coord := newCoordinator(func(cfg *auth.Config) {
				cfg.Lockout.MaxAttempts = 100
				cfg.RateLimit.MaxPerIP = 0
			})

			authErrs, locked, limited := burst(ctx, coord, 30, "198.51.100.30")
			Expect(authErrs).To(Equal(30))
			Expect(locked + limited).To(BeZero())

			cred, err := env.Credentials.FindByEmail(ctx, userEmail)
			Expect(err).NotTo(HaveOccurred())
			Expect(cred.FailedAttempts).To(Equal(30))
			Expect(cred.LockoutUntil).To(BeNil())
		})

		It("locks the account once the threshold is crossed", func() {
			coord := newCoordinator(func(cfg *auth.Config) { cfg.RateLimit.MaxPerIP = 0 })

			authErrs, locked, _ := burst(ctx, coord, 30, "198.51.100.31")
			Expect(authErrs + locked).To(Equal(30))

			cred, err := env.Credentials.FindByEmail(ctx, userEmail)
			Expect(err).NotTo(HaveOccurred())
			Expect(cred.FailedAttempts).To(Equal(authErrs))
			Expect(cred.IsLockedAt(time.Now())).To(BeTrue())

			_, err = login(ctx, coord, false)
			Expect(errors.Is(err, auth.ErrAccountLocked)).To(BeTrue())
		})

		It("holds a burst from one address to the per-IP limit across coordinators", func() {
			mutate := func(cfg *auth.Config) { cfg.Lockout.MaxAttempts = 1000 }
			first, second := newCoordinator(mutate), newCoordinator(mutate)

			var (
				wg                 sync.WaitGroup
				errsA, errsB       int
				limitedA, limitedB int
			)
			wg.Add(2)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				errsA, _, limitedA = burst(ctx, first, 30, "198.51.100.32")
			}()
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				errsB, _, limitedB = burst(ctx, second, 30, "198.51.100.32")
			}()
			wg.Wait()

			verified := errsA + errsB
			Expect(verified + limitedA + limitedB).To(Equal(60))
			Expect(verified).To(BeNumerically(">", 0))
			Expect(verified).To(BeNumerically("<=", auth.DefaultMaxAttemptsPerIP))

			n, err := env.Attempts.CountByIPSince(ctx, "198.51.100.32", time.Now().Add(-time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(60))
			Expect(env.redis.Exists("itest:inflight:198.51.100.32")).To(BeFalse(), "every reservation was released")
		})
	})

	Describe("credential updates", func() {
		It("refuses to record a login verified against a replaced password", func() {
			cred, err := env.Credentials.FindByEmail(ctx, userEmail)
			Expect(err).NotTo(HaveOccurred())
			now := time.Now()

			_, err = env.Credentials.RecordFailure(ctx, cred.ID, auth.DefaultLockoutPolicy(), now)
			Expect(err).NotTo(HaveOccurred())

			upd := auth.NewPasswordUpdate("replaced-hash", now, 0)
			upd.ExpectHash = cred.PasswordHash
			applied, err := env.Credentials.UpdatePassword(ctx, cred.ID, upd)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeTrue())

			ok, err := env.Credentials.RecordSuccess(ctx, cred.ID, cred.PasswordHash, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			after, err := env.Credentials.FindByID(ctx, cred.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(after.PasswordHash).To(Equal("replaced-hash"))
			Expect(after.FailedAttempts).To(Equal(1))
			Expect(after.LastLoginAt).To(BeNil())
		})

		It("does not extend an active lock and restarts after it elapses", func() {
			cred, err := env.Credentials.FindByEmail(ctx, userEmail)
			Expect(err).NotTo(HaveOccurred())
			policy := auth.LockoutPolicy{MaxAttempts: 2, Duration: time.Minute}
			now := time.Now().UTC().Truncate(time.Microsecond)

			_, err = env.Credentials.RecordFailure(ctx, cred.ID, policy, now)
			Expect(err).NotTo(HaveOccurred())
			out, err := env.Credentials.RecordFailure(ctx, cred.ID, policy, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.JustLocked).To(BeTrue())
			Expect(out.LockoutUntil).NotTo(BeNil())
			Expect(out.LockoutUntil.Equal(now.Add(time.Minute))).To(BeTrue())

			out, err = env.Credentials.RecordFailure(ctx, cred.ID, policy, now.Add(30*time.Second))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.JustLocked).To(BeFalse())
			Expect(out.FailedAttempts).To(Equal(3))
			Expect(out.LockoutUntil.Equal(now.Add(time.Minute))).To(BeTrue())

			out, err = env.Credentials.RecordFailure(ctx, cred.ID, policy, now.Add(2*time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.FailedAttempts).To(Equal(1))
			Expect(out.LockoutUntil).To(BeNil())
		})
	})

	Describe("concurrent session limit", func() {
		It("refuses a second session unless forced, then evicts the oldest", func() {
			coord := newCoordinator(func(cfg *auth.Config) { cfg.MaxConcurrentSessions = 1 })

			first, err := login(ctx, coord, false)
			Expect(err).NotTo(HaveOccurred())

			_, err = login(ctx, coord, false)
			Expect(errors.Is(err, auth.ErrSessionLimit)).To(BeTrue())

			second, err := login(ctx, coord, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.SessionID).NotTo(Equal(first.SessionID))

			Expect(coord.ValidateToken(ctx, first.AccessToken).Valid).To(BeFalse())
			Expect(coord.ValidateToken(ctx, second.AccessToken).Valid).To(BeTrue())

			_, err = coord.Refresh(ctx, first.RefreshToken, "198.51.100.20", "court-ui/2.1")
			Expect(errors.Is(err, auth.ErrInvalidToken)).To(BeTrue())
		})
	})

	Describe("password change", func() {
		It("revokes every outstanding token", func() {
			coord := newCoordinator(nil)

			res, err := login(ctx, coord, false)
			Expect(err).NotTo(HaveOccurred())

			Expect(coord.ChangePassword(ctx, userEmail, userPassword, "N3w!Gavel-2026")).To(Succeed())

			Expect(coord.ValidateToken(ctx, res.AccessToken).Valid).To(BeFalse())
			_, err = coord.Refresh(ctx, res.RefreshToken, "198.51.100.20", "court-ui/2.1")
			Expect(errors.Is(err, auth.ErrInvalidToken)).To(BeTrue())

			cred, err := env.Credentials.FindByEmail(ctx, userEmail)
			Expect(err).NotTo(HaveOccurred())
			ok, err := fastHasher().Verify("N3w!Gavel-2026", cred.PasswordHash)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})
})
