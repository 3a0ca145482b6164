// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth

import "time"

// LogoutScope selects which refresh tokens a logout revokes.
type LogoutScope string

// Logout scopes.
const (
	// LogoutScopeUser revokes every refresh token the user holds.
	LogoutScopeUser LogoutScope = "user"
	// LogoutScopeSession revokes only the tokens bound to the logged-out session.
	LogoutScopeSession LogoutScope = "session"
)

// Config holds the coordinator's policy parameters.
type Config struct {
	// AccessTokenTTL is the lifetime of an access token.
	AccessTokenTTL time.Duration

	// RefreshTokenValidity is the lifetime of a refresh token.
	RefreshTokenValidity time.Duration

	// RefreshRotateAfter is the token age at which a refresh rotates it.
	// Zero rotates on every refresh.
	RefreshRotateAfter time.Duration

	// SessionTimeout is the fixed lifetime of a session from login.
	SessionTimeout time.Duration

	// MaxConcurrentSessions caps live sessions per user. Negative disables the cap.
	MaxConcurrentSessions int

	// ResetTokenValidity is the lifetime of a password reset token.
	ResetTokenValidity time.Duration

	// PasswordMaxAge expires passwords this long after they are set. Zero disables expiry.
	PasswordMaxAge time.Duration

	// StoreTimeout bounds every store call.
	StoreTimeout time.Duration

	// LogoutScope selects how broadly logout revokes refresh tokens.
	LogoutScope LogoutScope

	Lockout   LockoutPolicy
	RateLimit RateLimitPolicy
	Password  PasswordPolicy
}

// DefaultConfig returns the stock coordinator configuration.
func DefaultConfig() Config {
	return Config{
		AccessTokenTTL:        time.Hour,
		RefreshTokenValidity:  7 * 24 * time.Hour,
		RefreshRotateAfter:    24 * time.Hour,
		SessionTimeout:        24 * time.Hour,
		MaxConcurrentSessions: 3,
		ResetTokenValidity:    time.Hour,
		StoreTimeout:          5 * time.Second,
		LogoutScope:           LogoutScopeUser,
		Lockout:               DefaultLockoutPolicy(),
		RateLimit:             DefaultRateLimitPolicy(),
		Password:              DefaultPasswordPolicy(),
	}
}

// withDefaults fills zero fields. RefreshRotateAfter and PasswordMaxAge keep
// their zero meaning.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = def.AccessTokenTTL
	}
	if c.RefreshTokenValidity <= 0 {
		c.RefreshTokenValidity = def.RefreshTokenValidity
	}
	if c.RefreshRotateAfter < 0 {
		c.RefreshRotateAfter = 0
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = def.SessionTimeout
	}
	if c.MaxConcurrentSessions == 0 {
		c.MaxConcurrentSessions = def.MaxConcurrentSessions
	}
	if c.ResetTokenValidity <= 0 {
		c.ResetTokenValidity = def.ResetTokenValidity
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = def.StoreTimeout
	}
	if c.LogoutScope != LogoutScopeSession {
		c.LogoutScope = LogoutScopeUser
	}
	c.Lockout = c.Lockout.WithDefaults()
	return c
}
