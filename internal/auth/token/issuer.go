// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

// Package token issues and validates signed access tokens and defines the
// revocation blacklist they are checked against.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// MinKeyLength is the shortest accepted HMAC signing key in bytes (256 bits).
const MinKeyLength = 32

// DefaultIssuer is the iss claim used when none is configured.
const DefaultIssuer = "courtcheck"

// Blacklist stores revoked access tokens until their natural expiry.
type Blacklist interface {
	// Revoke marks token revoked until expiresAt. An already expired token is a no-op.
	Revoke(ctx context.Context, token string, expiresAt time.Time) error

	// IsRevoked reports whether token has been revoked.
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// Config configures an Issuer.
type Config struct {
	SigningKey []byte
	Issuer     string
	// Now overrides the clock. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Issuer mints HS256 access tokens and validates them against a blacklist.
type Issuer struct {
	key       []byte
	issuer    string
	now       func() time.Time
	blacklist Blacklist
	logger    *slog.Logger
	parser    *jwt.Parser
}

// NewIssuer creates an Issuer. A signing key under MinKeyLength bytes is rejected.
func NewIssuer(cfg Config, blacklist Blacklist) (*Issuer, error) {
	if len(cfg.SigningKey) < MinKeyLength {
		return nil, oops.Code("TOKEN_KEY_TOO_SHORT").
			With("length", len(cfg.SigningKey)).
			Wrap(ErrKeyTooShort)
	}
	if blacklist == nil {
		return nil, oops.Code("TOKEN_INVALID_CONFIG").Errorf("blacklist is required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Issuer{
		key:       slices.Clone(cfg.SigningKey),
		issuer:    cfg.Issuer,
		now:       cfg.Now,
		blacklist: blacklist,
		logger:    cfg.Logger,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(cfg.Now),
		),
	}, nil
}

// Issue signs a token for the user and returns it with its expiry.
func (i *Issuer) Issue(userID, email string, roles []string, sessionID string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, oops.Code("TOKEN_INVALID_TTL").With("ttl", ttl).Errorf("ttl must be positive")
	}
	// JWT times have second resolution.
	now := i.now().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	claims := &Claims{
		UserID:    userID,
		Roles:     slices.Clone(roles),
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_SIGN_FAILED").With("user_id", userID).Wrap(err)
	}
	return signed, expiresAt, nil
}

// Decode verifies the signature and registered claims and returns the
// claims. Failures are *DecodeError values.
func (i *Issuer) Decode(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := i.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return i.key, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return claims, nil
}

// DecodeUnverified extracts claims without checking the signature or expiry.
// Only use the result for best-effort bookkeeping, never for authorization.
func (i *Issuer) DecodeUnverified(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, &DecodeError{Kind: ErrMalformed, Err: err}
	}
	return claims, nil
}

// Validate reports whether the token is well formed, correctly signed,
// unexpired and not blacklisted. A blacklist failure counts as invalid.
func (i *Issuer) Validate(ctx context.Context, tokenString string) bool {
	if _, err := i.Decode(tokenString); err != nil {
		return false
	}
	revoked, err := i.blacklist.IsRevoked(ctx, tokenString)
	if err != nil {
		i.logger.WarnContext(ctx, "blacklist lookup failed, rejecting token", "error", err)
		return false
	}
	return !revoked
}

// Revoke blacklists the token until its expiry claim. Malformed tokens are
// ignored since they can never validate.
func (i *Issuer) Revoke(ctx context.Context, tokenString string) error {
	claims, err := i.DecodeUnverified(tokenString)
	if err != nil || claims.ExpiresAt == nil {
		return nil //nolint:nilerr // an undecodable token is already unusable
	}
	return i.blacklist.Revoke(ctx, tokenString, claims.ExpiresAt.Time)
}

// Now returns the issuer clock's current time.
func (i *Issuer) Now() time.Time {
	return i.now()
}

// Fingerprint returns the hex SHA-256 of a token, used as its blacklist key.
func Fingerprint(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])
}

// RemainingTTL returns how long a revocation must be kept. Zero means the
// token has already expired and need not be stored.
func RemainingTTL(expiresAt, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &DecodeError{Kind: ErrExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return &DecodeError{Kind: ErrSignature, Err: err}
	default:
		return &DecodeError{Kind: ErrMalformed, Err: err}
	}
}
