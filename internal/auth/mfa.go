// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// MFAVerifier checks a second-factor code against a user's secret.
type MFAVerifier interface {
	Verify(secret, code string, at time.Time) bool
}

// TOTPVerifier verifies RFC 6238 codes: 6 digits, 30 second period, SHA1.
type TOTPVerifier struct {
	// Skew is the number of periods accepted either side of at.
	Skew uint
}

// Verify returns true if code is valid for secret at the given time.
func (v TOTPVerifier) Verify(secret, code string, at time.Time) bool {
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    30,
		Skew:      v.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
