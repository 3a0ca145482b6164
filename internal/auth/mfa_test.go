// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtcheck/courtcheck/internal/auth"
)

func TestTOTPVerifier(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "CourtCheck", AccountName: testEmail})
	require.NoError(t, err)
	secret := key.Secret()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	code, err := totp.GenerateCode(secret, at)
	require.NoError(t, err)

	strict := auth.TOTPVerifier{}
	lenient := auth.TOTPVerifier{Skew: 1}

	assert.True(t, strict.Verify(secret, code, at))
	assert.False(t, strict.Verify(secret, code, at.Add(2*time.Minute)))
	assert.True(t, lenient.Verify(secret, code, at.Add(30*time.Second)))
	assert.False(t, strict.Verify(secret, "000000x", at))
	assert.False(t, strict.Verify("", code, at))
	assert.False(t, strict.Verify(secret, "", at))
}
