// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtcheck/courtcheck/internal/auth"
)

func TestPasswordPolicy_Check(t *testing.T) {
	policy := auth.DefaultPasswordPolicy()

	tests := []struct {
		name     string
		password string
		problems []string
	}{
		{name: "strong", password: "Corr3ct!Horse"},
		{name: "exactly minimum length", password: "Ab3$efgh"},
		{name: "too short", password: "Ab3$efg", problems: []string{"at least 8 characters"}},
		{name: "missing upper", password: "corr3ct!horse", problems: []string{"uppercase"}},
		{name: "missing lower", password: "CORR3CT!HORSE", problems: []string{"lowercase"}},
		{name: "missing digit", password: "Correct!Horse", problems: []string{"digit"}},
		{name: "missing symbol", password: "Corr3ctHorse", problems: []string{"symbol"}},
		{name: "empty lists every rule", password: "", problems: []string{"at least 8", "uppercase", "lowercase", "digit", "symbol"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Check(tt.password)
			if len(tt.problems) == 0 {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, auth.ErrValidation)
			for _, p := range tt.problems {
				assert.Contains(t, err.Error(), p)
			}
		})
	}
}

func TestPasswordPolicy_CustomSymbols(t *testing.T) {
	policy := auth.PasswordPolicy{MinLength: 10, Symbols: "#"}
	assert.Error(t, policy.Check("Corr3ct!Horse"), "! is not in the custom set")
	assert.NoError(t, policy.Check("Corr3ct#Horse"))
	assert.Error(t, policy.Check("Co3#horse"), "custom minimum length applies")
}
