// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth

import (
	"strconv"
	"strings"
	"unicode"
)

// DefaultPasswordSymbols is the symbol set a password must draw from.
const DefaultPasswordSymbols = "!@#$%^&*()-_=+[]{};:'\",.<>/?\\|`~"

// DefaultMinPasswordLength is the shortest accepted password.
const DefaultMinPasswordLength = 8

// PasswordPolicy describes password strength requirements.
type PasswordPolicy struct {
	MinLength int
	Symbols   string
}

// DefaultPasswordPolicy returns the stock policy.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: DefaultMinPasswordLength, Symbols: DefaultPasswordSymbols}
}

// Check returns a validation error listing every rule password breaks.
func (p PasswordPolicy) Check(password string) error {
	if p.MinLength <= 0 {
		p.MinLength = DefaultMinPasswordLength
	}
	if p.Symbols == "" {
		p.Symbols = DefaultPasswordSymbols
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(p.Symbols, r):
			hasSymbol = true
		}
	}

	var problems []string
	if len([]rune(password)) < p.MinLength {
		problems = append(problems, "be at least "+strconv.Itoa(p.MinLength)+" characters")
	}
	if !hasUpper {
		problems = append(problems, "contain an uppercase letter")
	}
	if !hasLower {
		problems = append(problems, "contain a lowercase letter")
	}
	if !hasDigit {
		problems = append(problems, "contain a digit")
	}
	if !hasSymbol {
		problems = append(problems, "contain a symbol")
	}
	if len(problems) > 0 {
		return validationError("password must %s", strings.Join(problems, ", "))
	}
	return nil
}
