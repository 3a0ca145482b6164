// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package token

import (
	"errors"
	"fmt"
)

// Decode failure kinds.
var (
	ErrMalformed = errors.New("token malformed")
	ErrExpired   = errors.New("token expired")
	ErrSignature = errors.New("token signature invalid")
)

// ErrKeyTooShort is returned when the signing key is under MinKeyLength bytes.
var ErrKeyTooShort = fmt.Errorf("signing key must be at least %d bytes", MinKeyLength)

// DecodeError is returned by Decode. Kind is one of ErrMalformed, ErrExpired
// or ErrSignature; Err is the underlying parser error.
type DecodeError struct {
	Kind error
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
