// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

// Package auth provides the authentication and session core of CourtCheck.
//
// # Domain Types
//
// Credential, LoginAttempt, RefreshToken and Session are created with their
// constructors (NewCredential, NewLoginAttempt, NewSession). Stores receive
// pre-validated values from these constructors.
//
// # Stores
//
// The package defines the store interfaces it depends on:
//   - CredentialStore - user credential records
//   - LoginAttemptLedger - append-only attempt log, queried for rate limits
//   - RefreshTokenStore - hashed refresh tokens with compare-and-swap revocation
//   - SessionRegistry - live sessions with the per-user concurrency limit
//
// Implementations live in the memory, postgres and redisstore subpackages.
//
// # Coordinator
//
// Coordinator orchestrates the stores to implement login, logout, refresh,
// token validation and the password lifecycle. Every error it returns wraps
// one of the Err* kinds declared in errors.go or is an internal store failure.
package auth
