// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/courtcheck/courtcheck/internal/auth"
	"github.com/courtcheck/courtcheck/pkg/errutil"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error            string `json:"error"`
	Message          string `json:"message"`
	MinutesRemaining int    `json:"minutesRemaining,omitempty"`
	Limit            int    `json:"limit,omitempty"`
}

// writeError maps an auth error kind to a status code. Only the kind's
// fixed message reaches the client; detail stays in the log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status int
		body   errorBody
	)
	switch {
	case errors.Is(err, auth.ErrAccountLocked):
		status = http.StatusLocked
		body = errorBody{Error: "account_locked", Message: auth.ErrAccountLocked.Error()}
		if minutes, ok := auth.LockedMinutes(err); ok {
			body.MinutesRemaining = minutes
			w.Header().Set("Retry-After", strconv.Itoa(minutes*60))
		}
	case errors.Is(err, auth.ErrAuthentication):
		status = http.StatusUnauthorized
		body = errorBody{Error: "invalid_credentials", Message: auth.ErrAuthentication.Error()}
	case errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusUnauthorized
		body = errorBody{Error: "invalid_token", Message: auth.ErrInvalidToken.Error()}
	case errors.Is(err, auth.ErrValidation):
		status = http.StatusBadRequest
		body = errorBody{Error: "validation_failed", Message: validationMessage(err)}
	case errors.Is(err, auth.ErrRateLimited):
		status = http.StatusTooManyRequests
		body = errorBody{Error: "rate_limited", Message: auth.ErrRateLimited.Error()}
	case errors.Is(err, auth.ErrSessionLimit):
		status = http.StatusConflict
		body = errorBody{Error: "session_limit", Message: auth.ErrSessionLimit.Error()}
		var limitErr *auth.SessionLimitError
		if errors.As(err, &limitErr) {
			body.Limit = limitErr.Limit
			body.Message = limitErr.Error()
		}
	default:
		status = http.StatusInternalServerError
		body = errorBody{Error: "internal", Message: "internal server error"}
		errutil.LogErrorContext(r.Context(), s.logger, "request failed", err)
	}
	writeJSON(w, status, body)
}

// validationMessage returns the policy detail, which is safe to show: it
// describes the submitted password, not the stored account.
func validationMessage(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if msg := e.Error(); strings.HasPrefix(msg, auth.ErrValidation.Error()) {
			return msg
		}
	}
	return auth.ErrValidation.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(v)
}
