// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/courtcheck/courtcheck/internal/auth"
	"github.com/courtcheck/courtcheck/pkg/errutil"
)

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	MFACode    string `json:"mfaCode,omitempty"`
	ForceLogin bool   `json:"forceLogin,omitempty"`
}

type tokenResponse struct {
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
	TokenType    string            `json:"tokenType"`
	ExpiresIn    int64             `json:"expiresIn"`
	SessionID    string            `json:"sessionId,omitempty"`
	Rotated      *bool             `json:"rotated,omitempty"`
	User         *auth.UserSummary `json:"user,omitempty"`
}

type mfaResponse struct {
	RequiresMFA bool `json:"requiresMfa"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type validateResponse struct {
	Valid      bool       `json:"valid"`
	Email      string     `json:"email,omitempty"`
	UserID     string     `json:"userId,omitempty"`
	SessionID  string     `json:"sessionId,omitempty"`
	Expiration *time.Time `json:"expiration,omitempty"`
	Roles      []string   `json:"roles,omitempty"`
	Message    string     `json:"message,omitempty"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type resetRequestRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token           string `json:"token"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		s.writeError(w, r, badRequest("email and password are required"))
		return
	}

	result, err := s.auth.Login(r.Context(), auth.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		MFACode:    req.MFACode,
		ForceLogin: req.ForceLogin,
		IP:         s.clientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if result.Status == auth.LoginMFARequired {
		writeJSON(w, http.StatusOK, mfaResponse{RequiresMFA: true})
		return
	}

	user := result.User
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    result.TokenType,
		ExpiresIn:    int64(result.ExpiresIn / time.Second),
		SessionID:    result.SessionID,
		User:         &user,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		s.writeError(w, r, badRequest("refreshToken is required"))
		return
	}

	result, err := s.auth.Refresh(r.Context(), req.RefreshToken, s.clientIP(r), r.UserAgent())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rotated := result.Rotated
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    result.TokenType,
		ExpiresIn:    int64(result.ExpiresIn / time.Second),
		SessionID:    result.SessionID,
		Rotated:      &rotated,
	})
}

// handleLogout always answers success, with or without a usable token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	result := auth.LogoutResult{Success: true}
	if accessToken, ok := bearerToken(r); ok {
		result = s.auth.Logout(r.Context(), accessToken)
	}
	writeJSON(w, http.StatusOK, successResponse{Success: result.Success})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	accessToken, ok := bearerToken(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, validateResponse{Message: "missing bearer token"})
		return
	}

	result := s.auth.ValidateToken(r.Context(), accessToken)
	if !result.Valid {
		writeJSON(w, http.StatusUnauthorized, validateResponse{Message: result.Reason})
		return
	}
	expiration := result.ExpiresAt.UTC()
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:      true,
		Email:      result.Email,
		UserID:     result.UserID,
		SessionID:  result.SessionID,
		Expiration: &expiration,
		Roles:      result.Roles,
	})
}

// handlePasswordChange identifies the user by their access token, never by
// an email in the body.
func (s *Server) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	accessToken, ok := bearerToken(r)
	if !ok {
		s.writeError(w, r, oops.Code(auth.CodeInvalidToken).Wrap(auth.ErrInvalidToken))
		return
	}
	var req changePasswordRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		s.writeError(w, r, badRequest("currentPassword and newPassword are required"))
		return
	}
	if req.ConfirmPassword != "" && req.ConfirmPassword != req.NewPassword {
		s.writeError(w, r, badRequest("password confirmation does not match"))
		return
	}

	validation := s.auth.ValidateToken(r.Context(), accessToken)
	if !validation.Valid {
		s.writeError(w, r, oops.Code(auth.CodeInvalidToken).With("reason", validation.Reason).Wrap(auth.ErrInvalidToken))
		return
	}
	if err := s.auth.ChangePassword(r.Context(), validation.Email, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// handleResetRequest answers 202 whether or not the account exists.
func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequestRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		s.writeError(w, r, badRequest("email is required"))
		return
	}
	if err := s.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		errutil.LogErrorContext(r.Context(), s.logger, "password reset request failed", err)
	}
	writeJSON(w, http.StatusAccepted, successResponse{Success: true})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		s.writeError(w, r, badRequest("token and newPassword are required"))
		return
	}
	if req.ConfirmPassword != "" && req.ConfirmPassword != req.NewPassword {
		s.writeError(w, r, badRequest("password confirmation does not match"))
		return
	}
	if err := s.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// decode reads a single JSON object, rejecting unknown fields. On failure it
// writes a 400 and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
				Error:   "too_large",
				Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return false
		}
		s.writeError(w, r, badRequest("malformed JSON body"))
		return false
	}
	return true
}

func badRequest(msg string) error {
	return oops.Code(auth.CodeValidation).Wrap(fmt.Errorf("%w: %s", auth.ErrValidation, msg))
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, auth.TokenType) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
