// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

// Package httpapi exposes the auth coordinator over JSON/HTTP under
// /api/v1/auth.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/courtcheck/courtcheck/internal/auth"
	"github.com/courtcheck/courtcheck/internal/observability"
)

// Authenticator is the coordinator surface the API needs.
type Authenticator interface {
	Login(ctx context.Context, req auth.LoginRequest) (*auth.LoginResult, error)
	Logout(ctx context.Context, accessToken string) auth.LogoutResult
	Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*auth.RefreshResult, error)
	ValidateToken(ctx context.Context, accessToken string) auth.ValidationResult
	ChangePassword(ctx context.Context, email, currentPassword, newPassword string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
}

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes = 1 << 16

// Options configures the API handler.
type Options struct {
	// RequestsPerSecond throttles each client address. Zero disables throttling.
	RequestsPerSecond float64
	Burst             int
	// TrustedProxies are glob patterns of peers allowed to set X-Forwarded-For.
	TrustedProxies []string
	MaxBodyBytes   int64
	Metrics        *observability.Metrics
	Logger         *slog.Logger
}

// Server routes API requests to an Authenticator.
type Server struct {
	auth     Authenticator
	opts     Options
	logger   *slog.Logger
	proxies  []glob.Glob
	throttle *throttle
	handler  http.Handler
}

// New builds the API server.
func New(authn Authenticator, opts Options) (*Server, error) {
	if authn == nil {
		return nil, oops.Code("HTTPAPI_INVALID_CONFIG").Errorf("authenticator is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{auth: authn, opts: opts, logger: opts.Logger}
	for _, pattern := range opts.TrustedProxies {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, oops.Code("HTTPAPI_INVALID_CONFIG").With("pattern", pattern).Wrap(err)
		}
		s.proxies = append(s.proxies, g)
	}
	if opts.RequestsPerSecond > 0 {
		s.throttle = newThrottle(opts.RequestsPerSecond, opts.Burst, nil)
	}

	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/auth/login", "login", s.handleLogin)
	s.route(mux, "POST /api/v1/auth/refresh", "refresh", s.handleRefresh)
	s.route(mux, "POST /api/v1/auth/logout", "logout", s.handleLogout)
	s.route(mux, "GET /api/v1/auth/validate", "validate", s.handleValidate)
	s.route(mux, "POST /api/v1/auth/password/change", "password_change", s.handlePasswordChange)
	s.route(mux, "POST /api/v1/auth/password/reset-request", "password_reset_request", s.handleResetRequest)
	s.route(mux, "POST /api/v1/auth/password/reset", "password_reset", s.handleReset)
	s.handler = s.recoverPanics(mux)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(name, s.limit(h)))
}
