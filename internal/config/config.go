// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

// Package config loads CourtCheck configuration from defaults, a YAML file,
// command-line flags and environment secrets, in that order of precedence.
package config

import (
	"net/url"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/courtcheck/courtcheck/internal/auth"
	"github.com/courtcheck/courtcheck/internal/auth/token"
)

// Config is the complete service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http" jsonschema:"description=Public API listener"`
	Metrics  MetricsConfig  `yaml:"metrics" jsonschema:"description=Metrics and health check listener"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis" jsonschema:"description=Shared session registry and token blacklist. Empty url keeps them in process."`
	NATS     NATSConfig     `yaml:"nats" jsonschema:"description=Audit and notification transport. Empty url logs instead."`
	Auth     AuthConfig     `yaml:"auth"`
}

// HTTPConfig configures the public API server.
type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" jsonschema:"minimum=0,description=Per-client request rate. 0 disables throttling."`
	Burst             int           `yaml:"burst" jsonschema:"minimum=0"`
	// TrustedProxies are glob patterns of peer addresses whose
	// X-Forwarded-For header is believed.
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// MetricsConfig configures the observability server.
type MetricsConfig struct {
	Addr string `yaml:"addr" jsonschema:"description=Empty disables the metrics server"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `yaml:"format" jsonschema:"enum=json,enum=text"`
	Level  string `yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// DatabaseConfig configures the Postgres pool.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConns        int32         `yaml:"max_conns" jsonschema:"minimum=0"`
	MinConns        int32         `yaml:"min_conns" jsonschema:"minimum=0"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	ConnectAttempts uint64        `yaml:"connect_attempts"`
	ConnectBackoff  time.Duration `yaml:"connect_backoff"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RedisConfig configures the Redis-backed stores.
type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NATSConfig configures event publishing.
type NATSConfig struct {
	URL           string `yaml:"url"`
	AuditSubject  string `yaml:"audit_subject"`
	NotifySubject string `yaml:"notify_subject"`
}

// AuthConfig mirrors auth.Config plus the token signing settings.
type AuthConfig struct {
	SigningKey            string          `yaml:"signing_key" jsonschema:"description=HS256 key of at least 32 bytes. Prefer COURTCHECK_AUTH_SIGNING_KEY."`
	Issuer                string          `yaml:"issuer"`
	AccessTokenTTL        time.Duration   `yaml:"access_token_ttl"`
	RefreshTokenValidity  time.Duration   `yaml:"refresh_token_validity"`
	RefreshRotateAfter    time.Duration   `yaml:"refresh_rotate_after"`
	SessionTimeout        time.Duration   `yaml:"session_timeout"`
	MaxConcurrentSessions int             `yaml:"max_concurrent_sessions" jsonschema:"description=Negative disables the limit"`
	ResetTokenValidity    time.Duration   `yaml:"reset_token_validity"`
	PasswordMaxAge        time.Duration   `yaml:"password_max_age"`
	StoreTimeout          time.Duration   `yaml:"store_timeout"`
	LogoutScope           string          `yaml:"logout_scope" jsonschema:"enum=user,enum=session"`
	MFASkew               uint            `yaml:"mfa_skew" jsonschema:"maximum=5"`
	Lockout               LockoutConfig   `yaml:"lockout"`
	RateLimit             RateLimitConfig `yaml:"rate_limit"`
	Password              PasswordConfig  `yaml:"password"`
}

// LockoutConfig configures per-account lockout.
type LockoutConfig struct {
	MaxAttempts int           `yaml:"max_attempts" jsonschema:"minimum=1"`
	Duration    time.Duration `yaml:"duration"`
	Window      time.Duration `yaml:"window"`
}

// RateLimitConfig configures the per-IP login limit.
type RateLimitConfig struct {
	MaxPerIP  int           `yaml:"max_per_ip"`
	Window    time.Duration `yaml:"window"`
	ExemptIPs []string      `yaml:"exempt_ips,omitempty"`
}

// PasswordConfig configures the password policy.
type PasswordConfig struct {
	MinLength int    `yaml:"min_length" jsonschema:"minimum=8"`
	Symbols   string `yaml:"symbols"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	def := auth.DefaultConfig()
	return Config{
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:     LogConfig{Format: "json", Level: "info"},
		Database: DatabaseConfig{
			MaxConns:        10,
			MaxConnLifetime: time.Hour,
			ConnectAttempts: 5,
			ConnectBackoff:  200 * time.Millisecond,
		},
		Redis: RedisConfig{KeyPrefix: "courtcheck:"},
		NATS:  NATSConfig{AuditSubject: "courtcheck.audit", NotifySubject: "courtcheck.notify"},
		Auth: AuthConfig{
			Issuer:                token.DefaultIssuer,
			AccessTokenTTL:        def.AccessTokenTTL,
			RefreshTokenValidity:  def.RefreshTokenValidity,
			RefreshRotateAfter:    def.RefreshRotateAfter,
			SessionTimeout:        def.SessionTimeout,
			MaxConcurrentSessions: def.MaxConcurrentSessions,
			ResetTokenValidity:    def.ResetTokenValidity,
			StoreTimeout:          def.StoreTimeout,
			LogoutScope:           string(def.LogoutScope),
			MFASkew:               1,
			Lockout: LockoutConfig{
				MaxAttempts: def.Lockout.MaxAttempts,
				Duration:    def.Lockout.Duration,
				Window:      def.Lockout.Window,
			},
			RateLimit: RateLimitConfig{
				MaxPerIP: def.RateLimit.MaxPerIP,
				Window:   def.RateLimit.Window,
			},
			Password: PasswordConfig{
				MinLength: def.Password.MinLength,
				Symbols:   def.Password.Symbols,
			},
		},
	}
}

// Validate checks everything the server needs before it starts.
func (c Config) Validate() error {
	if n := len(c.Auth.SigningKey); n < token.MinKeyLength {
		return oops.Code("CONFIG_INVALID").
			With("field", "auth.signing_key").
			With("length", n).
			Errorf("auth.signing_key must be at least %d bytes", token.MinKeyLength)
	}
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			With("field", "database.url").
			Errorf("database.url is required (or set COURTCHECK_DATABASE_URL)")
	}
	if c.HTTP.Addr == "" {
		return oops.Code("CONFIG_INVALID").With("field", "http.addr").Errorf("http.addr is required")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return oops.Code("CONFIG_INVALID").
			With("field", "log.format").
			Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	switch auth.LogoutScope(c.Auth.LogoutScope) {
	case auth.LogoutScopeUser, auth.LogoutScopeSession:
	default:
		return oops.Code("CONFIG_INVALID").
			With("field", "auth.logout_scope").
			Errorf("auth.logout_scope must be 'user' or 'session', got %q", c.Auth.LogoutScope)
	}
	for field, patterns := range map[string][]string{
		"auth.rate_limit.exempt_ips": c.Auth.RateLimit.ExemptIPs,
		"http.trusted_proxies":       c.HTTP.TrustedProxies,
	} {
		for _, p := range patterns {
			if _, err := glob.Compile(p); err != nil {
				return oops.Code("CONFIG_INVALID").
					With("field", field).
					With("pattern", p).
					Wrap(err)
			}
		}
	}
	if c.Auth.Password.MinLength < auth.DefaultMinPasswordLength {
		return oops.Code("CONFIG_INVALID").
			With("field", "auth.password.min_length").
			Errorf("auth.password.min_length must be at least %d", auth.DefaultMinPasswordLength)
	}
	return nil
}

// Coordinator converts the auth section to the coordinator's policy.
func (c AuthConfig) Coordinator() auth.Config {
	return auth.Config{
		AccessTokenTTL:        c.AccessTokenTTL,
		RefreshTokenValidity:  c.RefreshTokenValidity,
		RefreshRotateAfter:    c.RefreshRotateAfter,
		SessionTimeout:        c.SessionTimeout,
		MaxConcurrentSessions: c.MaxConcurrentSessions,
		ResetTokenValidity:    c.ResetTokenValidity,
		PasswordMaxAge:        c.PasswordMaxAge,
		StoreTimeout:          c.StoreTimeout,
		LogoutScope:           auth.LogoutScope(c.LogoutScope),
		Lockout: auth.LockoutPolicy{
			MaxAttempts: c.Lockout.MaxAttempts,
			Duration:    c.Lockout.Duration,
			Window:      c.Lockout.Window,
		},
		RateLimit: auth.RateLimitPolicy{
			MaxPerIP:  c.RateLimit.MaxPerIP,
			Window:    c.RateLimit.Window,
			ExemptIPs: c.RateLimit.ExemptIPs,
		},
		Password: auth.PasswordPolicy{
			MinLength: c.Password.MinLength,
			Symbols:   c.Password.Symbols,
		},
	}
}

const redacted = "REDACTED"

// Redacted returns a copy safe to print: the signing key is masked and
// passwords are stripped from connection URLs.
func (c Config) Redacted() Config {
	if c.Auth.SigningKey != "" {
		c.Auth.SigningKey = redacted
	}
	c.Database.URL = redactURL(c.Database.URL)
	c.Redis.URL = redactURL(c.Redis.URL)
	c.NATS.URL = redactURL(c.NATS.URL)
	return c
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	return u.Redacted()
}
