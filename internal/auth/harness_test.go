// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/courtcheck/courtcheck/internal/auth"
	"github.com/courtcheck/courtcheck/internal/auth/memory"
	"github.com/courtcheck/courtcheck/internal/auth/token"
	"github.com/courtcheck/courtcheck/internal/logging"
)

const (
	testEmail    = "a@x.com"
	testPassword = "Corr3ct!Horse"
	testIP       = "203.0.113.7"
	testUA       = "courtcheck-test/1.0"
)

var testSigningKey = []byte("test-signing-key-0123456789abcdef")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type auditEvent struct {
	EventType, Email, IP, Outcome string
}

type recordingAudit struct {
	mu     sync.Mutex
	events []auditEvent
}

func (a *recordingAudit) Record(_ context.Context, eventType, email, ip, outcome string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, auditEvent{eventType, email, ip, outcome})
}

func (a *recordingAudit) count(eventType, outcome string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if e.EventType == eventType && e.Outcome == outcome {
			n++
		}
	}
	return n
}

type notification struct {
	Recipient, Subject, Body string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Send(_ context.Context, recipient, subject, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{recipient, subject, body})
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.sent...)
}

type setup struct {
	cfg  auth.Config
	deps *auth.Deps
}

type harness struct {
	t         *testing.T
	clock     *fakeClock
	creds     *memory.CredentialStore
	ledger    *memory.AttemptLedger
	refresh   *memory.RefreshTokenStore
	sessions  *memory.SessionRegistry
	blacklist *memory.Blacklist
	audit     *recordingAudit
	notifier  *recordingNotifier
	hasher    *auth.Argon2idHasher
	coord     *auth.Coordinator
	user      *auth.Credential
}

func newHarness(t *testing.T, opts ...func(*setup)) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		clock:     &fakeClock{now: time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)},
		creds:     memory.NewCredentialStore(),
		ledger:    memory.NewAttemptLedger(),
		refresh:   memory.NewRefreshTokenStore(),
		audit:     &recordingAudit{},
		notifier:  &recordingNotifier{},
		hasher:    fastHasher(),
	}
	h.sessions = memory.NewSessionRegistry(memory.WithClock(h.clock.Now))
	h.blacklist = memory.NewBlacklist(memory.WithClock(h.clock.Now))

	issuer, err := token.NewIssuer(token.Config{SigningKey: testSigningKey, Now: h.clock.Now}, h.blacklist)
	require.NoError(t, err)

	s := &setup{
		cfg: auth.DefaultConfig(),
		deps: &auth.Deps{
			Credentials:   h.creds,
			Attempts:      h.ledger,
			RefreshTokens: h.refresh,
			Sessions:      h.sessions,
			Issuer:        issuer,
			Blacklist:     h.blacklist,
			Hasher:        h.hasher,
			Audit:         h.audit,
			Notifier:      h.notifier,
			Logger:        logging.Discard(),
			Now:           h.clock.Now,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	h.coord, err = auth.NewCoordinator(s.cfg, *s.deps)
	require.NoError(t, err)

	h.user = h.addUser(testEmail, testPassword, "officer")
	return h
}

func withConfig(mutate func(*auth.Config)) func(*setup) {
	return func(s *setup) { mutate(&s.cfg) }
}

func withDeps(mutate func(*auth.Deps)) func(*setup) {
	return func(s *setup) { mutate(s.deps) }
}

func (h *harness) addUser(email, password string, roles ...string) *auth.Credential {
	h.t.Helper()
	hash, err := h.hasher.Hash(password)
	require.NoError(h.t, err)
	cred, err := auth.NewCredential(email, hash, roles)
	require.NoError(h.t, err)
	require.NoError(h.t, h.creds.Save(context.Background(), cred))
	return cred
}

func (h *harness) reload() *auth.Credential {
	h.t.Helper()
	cred, err := h.creds.FindByID(context.Background(), h.user.ID)
	require.NoError(h.t, err)
	return cred
}

func (h *harness) update(mutate func(*auth.Credential)) {
	h.t.Helper()
	cred := h.reload()
	mutate(cred)
	require.NoError(h.t, h.creds.Save(context.Background(), cred))
}

func (h *harness) login(password string) (*auth.LoginResult, error) {
	return h.coord.Login(context.Background(), auth.LoginRequest{
		Email:     testEmail,
		Password:  password,
		IP:        testIP,
		UserAgent: testUA,
	})
}

func (h *harness) mustLogin() *auth.LoginResult {
	h.t.Helper()
	res, err := h.login(testPassword)
	require.NoError(h.t, err)
	require.Equal(h.t, auth.LoginAuthenticated, res.Status)
	return res
}

// resetTokenFrom extracts the code from the latest reset notification.
func (h *harness) resetTokenFrom() string {
	h.t.Helper()
	sent := h.notifier.all()
	require.NotEmpty(h.t, sent)
	body := sent[len(sent)-1].Body
	const marker = "reset your password: "
	i := strings.Index(body, marker)
	require.GreaterOrEqual(h.t, i, 0)
	rest := body[i+len(marker):]
	return rest[:strings.Index(rest, "\n")]
}

func mustIssuer(t *testing.T, h *harness) *token.Issuer {
	t.Helper()
	return mustIssuerWithKey(t, h, testSigningKey)
}

func mustIssuerWithKey(t *testing.T, h *harness, key []byte) *token.Issuer {
	t.Helper()
	issuer, err := token.NewIssuer(token.Config{SigningKey: key, Now: h.clock.Now}, h.blacklist)
	require.NoError(t, err)
	return issuer
}
