// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package httpapi

import (
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// throttleIdle is how long an address keeps its limiter after its last request.
const throttleIdle = 10 * time.Minute

// throttle keeps a token bucket per client address.
type throttle struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	clients   map[string]*throttleEntry
	lastSweep time.Time
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newThrottle(perSecond float64, burst int, now func() time.Time) *throttle {
	if burst <= 0 {
		burst = int(math.Ceil(perSecond))
	}
	if now == nil {
		now = time.Now
	}
	return &throttle{
		limit:     rate.Limit(perSecond),
		burst:     burst,
		now:       now,
		clients:   make(map[string]*throttleEntry),
		lastSweep: now(),
	}
}

func (t *throttle) allow(addr string) bool {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastSweep) > throttleIdle {
		for key, e := range t.clients {
			if now.Sub(e.lastSeen) > throttleIdle {
				delete(t.clients, key)
			}
		}
		t.lastSweep = now
	}

	e, ok := t.clients[addr]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.clients[addr] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (t *throttle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// retryAfter is the wait for one token, in whole seconds.
func (t *throttle) retryAfter() int {
	if t.limit <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(1/float64(t.limit))))
}

// limit applies the per-address throttle and caps the request body.
func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.throttle != nil && !s.throttle.allow(s.clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(s.throttle.retryAfter()))
			writeJSON(w, http.StatusTooManyRequests, errorBody{
				Error:   "rate_limited",
				Message: "too many requests",
			})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
		next(w, r)
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument logs each request and records route metrics.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		s.opts.Metrics.ObserveRequest(route, rec.status, elapsed)
		s.logger.DebugContext(r.Context(), "request",
			"route", route,
			"method", r.Method,
			"status", rec.status,
			"ip", s.clientIP(r),
			"duration", elapsed,
		)
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.ErrorContext(r.Context(), "panic serving request",
					"path", r.URL.Path,
					"panic", v,
					"stack", string(debug.Stack()),
				)
				writeJSON(w, http.StatusInternalServerError, errorBody{
					Error:   "internal",
					Message: "internal server error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the peer address, or the nearest untrusted hop from
// X-Forwarded-For when the peer is a trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if len(s.proxies) == 0 || !s.trusted(peer) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !s.trusted(hop) {
			return hop
		}
		peer = hop
	}
	return peer
}

func (s *Server) trusted(addr string) bool {
	for _, g := range s.proxies {
		if g.Match(addr) {
			return true
		}
	}
	return false
}
