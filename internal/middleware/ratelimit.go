// Package middleware provides HTTP middleware for the console's metrics listener.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// RetryAfter is the whole number of seconds until the window resets,
// never less than one.
func (d Decision) RetryAfter(now time.Time) int {
	return max(int(d.Reset.Sub(now)/time.Second)+1, 1)
}

type window struct {
	used int
	ends time.Time
}

// RateLimiter is a fixed-window limiter keyed by client IP. Expired
// windows are swept at most once per window length.
type RateLimiter struct {
	limit  int
	length time.Duration
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]window
	nextSweep time.Time

	allowed atomic.Uint64
	limited atomic.Uint64
}

// NewRateLimiter allows limit requests per window for each client. A limit
// of zero or less disables limiting.
func NewRateLimiter(limit int, length time.Duration) *RateLimiter {
	if length <= 0 {
		length = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		length:  length,
		now:     time.Now,
		windows: make(map[string]window),
	}
}

// Enabled reports whether the limiter restricts anything.
func (rl *RateLimiter) Enabled() bool { return rl.limit > 0 }

// Allow spends one request from ip's budget.
func (rl *RateLimiter) Allow(ip string) Decision {
	if !rl.Enabled() {
		rl.allowed.Add(1)
		return Decision{Allowed: true}
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if !now.Before(rl.nextSweep) {
		rl.sweep(now)
		rl.nextSweep = now.Add(rl.length)
	}

	w, ok := rl.windows[ip]
	if !ok || now.After(w.ends) {
		w = window{ends: now.Add(rl.length)}
	}
	if w.used >= rl.limit {
		rl.limited.Add(1)
		return Decision{Reset: w.ends}
	}
	w.used++
	rl.windows[ip] = w
	rl.allowed.Add(1)
	return Decision{Allowed: true, Remaining: rl.limit - w.used, Reset: w.ends}
}

// Cleanup drops expired windows now and returns how many went.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.sweep(rl.now())
}

// sweep requires rl.mu.
func (rl *RateLimiter) sweep(now time.Time) int {
	n := 0
	for ip, w := range rl.windows {
		if now.After(w.ends) {
			delete(rl.windows, ip)
			n++
		}
	}
	return n
}

// RateLimiterStats counts decisions since the limiter was created.
type RateLimiterStats struct {
	TrackedIPs int    `json:"tracked_ips"`
	Allowed    uint64 `json:"allowed"`
	Limited    uint64 `json:"limited"`
}

func (rl *RateLimiter) Stats() RateLimiterStats {
	rl.mu.Lock()
	n := len(rl.windows)
	rl.mu.Unlock()
	return RateLimiterStats{TrackedIPs: n, Allowed: rl.allowed.Load(), Limited: rl.limited.Load()}
}

// RateLimit answers 429 with Retry-After once a client has spent its
// budget. Forwarding headers are ignored; the peer address is the key.
func RateLimit(rl *RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	limit := strconv.Itoa(rl.limit)
	return func(next http.Handler) http.Handler {
		if !rl.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := peerIP(r)
			d := rl.Allow(ip)

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
			h.Set("Retry-After", strconv.Itoa(d.RetryAfter(rl.now())))
			http.Error(w, "too many requests", http.StatusTooManyRequests)
		})
	}
}

func peerIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
