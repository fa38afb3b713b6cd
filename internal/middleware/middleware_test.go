package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		d := rl.Allow("10.0.0.1")
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if d.Remaining != 2-i {
			t.Errorf("request %d: remaining = %d, want %d", i+1, d.Remaining, 2-i)
		}
	}

	if rl.Allow("10.0.0.1").Allowed {
		t.Error("fourth request should be limited")
	}
	if !rl.Allow("10.0.0.2").Allowed {
		t.Error("other clients keep their own budget")
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	rl.Allow("10.0.0.1")
	if rl.Allow("10.0.0.1").Allowed {
		t.Fatal("second request in window should be limited")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("10.0.0.1").Allowed {
		t.Error("request after window should be allowed")
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !rl.Allow("10.0.0.1").Allowed {
			t.Fatal("disabled limiter must allow everything")
		}
	}
}

func TestDecision_RetryAfter(t *testing.T) {
	now := time.Now()
	tests := []struct {
		reset time.Time
		want  int
	}{
		{now.Add(30 * time.Second), 31},
		{now.Add(500 * time.Millisecond), 1},
		{now.Add(-time.Second), 1},
	}
	for _, tt := range tests {
		if got := (Decision{Reset: tt.reset}).RetryAfter(now); got != tt.want {
			t.Errorf("RetryAfter(%v) = %d, want %d", tt.reset.Sub(now), got, tt.want)
		}
	}
}

func TestRateLimitMiddleware_DisabledPassesThrough(t *testing.T) {
	handler := RateLimit(NewRateLimiter(0, time.Minute), nil)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("X-RateLimit-Limit") != "" {
		t.Errorf("disabled limiter: code %d, headers %v", rec.Code, rec.Header())
	}
}

func TestRateLimiter_CleanupAndStats(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")

	stats := rl.Stats()
	if stats.TrackedIPs != 2 || stats.Allowed != 2 || stats.Limited != 1 {
		t.Errorf("Stats() = %+v", stats)
	}

	now = now.Add(2 * time.Minute)
	if removed := rl.Cleanup(); removed != 2 {
		t.Errorf("Cleanup() removed %d, want 2", removed)
	}
	if rl.Stats().TrackedIPs != 0 {
		t.Error("expired clients should be dropped")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimit(NewRateLimiter(2, time.Minute), nil)(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)

		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Errorf("X-RateLimit-Limit = %q", rec.Header().Get("X-RateLimit-Limit"))
		}
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
			t.Error("limited response should carry Retry-After")
		}
	}

	want := []int{200, 200, 429}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("status codes = %v, want %v", codes, want)
			break
		}
	}
}

func TestRateLimitMiddleware_IgnoresForwardedFor(t *testing.T) {
	handler := RateLimit(NewRateLimiter(1, time.Minute), nil)(okHandler())

	for i, xff := range []string{"198.51.100.1", "198.51.100.2"} {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if i == 1 && rec.Code != http.StatusTooManyRequests {
			t.Errorf("spoofed X-Forwarded-For bypassed the limit: %d", rec.Code)
		}
	}
}

func TestRateLimitMiddleware_Concurrent(t *testing.T) {
	rl := NewRateLimiter(50, time.Minute)
	handler := RateLimit(rl, nil)(okHandler())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			req.RemoteAddr = "192.0.2.10:5555"
			handler.ServeHTTP(httptest.NewRecorder(), req)
		}()
	}
	wg.Wait()

	stats := rl.Stats()
	if stats.Allowed != 50 || stats.Limited != 50 {
		t.Errorf("Stats() = %+v, want 50 allowed and 50 limited", stats)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
		"Referrer-Policy":        "no-referrer",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, response must pass through", rec.Body.String())
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(okHandler(), mark("first"), mark("second"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("order = %v", order)
	}
}
