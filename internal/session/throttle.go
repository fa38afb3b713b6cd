package session

import (
	"strings"
	"sync"
	"time"
)

// LoginThrottle limits failed sign-in attempts per email. Once an email
// reaches the limit inside the window, further attempts are refused until
// the window ends. A successful sign-in clears the count.
type LoginThrottle struct {
	attempts    map[string]*loginAttempt
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	now         func() time.Time
}

type loginAttempt struct {
	failures  int
	windowEnd time.Time
}

// NewLoginThrottle creates a per-email login throttle. A non-positive
// maxAttempts disables throttling.
func NewLoginThrottle(maxAttempts int, window time.Duration) *LoginThrottle {
	return &LoginThrottle{
		attempts:    make(map[string]*loginAttempt),
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
	}
}

// WithClock makes the throttle read time from now and returns it.
func (l *LoginThrottle) WithClock(now func() time.Time) *LoginThrottle {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
	return l
}

func throttleKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Allow reports whether a sign-in for email may be attempted, and if not,
// when it may be retried.
func (l *LoginThrottle) Allow(email string) (bool, time.Time) {
	if l.maxAttempts <= 0 {
		return true, time.Time{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	attempt, exists := l.attempts[throttleKey(email)]
	if !exists || l.now().After(attempt.windowEnd) {
		return true, time.Time{}
	}
	if attempt.failures >= l.maxAttempts {
		return false, attempt.windowEnd
	}
	return true, time.Time{}
}

// Fail records a failed sign-in for email.
func (l *LoginThrottle) Fail(email string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := throttleKey(email)
	attempt, exists := l.attempts[key]
	if !exists || now.After(attempt.windowEnd) {
		l.attempts[key] = &loginAttempt{failures: 1, windowEnd: now.Add(l.window)}
		return
	}
	attempt.failures++
}

// Succeed clears the failure count for email.
func (l *LoginThrottle) Succeed(email string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, throttleKey(email))
}

// Cleanup removes expired entries.
func (l *LoginThrottle) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, attempt := range l.attempts {
		if now.After(attempt.windowEnd) {
			delete(l.attempts, key)
		}
	}
}
