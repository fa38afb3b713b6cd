package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Store persists the current session across console restarts.
type Store interface {
	// Save stores the session as the current one.
	Save(ctx context.Context, s *Session) error

	// Load returns the current session.
	Load(ctx context.Context) (*Session, error)

	// Clear removes the current session.
	Clear(ctx context.Context) error

	// Close releases any resources.
	Close() error
}

var (
	// ErrSessionNotFound is returned when no session is stored.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the stored session has expired.
	ErrSessionExpired = errors.New("session expired")
)

// TokenKey derives a stable, non-reversible key from a bearer token so the
// token itself never appears in a key name.
func TokenKey(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// MemoryStore implements Store in process memory. Suitable for tests and for
// consoles that should forget the session on exit.
type MemoryStore struct {
	mu      sync.RWMutex
	current *Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save stores a copy of the session.
func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.current = &cp
	return nil
}

// Load returns a copy of the stored session.
func (m *MemoryStore) Load(ctx context.Context) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return nil, ErrSessionNotFound
	}
	if m.current.Expired(time.Now()) {
		return nil, ErrSessionExpired
	}
	cp := *m.current
	return &cp, nil
}

// Clear removes the stored session.
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// Cipher seals session payloads before they leave the process.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// RedisStore implements Store on Redis. The session is stored under a key
// derived from its token, and a per-profile pointer key names the current one.
type RedisStore struct {
	kv      KV
	prefix  string
	profile string
	ttl     time.Duration
	cipher  Cipher
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(kv KV, prefix, profile string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "triage:session"
	}
	if profile == "" {
		profile = "default"
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	return &RedisStore{
		kv:      kv,
		prefix:  prefix,
		profile: profile,
		ttl:     ttl,
	}
}

// WithCipher seals stored sessions with c.
func (r *RedisStore) WithCipher(c Cipher) *RedisStore {
	r.cipher = c
	return r
}

// sessionKey returns the Redis key for a session token.
func (r *RedisStore) sessionKey(token string) string {
	return fmt.Sprintf("%s:token:%s", r.prefix, TokenKey(token))
}

// currentKey returns the Redis key pointing at the profile's current session.
func (r *RedisStore) currentKey() string {
	return fmt.Sprintf("%s:current:%s", r.prefix, r.profile)
}

// Save stores the session and points the profile at it.
func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if r.cipher != nil {
		if data, err = r.cipher.Seal(data); err != nil {
			return fmt.Errorf("failed to seal session: %w", err)
		}
	}

	ttl := r.ttl
	if !s.ExpiresAt.IsZero() {
		ttl = time.Until(s.ExpiresAt)
		if ttl <= 0 {
			return ErrSessionExpired
		}
	}

	key := r.sessionKey(s.Token)
	err = r.kv.Put(ctx, ttl,
		Entry{Key: key, Value: data},
		Entry{Key: r.currentKey(), Value: []byte(key)},
	)
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Load follows the profile pointer to the current session.
func (r *RedisStore) Load(ctx context.Context) (*Session, error) {
	key, err := r.kv.Get(ctx, r.currentKey())
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session pointer: %w", err)
	}

	data, err := r.kv.Get(ctx, string(key))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if r.cipher != nil {
		if data, err = r.cipher.Open(data); err != nil {
			return nil, fmt.Errorf("failed to open session: %w", err)
		}
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	if s.Expired(time.Now()) {
		return nil, ErrSessionExpired
	}

	return &s, nil
}

// Clear removes the current session and its pointer.
func (r *RedisStore) Clear(ctx context.Context) error {
	keys := []string{r.currentKey()}

	key, err := r.kv.Get(ctx, r.currentKey())
	switch {
	case err == nil:
		keys = append(keys, string(key))
	case !errors.Is(err, ErrKeyNotFound):
		return fmt.Errorf("failed to read session pointer: %w", err)
	}

	if err := r.kv.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close releases Redis client resources.
func (r *RedisStore) Close() error {
	return r.kv.Close()
}
