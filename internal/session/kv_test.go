package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// memKV is an in-process KV with TTLs, used in place of Redis.
type memKV struct {
	mu      sync.Mutex
	vals    map[string][]byte
	expires map[string]time.Time
	failPut error
}

func newMemKV() *memKV {
	return &memKV{vals: map[string][]byte{}, expires: map[string]time.Time{}}
}

func (m *memKV) Put(ctx context.Context, ttl time.Duration, entries ...Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return m.failPut
	}
	for _, e := range entries {
		m.vals[e.Key] = e.Value
		if ttl > 0 {
			m.expires[e.Key] = time.Now().Add(ttl)
		}
	}
	return nil
}

func (m *memKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.expires[key]; ok && time.Now().After(exp) {
		return nil, ErrKeyNotFound
	}
	v, ok := m.vals[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return v, nil
}

func (m *memKV) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.vals, k)
		delete(m.expires, k)
	}
	return nil
}

func (m *memKV) Close() error { return nil }

func (m *memKV) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.vals))
	for k := range m.vals {
		out = append(out, k)
	}
	return out
}

var errRedisDown = errors.New("redis down")
