package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"alert-triage/internal/encryption"
	"alert-triage/internal/schema"
)

func TestTokenKey(t *testing.T) {
	a := TokenKey("token-abc")
	b := TokenKey("token-abc")
	c := TokenKey("token-abd")

	if a != b {
		t.Error("expected stable key for the same token")
	}
	if a == c {
		t.Error("expected different keys for different tokens")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex characters, got %d", len(a))
	}
	if strings.Contains(a, "token") {
		t.Error("key must not contain the token")
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Load(ctx); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	s := &Session{Token: "token-abc", Role: schema.RoleAdmin, Email: "admin@example.com"}
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	s.Email = "mutated@example.com"
	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("expected session, got %v", err)
	}
	if loaded.Email != "admin@example.com" {
		t.Errorf("expected stored copy, got %s", loaded.Email)
	}

	store.Clear(ctx)
	if _, err := store.Load(ctx); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound after clear, got %v", err)
	}
}

func TestRedisStore_SaveLoadClear(t *testing.T) {
	client := newMemKV()
	store := NewRedisStore(client, "test", "alice", time.Hour)
	ctx := context.Background()

	s := &Session{
		Token: "secret-token-value",
		Role:  schema.RoleSOCAnalyst,
		Email: "soc@example.com",
	}
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	for _, key := range client.keys() {
		if strings.Contains(key, s.Token) {
			t.Errorf("token appears in key %q", key)
		}
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("expected to load session, got %v", err)
	}
	if loaded.Token != s.Token || loaded.Role != s.Role {
		t.Errorf("unexpected session %+v", loaded)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("expected no error on clear, got %v", err)
	}
	if len(client.keys()) != 0 {
		t.Errorf("expected all keys removed, got %v", client.keys())
	}
	if _, err := store.Load(ctx); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRedisStore_ProfilesAreIsolated(t *testing.T) {
	client := newMemKV()
	ctx := context.Background()

	alice := NewRedisStore(client, "test", "alice", time.Hour)
	bob := NewRedisStore(client, "test", "bob", time.Hour)

	alice.Save(ctx, &Session{Token: "a", Role: schema.RoleAdmin})

	if _, err := bob.Load(ctx); err != ErrSessionNotFound {
		t.Errorf("expected bob to have no session, got %v", err)
	}
}

func TestRedisStore_SaveExpired(t *testing.T) {
	store := NewRedisStore(newMemKV(), "", "", 0)
	s := &Session{Token: "t", ExpiresAt: time.Now().Add(-time.Second)}

	if err := store.Save(context.Background(), s); err != ErrSessionExpired {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
}

func TestRedisStore_ClearWithoutSession(t *testing.T) {
	store := NewRedisStore(newMemKV(), "", "", 0)
	if err := store.Clear(context.Background()); err != nil {
		t.Errorf("expected clearing an empty store to succeed, got %v", err)
	}
}

func TestRedisStore_FailedSaveWritesNothing(t *testing.T) {
	kv := newMemKV()
	kv.failPut = errRedisDown
	store := NewRedisStore(kv, "test", "alice", time.Hour)

	err := store.Save(context.Background(), &Session{Token: "t", Role: schema.RoleAdmin})
	if !errors.Is(err, errRedisDown) {
		t.Fatalf("Save() error = %v, want errRedisDown", err)
	}
	if len(kv.keys()) != 0 {
		t.Errorf("keys written after a failed save: %v", kv.keys())
	}
	if _, err := store.Load(context.Background()); err != ErrSessionNotFound {
		t.Errorf("Load() = %v, want ErrSessionNotFound", err)
	}
}

func TestRedisStore_SealedSessions(t *testing.T) {
	engine, err := encryption.NewEngine([]byte("session-key"), 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	client := newMemKV()
	store := NewRedisStore(client, "test", "alice", time.Hour).WithCipher(engine)
	ctx := context.Background()

	s := &Session{Token: "secret-token-value", Role: schema.RoleAdmin, Email: "admin@example.com"}
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	for _, key := range client.keys() {
		raw, _ := client.Get(ctx, key)
		if strings.Contains(string(raw), s.Token) || strings.Contains(string(raw), s.Email) {
			t.Errorf("value under %q is stored in the clear", key)
		}
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Token != s.Token || loaded.Role != s.Role {
		t.Errorf("unexpected session %+v", loaded)
	}

	// A store with a different key cannot read it.
	other, _ := encryption.NewEngine([]byte("another-key"), 1, nil)
	stranger := NewRedisStore(client, "test", "alice", time.Hour).WithCipher(other)
	if _, err := stranger.Load(ctx); !errors.Is(err, encryption.ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}
