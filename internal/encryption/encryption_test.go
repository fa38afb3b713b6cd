package encryption

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine([]byte("test-master-key-32-bytes-long!!"), 1, testLogger())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func TestNewEngine(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		version int
		wantErr bool
	}{
		{"valid", []byte("key"), 1, false},
		{"empty key", nil, 1, true},
		{"version zero", []byte("key"), 0, true},
		{"version too large", []byte("key"), 256, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.key, tt.version, testLogger())
			if (err != nil) != tt.wantErr {
				t.Errorf("NewEngine() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestSealOpen(t *testing.T) {
	e := newTestEngine(t)
	payloads := [][]byte{
		[]byte(`{"token":"tok-admin","role":"admin"}`),
		{},
		bytes.Repeat([]byte("x"), 4096),
	}

	for _, p := range payloads {
		sealed, err := e.Seal(p)
		if err != nil {
			t.Fatalf("Seal() error = %v", err)
		}
		if len(p) > 0 && bytes.Contains(sealed, p) {
			t.Error("sealed data contains the plaintext")
		}
		got, err := e.Open(sealed)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if !bytes.Equal(got, p) {
			t.Errorf("Open() = %q, want %q", got, p)
		}
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	e := newTestEngine(t)
	a, _ := e.Seal([]byte("same"))
	b, _ := e.Seal([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("sealing the same plaintext twice produced identical output")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	e := newTestEngine(t)
	sealed, _ := e.Seal([]byte("session"))

	t.Run("flipped byte", func(t *testing.T) {
		bad := append([]byte(nil), sealed...)
		bad[len(bad)-1] ^= 0xff
		if _, err := e.Open(bad); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("expected ErrDecryptionFailed, got %v", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		if _, err := e.Open(sealed[:10]); !errors.Is(err, ErrInvalidCiphertext) {
			t.Errorf("expected ErrInvalidCiphertext, got %v", err)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		other, _ := NewEngine([]byte("a different key"), 1, testLogger())
		if _, err := other.Open(sealed); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("expected ErrDecryptionFailed, got %v", err)
		}
	})

	t.Run("unknown key version", func(t *testing.T) {
		bad := append([]byte(nil), sealed...)
		bad[0] = 7
		if _, err := e.Open(bad); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("expected ErrDecryptionFailed, got %v", err)
		}
	})
}

func TestRotateKey(t *testing.T) {
	e := newTestEngine(t)
	before, _ := e.Seal([]byte("before rotation"))

	if err := e.RotateKey([]byte("second key"), 1); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("rotation to the same version: %v, want ErrInvalidKey", err)
	}
	if err := e.RotateKey([]byte("second key"), 2); err != nil {
		t.Fatalf("RotateKey() error = %v", err)
	}
	if e.KeyVersion() != 2 {
		t.Errorf("KeyVersion() = %d, want 2", e.KeyVersion())
	}

	got, err := e.Open(before)
	if err != nil || string(got) != "before rotation" {
		t.Fatalf("Open() with retired key = %q, %v", got, err)
	}

	resealed, changed, err := e.Reseal(before)
	if err != nil || !changed {
		t.Fatalf("Reseal() = %v, %v", changed, err)
	}
	if resealed[0] != 2 {
		t.Errorf("resealed version = %d, want 2", resealed[0])
	}
	if _, changed, _ := e.Reseal(resealed); changed {
		t.Error("Reseal() of current data should be a no-op")
	}

	if n := e.PurgeOldKeys(); n != 1 {
		t.Errorf("PurgeOldKeys() = %d, want 1", n)
	}
	if _, err := e.Open(before); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("retired key should be gone after purge, got %v", err)
	}
}

func TestNewEngineFromString(t *testing.T) {
	key, err := GenerateKeyBase64()
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := base64.StdEncoding.DecodeString(key)
	if len(raw) != 32 {
		t.Fatalf("generated key is %d bytes", len(raw))
	}

	fromString, err := NewEngineFromString(key, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	fromBytes, _ := NewEngine(raw, 1, testLogger())

	sealed, _ := fromString.Seal([]byte("interop"))
	if got, err := fromBytes.Open(sealed); err != nil || string(got) != "interop" {
		t.Errorf("base64 key should decode to the same key material: %q, %v", got, err)
	}

	if _, err := NewEngineFromString("a passphrase", testLogger()); err != nil {
		t.Errorf("passphrase keys should be accepted: %v", err)
	}
}

func TestDeriveKeyBindsVersion(t *testing.T) {
	secret := []byte("shared secret")
	k1, err := deriveKey(secret, 1)
	if err != nil {
		t.Fatal(err)
	}
	k2, _ := deriveKey(secret, 2)
	again, _ := deriveKey(secret, 1)

	if len(k1) != keySize {
		t.Errorf("key is %d bytes, want %d", len(k1), keySize)
	}
	if bytes.Equal(k1, k2) {
		t.Error("versions 1 and 2 derived the same key")
	}
	if !bytes.Equal(k1, again) {
		t.Error("derivation is not deterministic")
	}
}

func TestOpenRejectsRelabelledVersion(t *testing.T) {
	e := newTestEngine(t)
	if err := e.RotateKey([]byte("test-master-key-32-bytes-long!!"), 2); err != nil {
		t.Fatal(err)
	}
	sealed, _ := e.Seal([]byte("v2 payload"))
	sealed[0] = 1
	if _, err := e.Open(sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("relabelled payload opened: %v", err)
	}
}
