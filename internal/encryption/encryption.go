// Package encryption seals small payloads at rest with AES-256-GCM.
//
// A sealed payload is [version:1][nonce:12][ciphertext+tag:n+16]. The
// version byte names the key and is authenticated as additional data, so it
// cannot be swapped to steer Open to a different key.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrDecryptionFailed covers unknown key versions and failed authentication.
	ErrDecryptionFailed = errors.New("decryption failed")
)

const (
	keySize   = 32
	nonceSize = 12
	overhead  = 1 + nonceSize + 16

	kdfLabel = "alert-triage sealed payload"
)

// Engine seals with its active key and opens with any key in its ring.
// Keys replaced by RotateKey stay in the ring until PurgeOldKeys.
type Engine struct {
	mu     sync.RWMutex
	ring   map[byte]cipher.AEAD
	active byte
	logger *slog.Logger
}

// NewEngine derives the key for version (1-255) from secret.
func NewEngine(secret []byte, version int, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v, aead, err := keyFor(secret, version)
	if err != nil {
		return nil, err
	}
	logger.Info("encryption engine initialized", "key_version", v, "algorithm", "AES-256-GCM")
	return &Engine{ring: map[byte]cipher.AEAD{v: aead}, active: v, logger: logger}, nil
}

// NewEngineFromString takes a base64 key of at least 16 bytes, or treats
// any other non-empty string as a passphrase.
func NewEngineFromString(key string, logger *slog.Logger) (*Engine, error) {
	secret := []byte(key)
	if raw, err := base64.StdEncoding.DecodeString(key); err == nil && len(raw) >= 16 {
		secret = raw
	}
	return NewEngine(secret, 1, logger)
}

// deriveKey expands secret into an AES-256 key bound to one version.
func deriveKey(secret []byte, version byte) ([]byte, error) {
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, secret, nil, append([]byte(kdfLabel), version))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func keyFor(secret []byte, version int) (byte, cipher.AEAD, error) {
	switch {
	case len(secret) == 0:
		return 0, nil, fmt.Errorf("%w: key is required", ErrInvalidKey)
	case version < 1 || version > 255:
		return 0, nil, fmt.Errorf("%w: version %d out of range", ErrInvalidKey, version)
	}
	v := byte(version)
	key, err := deriveKey(secret, v)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return v, aead, nil
}

// Seal encrypts plaintext under the active key with a random nonce.
func (e *Engine) Seal(plaintext []byte) ([]byte, error) {
	e.mu.RLock()
	v, aead := e.active, e.ring[e.active]
	e.mu.RUnlock()

	out := make([]byte, 1+nonceSize, overhead+len(plaintext))
	out[0] = v
	nonce := out[1:]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("encryption: nonce: %w", err)
	}
	return aead.Seal(out, nonce, plaintext, out[:1]), nil
}

// Open decrypts a payload sealed under any key still in the ring.
func (e *Engine) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < overhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidCiphertext, len(sealed))
	}
	e.mu.RLock()
	aead, ok := e.ring[sealed[0]]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown key version %d", ErrDecryptionFailed, sealed[0])
	}

	plaintext, err := aead.Open(nil, sealed[1:1+nonceSize], sealed[1+nonceSize:], sealed[:1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// KeyVersion returns the version new payloads are sealed with.
func (e *Engine) KeyVersion() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return int(e.active)
}

// RotateKey makes a key with a higher version active.
func (e *Engine) RotateKey(secret []byte, version int) error {
	v, aead, err := keyFor(secret, version)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if v <= e.active {
		return fmt.Errorf("%w: version %d is not after %d", ErrInvalidKey, v, e.active)
	}
	prev := e.active
	e.ring[v] = aead
	e.active = v
	e.logger.Info("encryption key rotated", "old_version", prev, "new_version", v, "keys_in_ring", len(e.ring))
	return nil
}

// Reseal moves a payload onto the active key. It reports false, and returns
// sealed unchanged, when the payload already uses it.
func (e *Engine) Reseal(sealed []byte) ([]byte, bool, error) {
	if len(sealed) > 0 && int(sealed[0]) == e.KeyVersion() {
		return sealed, false, nil
	}
	plaintext, err := e.Open(sealed)
	if err != nil {
		return nil, false, err
	}
	out, err := e.Seal(plaintext)
	return out, err == nil, err
}

// PurgeOldKeys drops every key but the active one and returns how many went.
func (e *Engine) PurgeOldKeys() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for v := range e.ring {
		if v != e.active {
			delete(e.ring, v)
			n++
		}
	}
	e.logger.Warn("purged old encryption keys", "keys_removed", n, "current_version", e.active)
	return n
}

// GenerateKeyBase64 returns a random 32-byte key encoded for configuration.
func GenerateKeyBase64() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("encryption: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
