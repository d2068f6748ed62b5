// Package cryptoseal provides authenticated symmetric encryption of secrets
// at rest, used by the credential store to seal OAuth/bearer/API-key
// material before it ever reaches the repository layer.
//
// Sealed values are stored as "sealed:v1:<base64(nonce+ciphertext)>" so a
// store can tell sealed from unsealed values during migration.
package cryptoseal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const prefix = "sealed:v1:"

// ErrUnsealed is returned by Open when the input has no sealed prefix.
var ErrUnsealed = errors.New("cryptoseal: value is not sealed")

// Sealer encrypts and decrypts secret fields. Safe for concurrent use.
type Sealer struct {
	gcm cipher.AEAD
}

// New derives an AES-256 key from masterSecret via HKDF-SHA256 and returns
// a Sealer. purpose isolates this derived key from other uses of the same
// master secret (e.g. "credential-store" vs "session-token").
func New(masterSecret []byte, purpose string) (*Sealer, error) {
	if len(masterSecret) == 0 {
		return nil, errors.New("cryptoseal: master secret must not be empty")
	}
	reader := hkdf.New(sha256.New, masterSecret, []byte("chatbroker-field-seal"), []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("cryptoseal: hkdf derivation failed: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoseal: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptoseal: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts plaintext and returns a prefixed string suitable for
// storage.
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("cryptoseal: failed to generate nonce: %w", err)
	}
	ciphertext := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a value previously produced by Seal. A value lacking the
// sealed prefix is rejected with ErrUnsealed.
func (s *Sealer) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, prefix) {
		return "", ErrUnsealed
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, prefix))
	if err != nil {
		return "", fmt.Errorf("cryptoseal: invalid base64: %w", err)
	}
	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("cryptoseal: ciphertext too short")
	}
	plaintext, err := s.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("cryptoseal: decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// IsSealed reports whether stored carries the sealed-value prefix.
func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, prefix)
}
