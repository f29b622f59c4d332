// Package cipher seals and unseals upstream credentials at rest using a
// process-wide secret.
package cipher

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeyCipherError wraps a seal/unseal failure: tampered ciphertext, truncated
// input, or a key mismatch.
type KeyCipherError struct {
	Op  string
	Err error
}

func (e *KeyCipherError) Error() string {
	return fmt.Sprintf("cipher: %s: %v", e.Op, e.Err)
}

func (e *KeyCipherError) Unwrap() error { return e.Err }

// Cipher seals and unseals plaintext upstream credentials with an AEAD keyed
// from a digest of a process-wide secret, the same role Fernet-over-SHA256
// plays in the original service.
type Cipher struct {
	aead cipherAEAD
}

type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// New derives a 256-bit key from secret (expected to be ≥32 bytes of
// hex/ASCII entropy) via SHA-256 and builds a ChaCha20-Poly1305 AEAD.
func New(secret string) (*Cipher, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("cipher: encryption key must be at least 32 bytes, got %d", len(secret))
	}

	digest := sha256.Sum256([]byte(secret))
	aead, err := chacha20poly1305.New(digest[:])
	if err != nil {
		return nil, fmt.Errorf("cipher: building AEAD: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext and returns a URL-safe base64 string containing
// the nonce followed by the ciphertext.
func (c *Cipher) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", &KeyCipherError{Op: "seal", Err: err}
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Unseal decrypts a string previously produced by Seal. It returns
// *KeyCipherError on any integrity failure or wrong-key condition.
func (c *Cipher) Unseal(ciphertext string) ([]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, &KeyCipherError{Op: "unseal", Err: err}
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, &KeyCipherError{Op: "unseal", Err: errors.New("ciphertext too short")}
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, &KeyCipherError{Op: "unseal", Err: err}
	}

	return plaintext, nil
}
