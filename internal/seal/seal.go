// Package seal wraps derived key material in AES-256-GCM under a
// server master key before it enters the ledger. The asymmetric
// per-user encryption of the original design is a trusted external
// primitive; this package is the server-side boundary for it.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
)

const masterKeySize = 32

// Sealer seals and opens key material under the server master key.
type Sealer struct {
	aead cipher.AEAD
}

// NewFromFile loads the master key from path, generating and writing a
// fresh key with 0600 permissions when the file does not exist yet.
func NewFromFile(path string) (*Sealer, error) { // A
	key, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		key = make([]byte, masterKeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate master key: %w", err)
		}
		if err := os.WriteFile(path, key, 0o600); err != nil {
			return nil, fmt.Errorf("write master key: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read master key: %w", err)
	}

	return New(key)
}

// New creates a sealer from a raw 32-byte master key.
func New(key []byte) (*Sealer, error) { // A
	if len(key) != masterKeySize {
		return nil, fmt.Errorf(
			"invalid master key length: expected %d, got %d",
			masterKeySize, len(key),
		)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts the key material. The random nonce is prepended to the
// ciphertext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) { // A
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts sealed key material produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) { // A
	if len(sealed) < s.aead.NonceSize() {
		return nil, errors.New("sealed key material too short")
	}
	nonce := sealed[:s.aead.NonceSize()]
	ciphertext := sealed[s.aead.NonceSize():]

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open key material: %w", err)
	}
	return plaintext, nil
}
