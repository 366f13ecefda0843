// Package keyderive produces per-upload symmetric key material from a
// file's content digest and the owner's current ledger tip. Because the
// tip advances with every append, re-deriving for identical file bytes
// at a later tip yields different key material.
package keyderive

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/arvht/chainkey/pkg/digest"
)

// KeyLength is the length of derived key material in bytes (AES-256).
const KeyLength = 32

var hkdfInfo = []byte("chainkey/v1/file-key")

// Derive computes SHA-256(fileBytes) XOR tip and stretches the result
// through HKDF-SHA256 to KeyLength bytes. The empty byte sequence is a
// valid input; its digest is well defined and non-degenerate.
func Derive(fileBytes []byte, tip digest.Digest) ([]byte, error) { // A
	fileDigest := digest.HashBytes(fileBytes)
	secret := fileDigest.Xor(tip)

	reader := hkdf.New(sha256.New, secret.Bytes(), nil, hkdfInfo)
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("stretch key material: %w", err)
	}
	return key, nil
}
