// Package digest provides the SHA-256 based digest type used for block
// hashes, ledger tips, and file content digests.
package digest

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Digest is a fixed-size array representing a SHA-256 hash.
type Digest [sha256.Size]byte

// HashBytes computes the SHA-256 hash of the given data.
func HashBytes(data []byte) Digest { // A
	return Digest(sha256.Sum256(data))
}

// HashString computes the SHA-256 hash of the given string.
func HashString(s string) Digest { // A
	return HashBytes([]byte(s))
}

// HashHexadecimal parses a hexadecimal string and returns the
// corresponding Digest. Returns an error if the string is not a valid
// 64-character hex representation.
func HashHexadecimal(s string) (Digest, error) { // A
	if len(s) != sha256.Size*2 {
		return Digest{}, fmt.Errorf(
			"invalid hex length: expected %d, got %d",
			sha256.Size*2, len(s),
		)
	}

	decoded, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf(
			"decode hex: %w", err,
		)
	}

	var d Digest
	copy(d[:], decoded)
	return d, nil
}

// Equal returns true if this digest equals the other digest.
func (d Digest) Equal(other Digest) bool { // A
	return subtle.ConstantTimeCompare(
		d[:],
		other[:],
	) == 1
}

// IsZero returns true if this digest is the zero value
// (all bytes are zero).
func (d Digest) IsZero() bool { // A
	return d == Digest{}
}

// Bytes returns a byte slice copy of the digest.
func (d Digest) Bytes() []byte { // A
	b := make([]byte, len(d))
	copy(b, d[:])
	return b
}

// Xor returns the byte-wise XOR of this digest with the other digest.
func (d Digest) Xor(other Digest) Digest { // A
	var out Digest
	for i := range d {
		out[i] = d[i] ^ other[i]
	}
	return out
}

// String returns the hexadecimal string representation of the digest.
func (d Digest) String() string { // A
	return hex.EncodeToString(d[:])
}

// Hex returns the hexadecimal string representation of the digest
// (alias for String).
func (d Digest) Hex() string { // A
	return d.String()
}

// MarshalJSON encodes the digest as a hex string.
func (d Digest) MarshalJSON() ([]byte, error) { // A
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes the digest from a hex string. The empty string
// decodes to the zero digest.
func (d *Digest) UnmarshalJSON(data []byte) error { // A
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Digest{}
		return nil
	}
	parsed, err := HashHexadecimal(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
