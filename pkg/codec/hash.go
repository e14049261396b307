// Package codec implements the kernel's canonical binary encoding and
// content hashing (spec §6, "Canonical binary (tag-length-value)").
//
// Canonicalization follows the same discipline as HELM's CSNF transform
// (strings NFC-normalized, numbers integer-only unless declared decimal,
// arrays classified ORDERED or SET) but targets CBOR's deterministic
// encoding (RFC 8949 §4.2) instead of JSON+JCS, since the kernel's wire
// format is binary.
package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Hash is a 256-bit content digest, rendered as "sha256:<hex>".
type Hash [32]byte

// ErrNotFound is returned by stores when a hash has no known referent.
var ErrNotFound = errors.New("codec: not found")

// String renders the hash in the canonical "sha256:<hex>" form.
func (h Hash) String() string {
	return "sha256:" + hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero placeholder hash used by the
// manifest loader before a referenced body has been stored (spec §4.2).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler so Hash round-trips through
// JSON-described manifest documents as "sha256:<hex>".
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash parses a "sha256:<hex>" string into a Hash.
func ParseHash(s string) (Hash, error) {
	const prefix = "sha256:"
	if len(s) != len(prefix)+64 || s[:len(prefix)] != prefix {
		return Hash{}, fmt.Errorf("codec: malformed hash %q", s)
	}
	raw, err := hex.DecodeString(s[len(prefix):])
	if err != nil {
		return Hash{}, fmt.Errorf("codec: malformed hash %q: %w", s, err)
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}

// Sum computes the content hash of already-canonical bytes.
func Sum(canonicalBytes []byte) Hash {
	return sha256.Sum256(canonicalBytes)
}

// HashValue canonicalizes v and returns its content hash. It is the
// composition Sum(Encode(v)) used throughout the kernel to derive
// manifest, intent, and node hashes (spec invariant 2 & 3, §8).
func HashValue(v any) (Hash, error) {
	b, err := Encode(v)
	if err != nil {
		return Hash{}, err
	}
	return Sum(b), nil
}
