package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// HashSize is the size of a content hash in bytes.
const HashSize = sha256.Size

// Hash is a SHA-256 digest of a candidate's key and value. The zero Hash
// is never produced by hashing and means "unset".
type Hash [HashSize]byte

// ParseHash decodes a hex-encoded hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	data, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash encoding: %w", err)
	}
	if len(data) != HashSize {
		return h, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(data))
	}
	copy(h[:], data)
	return h, nil
}

// HashEqual compares two hashes
func HashEqual(a, b Hash) bool {
	return a == b
}

// IsZero reports whether h is unset.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler.
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

// CanonicalValue compacts a JSON payload so that semantically identical
// payloads with different whitespace hash the same.
func CanonicalValue(v json.RawMessage) (json.RawMessage, error) {
	if len(v) == 0 {
		return nil, ErrEmptyValue
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return buf.Bytes(), nil
}

// ValueHash hashes one canonical value together with the key it is
// proposed for, framed as key, NUL, value.
func ValueHash(key ItemKey, v json.RawMessage) Hash {
	h := sha256.New()
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write(v)
	var out Hash
	h.Sum(out[:0])
	return out
}

// ValuesHash hashes a key/value bundle in key order.
// Each entry is framed as key, NUL, value, NUL.
func ValuesHash(values map[ItemKey]json.RawMessage) Hash {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write(values[ItemKey(k)])
		h.Write([]byte{0})
	}
	var out Hash
	h.Sum(out[:0])
	return out
}
