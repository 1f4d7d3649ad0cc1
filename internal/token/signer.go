// Package token issues and verifies the short keyed signatures printed on
// tickets and bar orders, and parses the codes scanned at the point of sale.
package token

import (
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"hash"

	"golang.org/x/crypto/blake2b"
)

const (
	MinLength = 6
	// MaxLength is the length of an untruncated base32 BLAKE2b-256 digest.
	MaxLength = 52
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Signer computes truncated keyed hashes bound to a unit and its scope.
// Tokens are never stored as a source of truth; Verify always recomputes.
type Signer struct {
	key    [32]byte
	length int
}

func NewSigner(secret string, length int) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("token: secret required")
	}
	if length < MinLength || length > MaxLength {
		return nil, errors.New("token: length out of range")
	}
	return &Signer{
		key:    blake2b.Sum256([]byte(secret)),
		length: length,
	}, nil
}

// Sign returns the token for unitID within scopeID.
func (s *Signer) Sign(unitID, scopeID string) string {
	h, err := blake2b.New256(s.key[:])
	if err != nil {
		// A 32 byte key is always accepted.
		panic(err)
	}
	writeField(h, unitID)
	writeField(h, scopeID)
	return encoding.EncodeToString(h.Sum(nil))[:s.length]
}

// Verify reports whether token was issued for unitID within scopeID.
func (s *Signer) Verify(unitID, scopeID, token string) bool {
	expected := s.Sign(unitID, scopeID)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}

// writeField length-prefixes v so ("a|b","c") and ("a","b|c") never collide.
func writeField(h hash.Hash, v string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(v)))
	h.Write(n[:])
	h.Write([]byte(v))
}
