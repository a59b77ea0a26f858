// Package cloak implements host cloaking (§4.9): a deterministic,
// non-reversible replacement for a user's real host, computed by HMAC
// under a per-network secret. The teacher hashes shared secrets with
// repeated SHA-256/SHA-512 rounds in ingest/auth.go (HASH_ITERATIONS,
// generateAuthHash); cloak.go follows the same "keyed hash, truncate,
// format" shape but swaps the construction for HMAC-SHA256 (the
// standard construction for a keyed PRF) and derives the key itself
// with HKDF (golang.org/x/crypto/hkdf) from the configured secret
// rather than hashing the secret directly, so the same network secret
// can be reused to derive unrelated keys elsewhere without exposing
// the relationship between them.
package cloak

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	hkdfInfo    = "ircd-cloak-v1"
	displayBits = 96 // truncate the HMAC to keep cloaks short and readable
)

// Cloaker derives stable cloaked hosts for a single network. One
// Cloaker is constructed at startup from the configured secret and
// shared by every session.
type Cloaker struct {
	key    []byte
	suffix string
}

// New derives a Cloaker's key from secret via HKDF and fixes the
// display suffix (e.g. "users.example.net") appended to every cloak.
func New(secret []byte, suffix string) (*Cloaker, error) {
	kdf := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return &Cloaker{key: key, suffix: suffix}, nil
}

// Cloak computes the stable cloaked form of a real host or IP. The
// same input always yields the same output; recovering the input from
// the output requires the secret.
func (c *Cloaker) Cloak(realHost string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(realHost))
	sum := mac.Sum(nil)
	n := displayBits / 8
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:n])
	lower := make([]byte, len(enc))
	for i := 0; i < len(enc); i++ {
		c := enc[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		lower[i] = c
	}
	if c.suffix == "" {
		return string(lower)
	}
	return string(lower) + "." + c.suffix
}
