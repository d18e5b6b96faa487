// Package token issues and validates the opaque per-recipient tracking
// tokens embedded in campaign emails and landing pages.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Length is the encoded length of every token: 16 random bytes,
// base64 raw-URL encoded.
const Length = 22

// New returns a fresh tracking token. Tokens come from crypto/rand so they
// cannot be derived from campaign or recipient identifiers; uniqueness is
// enforced by the unique index on campaign_recipients.tracking_token.
func New() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Valid reports whether s is structurally a token: exact length and
// URL-safe base64 alphabet. It says nothing about whether the token exists;
// that is the store's job. Handlers use it as a cheap pre-filter so garbage
// paths never reach the database.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
