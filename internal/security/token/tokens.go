// Package tokens provides opaque credential generation and digest helpers.
package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// GenerateOpaqueToken returns a random URL-safe base64 string without padding.
// nBytes is the entropy in bytes before encoding.
func GenerateOpaqueToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SHA256Base64URL returns sha256(s) as unpadded base64url. Used to store
// token digests instead of raw credentials.
func SHA256Base64URL(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ConstantTimeEquals compares two strings in time independent of where they
// first differ. A length mismatch still returns in constant time relative to
// the compared prefix.
func ConstantTimeEquals(a, b string) bool {
	// subtle.ConstantTimeCompare short-circuits on length mismatch, which is
	// acceptable: length is not secret for our credentials. Hash both sides
	// so the comparison length is fixed regardless of input length.
	ah := sha256.Sum256([]byte(a))
	bh := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ah[:], bh[:]) == 1
}
