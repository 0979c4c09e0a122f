package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// Token entropy in bytes for each credential kind. Everything is at
// least 18 bytes, which makes collisions within a map's lifetime a
// non-concern.
const (
	CodeBytes     = 24
	TokenBytes    = 32
	StateBytes    = 18
	VerifierBytes = 48
)

// RandomToken returns n bytes from a cryptographically secure source,
// URL-safe base64 encoded without padding.
func RandomToken(n int) string {
	buf := make([]byte, n)
	// rand.Read never fails on supported platforms; it panics internally
	// if the kernel source is unavailable.
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// DeriveChallenge derives a PKCE code challenge from a verifier.
// Method "S256" hashes; "plain", empty and any unrecognized method pass
// the verifier through unchanged.
func DeriveChallenge(verifier, method string) string {
	if method == "S256" {
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:])
	}
	return verifier
}

// constantTimeEqual compares two strings in time independent of where
// they first differ. Differing lengths return false immediately.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
