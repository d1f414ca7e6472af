// Package pkce generates the one-time secrets used by the OAuth2
// authorization code flow with PKCE (RFC 7636): code verifiers, their S256
// challenges, and the state/nonce values that guard a redirect round-trip.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// VerifierSize is the entropy in bytes behind every generated secret.
// 32 bytes encode to 43 base64url characters.
const VerifierSize = 32

// MethodS256 is the only code challenge method this package produces.
const MethodS256 = "S256"

// Generator produces PKCE artifacts from an entropy source.
// Use New for production code; the zero value is not usable.
type Generator struct {
	random io.Reader
}

// New returns a Generator backed by crypto/rand.
func New() *Generator {
	return &Generator{random: rand.Reader}
}

// NewWithRandom returns a Generator backed by the given entropy source.
// Intended for tests.
func NewWithRandom(r io.Reader) *Generator {
	return &Generator{random: r}
}

// GenerateVerifier returns a new code verifier: VerifierSize
// cryptographically random bytes, base64url-encoded without padding.
func (g *Generator) GenerateVerifier() (string, error) {
	return g.token()
}

// GenerateState returns a single-use CSRF token binding an authorization
// request to its callback.
func (g *Generator) GenerateState() (string, error) {
	return g.token()
}

// GenerateNonce returns a single-use replay-protection token for OIDC
// authorization requests.
func (g *Generator) GenerateNonce() (string, error) {
	return g.token()
}

func (g *Generator) token() (string, error) {
	buf := make([]byte, VerifierSize)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Challenge computes the S256 code challenge for a verifier:
// BASE64URL(SHA256(verifier)). Deterministic for a given verifier.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
