// Package jwtx reads JSON Web Token payloads without verifying signatures.
//
// The auth client treats access tokens as opaque bearer credentials whose
// embedded claims are only hints for local expiry scheduling. Signature
// verification is a server-side trust boundary and deliberately out of scope
// here; anything undecodable is simply treated as an invalid token.
package jwtx

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultClockSkew is the buffer subtracted from a token's nominal lifetime
// to tolerate clock drift between client and provider.
const DefaultClockSkew = 30 * time.Second

// ErrUndecodable reports a token whose payload cannot be read: wrong segment
// count, invalid base64url, or a non-JSON payload.
var ErrUndecodable = errors.New("jwtx: token payload is not decodable")

// Claims is the decoded payload of an access or identity token. Required
// registered claims are lifted into typed fields; everything the token
// carries, including those, remains available in Extra.
type Claims struct {
	// Subject is the "sub" claim, empty when absent.
	Subject string

	// ExpiresAt is the "exp" claim; zero when the token carries none.
	ExpiresAt time.Time

	// IssuedAt is the "iat" claim; zero when the token carries none.
	IssuedAt time.Time

	// Extra holds every claim as decoded, keyed by claim name.
	Extra map[string]any
}

// DecodePayload splits the token on ".", base64url-decodes the middle
// segment and parses it as a JSON object. The signature is never checked.
// Any malformed input yields ErrUndecodable rather than a parse error chain
// so callers can treat the token as invalid and move on.
func DecodePayload(token string) (*Claims, error) {
	raw := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, raw); err != nil {
		return nil, ErrUndecodable
	}

	claims := &Claims{Extra: map[string]any(raw)}

	if sub, err := raw.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if exp, err := raw.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if iat, err := raw.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}

	return claims, nil
}

// IsExpired reports whether the token should be treated as expired, with the
// given clock-skew buffer. Undecodable tokens and tokens without an "exp"
// claim are always expired (fail closed). The boundary is inclusive: a token
// expiring exactly skew from now is already expired, making the buffer a
// hard cutoff.
func IsExpired(token string, skew time.Duration) bool {
	claims, err := DecodePayload(token)
	if err != nil || claims.ExpiresAt.IsZero() {
		return true
	}
	return !claims.ExpiresAt.After(time.Now().Add(skew))
}

// UntilExpiry returns the remaining lifetime of the token, without any skew
// buffer. Undecodable or already-expired tokens yield 0.
func UntilExpiry(token string) time.Duration {
	claims, err := DecodePayload(token)
	if err != nil || claims.ExpiresAt.IsZero() {
		return 0
	}
	remaining := time.Until(claims.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
