// Package totp produces the time-based one-time codes a client submits when
// the provider answers a login with an MFA challenge. It is the client-side
// counterpart of server TOTP enrollment: given the enrolled secret, it
// computes the six-digit code for the current time step.
package totp

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Code computes the TOTP code for the secret at the given time using the
// standard parameters (SHA1, six digits, 30s period).
func Code(secret string, at time.Time) (string, error) {
	code, err := totp.GenerateCode(secret, at)
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP code: %w", err)
	}
	return code, nil
}

// CurrentCode computes the TOTP code for the current time step.
func CurrentCode(secret string) (string, error) {
	return Code(secret, time.Now())
}

// Validate reports whether code is valid for secret at the current time.
// Useful in tests and for pre-flight checks before submitting a challenge.
func Validate(code, secret string) bool {
	return totp.Validate(code, secret)
}

// SecretFromURL extracts the shared secret from an otpauth:// enrollment
// URL, the form most providers hand back as a QR code payload.
func SecretFromURL(enrollmentURL string) (string, error) {
	key, err := otp.NewKeyFromURL(enrollmentURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse enrollment URL: %w", err)
	}
	return key.Secret(), nil
}
