package totp

import (
	"testing"
	"time"

	"github.com/pquerna/otp"
	totplib "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func enroll(t *testing.T) *otp.Key {
	t.Helper()

	key, err := totplib.Generate(totplib.GenerateOpts{
		Issuer:      "authkit-test",
		AccountName: "kim@example.com",
	})
	require.NoError(t, err)
	return key
}

func TestCode(t *testing.T) {
	t.Parallel()

	key := enroll(t)

	now := time.Now()
	code, err := Code(key.Secret(), now)
	require.NoError(t, err)
	require.Len(t, code, 6)

	// Same time step yields the same code
	again, err := Code(key.Secret(), now)
	require.NoError(t, err)
	require.Equal(t, code, again)

	// A distant time step yields a different code
	later, err := Code(key.Secret(), now.Add(5*time.Minute))
	require.NoError(t, err)
	require.NotEqual(t, code, later)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	key := enroll(t)

	code, err := CurrentCode(key.Secret())
	require.NoError(t, err)
	require.True(t, Validate(code, key.Secret()))
	require.False(t, Validate("000000", key.Secret()))
}

func TestSecretFromURL(t *testing.T) {
	t.Parallel()

	key := enroll(t)

	secret, err := SecretFromURL(key.URL())
	require.NoError(t, err)
	require.Equal(t, key.Secret(), secret)

	_, err = SecretFromURL("://not-a-url")
	require.Error(t, err)
}

func TestCodeInvalidSecret(t *testing.T) {
	t.Parallel()

	_, err := CurrentCode("not base32!!")
	require.Error(t, err)
}
