package totp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVerify_WithinWindow(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	code, err := CodeAt(secret, now)
	require.NoError(t, err)

	ok, err := Verify(secret, code, 1, now.Add(25*time.Second))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Verify(secret, code, 1, now.Add(-25*time.Second))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerify_OutsideWindowFails(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	code, err := CodeAt(secret, now)
	require.NoError(t, err)

	ok, err := Verify(secret, code, 1, now.Add(90*time.Second))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerify_ZeroWindowRequiresExactStep(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	code, err := CodeAt(secret, now)
	require.NoError(t, err)

	ok, err := Verify(secret, code, 0, now.Add(30*time.Second))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGenerateSecret_Length(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(secret), 16)
}

func TestURI_Format(t *testing.T) {
	uri := URI("MailGateway", "admin@example.com", "ABCDEFGHIJKLMNOP")
	require.Contains(t, uri, "otpauth://totp/")
	require.Contains(t, uri, "algorithm=SHA1")
	require.Contains(t, uri, "digits=6")
	require.Contains(t, uri, "period=30")
}
