package sessiontoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestMintAndVerify(t *testing.T) {
	issuer, err := New(testSecret, time.Hour)
	require.NoError(t, err)

	token, err := issuer.Mint(7, "alice", "SuperAdmin")
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, uint(7), claims.Subject)
	require.Equal(t, "alice", claims.Username)
	require.Equal(t, "SuperAdmin", claims.Role)
}

func TestVerify_RejectsExpired(t *testing.T) {
	issuer, err := New(testSecret, -time.Hour)
	require.NoError(t, err)

	token, err := issuer.Mint(1, "bob", "Admin")
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	require.Error(t, err)
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	issuer, err := New(testSecret, time.Hour)
	require.NoError(t, err)

	other, err := New("ffffffffffffffffffffffffffffffff", time.Hour)
	require.NoError(t, err)

	token, err := issuer.Mint(1, "bob", "Admin")
	require.NoError(t, err)

	_, err = other.Verify(token)
	require.Error(t, err)
}

func TestNew_RejectsShortSecret(t *testing.T) {
	_, err := New("too-short", time.Hour)
	require.Error(t, err)
}
