package adminauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mailgateway/internal/apierr"
	"mailgateway/internal/lockout"
	"mailgateway/internal/passwordhash"
	"mailgateway/internal/secretbox"
	"mailgateway/internal/sessiontoken"
	"mailgateway/internal/sharedstore"
	"mailgateway/internal/store"
	"mailgateway/internal/totp"
)

func TestExtractSessionToken_PrefersBearer(t *testing.T) {
	require.Equal(t, "abc", ExtractSessionToken("Bearer abc", "cookie-val"))
}

func TestExtractSessionToken_FallsBackToCookie(t *testing.T) {
	require.Equal(t, "cookie-val", ExtractSessionToken("", "cookie-val"))
}

func setup(t *testing.T, legacyOTP string) *Authenticator {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)

	box := secretbox.New("0123456789abcdef0123456789abcdef")
	issuer, err := sessiontoken.New("a-session-signing-secret-that-is-long-enough", time.Hour)
	require.NoError(t, err)
	guard := lockout.New(sharedstore.NewMemoryStore(), 5, 15*time.Minute)

	return New(db, box, issuer, guard, legacyOTP)
}

func createAdmin(t *testing.T, a *Authenticator, username, password string, role store.AdminRole) store.AdminAccount {
	t.Helper()
	digest, err := passwordhash.Hash(password)
	require.NoError(t, err)

	admin := store.AdminAccount{Username: username, PasswordDigest: digest, Role: role, Status: store.AdminActive}
	require.NoError(t, a.db.Create(&admin).Error)
	return admin
}

func TestLogin_Success(t *testing.T) {
	a := setup(t, "")
	createAdmin(t, a, "root", "hunter2", store.RoleAdmin)

	admin, token, err := a.Login(context.Background(), "root", "hunter2", "", "1.2.3.4")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, "root", admin.Username)
}

func TestLogin_WrongPasswordFails(t *testing.T) {
	a := setup(t, "")
	createAdmin(t, a, "root", "hunter2", store.RoleAdmin)

	_, _, err := a.Login(context.Background(), "root", "wrong", "", "1.2.3.4")
	require.Error(t, err)
}

func TestLogin_LegacyOTPRequired(t *testing.T) {
	secret, err := totp.GenerateSecret()
	require.NoError(t, err)

	a := setup(t, secret)
	createAdmin(t, a, "root", "hunter2", store.RoleAdmin)

	_, _, err = a.Login(context.Background(), "root", "hunter2", "", "1.2.3.4")
	require.Error(t, err)

	code, err := totp.CodeAt(secret, time.Now())
	require.NoError(t, err)

	_, token, err := a.Login(context.Background(), "root", "hunter2", code, "1.2.3.4")
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

func TestTwoFactorLifecycle(t *testing.T) {
	a := setup(t, "")
	admin := createAdmin(t, a, "root", "hunter2", store.RoleAdmin)

	secret, uri, err := a.SetupTwoFactor(context.Background(), admin.ID, "mailgateway", "root")
	require.NoError(t, err)
	require.NotEmpty(t, secret)
	require.Contains(t, uri, "otpauth://")

	code, err := totp.CodeAt(secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, a.EnableTwoFactor(context.Background(), admin.ID, code))

	var updated store.AdminAccount
	require.NoError(t, a.db.First(&updated, admin.ID).Error)
	require.True(t, updated.TwoFactorEnabled)
	require.Empty(t, updated.TwoFactorPendingSecretCipher)

	_, _, err = a.Login(context.Background(), "root", "hunter2", "", "1.2.3.4")
	require.Error(t, err)
	require.Equal(t, apierr.CodeInvalidOTP, apierr.As(err).Code)

	code2, err := totp.CodeAt(secret, time.Now())
	require.NoError(t, err)
	_, token, err := a.Login(context.Background(), "root", "hunter2", code2, "1.2.3.4")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	disableCode, err := totp.CodeAt(secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, a.DisableTwoFactor(context.Background(), admin.ID, "hunter2", disableCode))

	var disabled store.AdminAccount
	require.NoError(t, a.db.First(&disabled, admin.ID).Error)
	require.False(t, disabled.TwoFactorEnabled)
}

func TestRequireSuperAdmin(t *testing.T) {
	require.NoError(t, RequireSuperAdmin(store.AdminAccount{Role: store.RoleSuperAdmin}))
	require.Error(t, RequireSuperAdmin(store.AdminAccount{Role: store.RoleAdmin}))
}
