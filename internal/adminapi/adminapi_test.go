package adminapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"mailgateway/internal/adminauth"
	"mailgateway/internal/lockout"
	"mailgateway/internal/passwordhash"
	"mailgateway/internal/pool"
	"mailgateway/internal/secretbox"
	"mailgateway/internal/sessiontoken"
	"mailgateway/internal/sharedstore"
	"mailgateway/internal/store"
)

func newTestApp(t *testing.T) (*fiber.App, *gorm.DB, *secretbox.Box, *adminauth.Authenticator) {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)

	box := secretbox.New("0123456789abcdef0123456789abcdef")
	issuer, err := sessiontoken.New("a-session-signing-secret-that-is-32-bytes-plus", time.Hour)
	require.NoError(t, err)
	guard := lockout.New(sharedstore.NewMemoryStore(), 5, 15*time.Minute)
	auth := adminauth.New(db, box, issuer, guard, "")
	allocator := pool.New(db, box)

	handler := New(db, auth, allocator, box)
	app := fiber.New()
	handler.Register(app)
	return app, db, box, auth
}

func createAdmin(t *testing.T, db *gorm.DB, username, password string, role store.AdminRole) store.AdminAccount {
	t.Helper()
	digest, err := passwordhash.Hash(password)
	require.NoError(t, err)

	admin := store.AdminAccount{Username: username, PasswordDigest: digest, Role: role, Status: store.AdminActive}
	require.NoError(t, db.Create(&admin).Error)
	return admin
}

func loginAndGetToken(t *testing.T, app *fiber.App, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(fiber.MethodPost, "/admin/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var parsed struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &parsed))
	require.NotEmpty(t, parsed.Data.Token)
	return parsed.Data.Token
}

func TestLogin_ValidPasswordNoTwoFactorSucceeds(t *testing.T) {
	app, db, _, _ := newTestApp(t)
	createAdmin(t, db, "root-admin", "correct-horse-battery", store.RoleSuperAdmin)

	token := loginAndGetToken(t, app, "root-admin", "correct-horse-battery")
	require.NotEmpty(t, token)
}

func TestLogin_WrongPasswordIsUnauthorized(t *testing.T) {
	app, db, _, _ := newTestApp(t)
	createAdmin(t, db, "root-admin", "correct-horse-battery", store.RoleAdmin)

	body, _ := json.Marshal(map[string]string{"username": "root-admin", "password": "wrong"})
	req := httptest.NewRequest(fiber.MethodPost, "/admin/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 401, resp.StatusCode)
}

func TestLogin_TwoFactorEnabledWithoutOTPReturnsInvalidOTP(t *testing.T) {
	app, db, box, _ := newTestApp(t)
	admin := createAdmin(t, db, "two-factor-admin", "correct-horse-battery", store.RoleAdmin)

	cipher, err := box.Encrypt("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	require.NoError(t, db.Model(&admin).Updates(map[string]interface{}{
		"two_factor_enabled":        true,
		"two_factor_secret_cipher": cipher,
	}).Error)

	body, _ := json.Marshal(map[string]string{"username": "two-factor-admin", "password": "correct-horse-battery"})
	req := httptest.NewRequest(fiber.MethodPost, "/admin/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 401, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), "INVALID_OTP")
}

func TestCredentialsCRUD_RequiresSession(t *testing.T) {
	app, _, _, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/admin/credentials", nil))
	require.NoError(t, err)
	require.Equal(t, 401, resp.StatusCode)
}

func TestCreateCredential_ReturnsSecretOnce(t *testing.T) {
	app, db, _, _ := newTestApp(t)
	createAdmin(t, db, "root-admin", "correct-horse-battery", store.RoleSuperAdmin)
	token := loginAndGetToken(t, app, "root-admin", "correct-horse-battery")

	body, _ := json.Marshal(map[string]interface{}{
		"displayName":   "ops script",
		"ratePerMinute": 120,
	})
	req := httptest.NewRequest(fiber.MethodPost, "/admin/credentials", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 201, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"secret":"sk_`)
}

func TestCreateAdmin_RejectedForNonSuperAdmin(t *testing.T) {
	app, db, _, _ := newTestApp(t)
	createAdmin(t, db, "plain-admin", "correct-horse-battery", store.RoleAdmin)
	token := loginAndGetToken(t, app, "plain-admin", "correct-horse-battery")

	body, _ := json.Marshal(map[string]string{"username": "new-admin", "password": "another-password"})
	req := httptest.NewRequest(fiber.MethodPost, "/admin/admins", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 403, resp.StatusCode)
}

func TestImportMailboxes_ReportsPerRowFailures(t *testing.T) {
	app, db, _, _ := newTestApp(t)
	createAdmin(t, db, "root-admin", "correct-horse-battery", store.RoleSuperAdmin)
	token := loginAndGetToken(t, app, "root-admin", "correct-horse-battery")

	csv := "good1@outlook.com,refresh-token-1,client-a\nmissing-fields-only\ngood2@outlook.com,refresh-token-2,client-a\n"
	req := httptest.NewRequest(fiber.MethodPost, "/admin/mailboxes/import", bytes.NewReader([]byte(csv)))
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"success":true`)
	require.Contains(t, string(raw), `"success":false`)

	var count int64
	require.NoError(t, db.Model(&store.Mailbox{}).Count(&count).Error)
	require.EqualValues(t, 2, count)
}

func TestDashboardStats_ReturnsCounts(t *testing.T) {
	app, db, _, _ := newTestApp(t)
	createAdmin(t, db, "root-admin", "correct-horse-battery", store.RoleSuperAdmin)
	token := loginAndGetToken(t, app, "root-admin", "correct-horse-battery")

	req := httptest.NewRequest(fiber.MethodGet, "/admin/dashboard/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), "credentialCount")
}
