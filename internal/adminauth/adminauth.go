// Package adminauth implements C18: resolving the admin session token the
// way middleware/jwt_middleware.go's Protected() does (Authorization header
// first, a cookie fallback second), plus the login handshake and 2FA state
// machine that sit in front of it. The password+OTP login sequence composes
// C2/C3/C4/C6 the way Protected() composed JWT parsing with a user lookup
// and an IsActive check.
package adminauth

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"mailgateway/internal/apierr"
	"mailgateway/internal/lockout"
	"mailgateway/internal/passwordhash"
	"mailgateway/internal/secretbox"
	"mailgateway/internal/sessiontoken"
	"mailgateway/internal/store"
	"mailgateway/internal/totp"
)

const otpWindow = 1

// ExtractSessionToken pulls the bearer token from an Authorization header,
// falling back to the "token" cookie value.
func ExtractSessionToken(authorizationHeader, cookieToken string) string {
	if authorizationHeader != "" {
		parts := strings.SplitN(authorizationHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	return cookieToken
}

type Authenticator struct {
	db              *gorm.DB
	box             *secretbox.Box
	issuer          *sessiontoken.Issuer
	lockout         *lockout.Guard
	legacyOTPSecret string
}

func New(db *gorm.DB, box *secretbox.Box, issuer *sessiontoken.Issuer, guard *lockout.Guard, legacyOTPSecret string) *Authenticator {
	return &Authenticator{db: db, box: box, issuer: issuer, lockout: guard, legacyOTPSecret: legacyOTPSecret}
}

// VerifySession validates a session token, converting any failure to a
// single InvalidToken error.
func (a *Authenticator) VerifySession(tokenString string) (*sessiontoken.Claims, error) {
	claims, err := a.issuer.Verify(tokenString)
	if err != nil {
		return nil, apierr.ErrInvalidToken("invalid or expired session token")
	}
	return claims, nil
}

// RequireSuperAdmin is a post-authentication gate on an already-verified
// admin's role.
func RequireSuperAdmin(admin store.AdminAccount) error {
	if admin.Role != store.RoleSuperAdmin {
		return apierr.ErrForbidden("super admin role required")
	}
	return nil
}

// Login validates credentials and optional TOTP, clears/records lockout
// state, updates last_login_at/last_login_ip, and mints a session token.
func (a *Authenticator) Login(ctx context.Context, username, password, otp, ip string) (*store.AdminAccount, string, error) {
	if err := a.lockout.CheckLocked(ctx, username, ip); err != nil {
		return nil, "", err
	}

	var admin store.AdminAccount
	if err := a.db.WithContext(ctx).Where("username = ?", username).First(&admin).Error; err != nil {
		a.lockout.RecordFailure(ctx, username, ip)
		return nil, "", apierr.ErrUnauthorized("invalid username or password")
	}

	if admin.Status != store.AdminActive {
		return nil, "", apierr.ErrAccountDisabled("admin account is disabled")
	}

	if !passwordhash.Verify(password, admin.PasswordDigest) {
		a.lockout.RecordFailure(ctx, username, ip)
		return nil, "", apierr.ErrUnauthorized("invalid username or password")
	}

	if admin.TwoFactorEnabled || a.legacyOTPSecret != "" {
		if otp == "" {
			return nil, "", apierr.ErrInvalidOTP("otp required")
		}

		secret := a.legacyOTPSecret
		if admin.TwoFactorEnabled {
			decrypted, err := a.box.Decrypt(admin.TwoFactorSecretCipher)
			if err != nil {
				return nil, "", err
			}
			secret = decrypted
		}

		ok, err := totp.Verify(secret, otp, otpWindow, time.Now())
		if err != nil {
			return nil, "", err
		}
		if !ok {
			a.lockout.RecordFailure(ctx, username, ip)
			return nil, "", apierr.ErrInvalidOTP("invalid otp")
		}
	}

	a.lockout.ClearOnSuccess(ctx, username, ip)

	now := time.Now()
	a.db.WithContext(ctx).Model(&store.AdminAccount{}).Where("id = ?", admin.ID).
		Updates(map[string]interface{}{"last_login_at": now, "last_login_ip": ip})

	token, err := a.issuer.Mint(admin.ID, admin.Username, string(admin.Role))
	if err != nil {
		return nil, "", err
	}
	return &admin, token, nil
}

// SetupTwoFactor generates a new secret and stores it as pending, discarding
// any previously pending secret for this admin.
func (a *Authenticator) SetupTwoFactor(ctx context.Context, adminID uint, issuer, account string) (secret, uri string, err error) {
	secret, err = totp.GenerateSecret()
	if err != nil {
		return "", "", err
	}

	cipher, err := a.box.Encrypt(secret)
	if err != nil {
		return "", "", err
	}

	if err := a.db.WithContext(ctx).Model(&store.AdminAccount{}).Where("id = ?", adminID).
		Update("two_factor_pending_secret_cipher", cipher).Error; err != nil {
		return "", "", err
	}

	return secret, totp.URI(issuer, account, secret), nil
}

// EnableTwoFactor promotes the pending secret to active once otp validates
// against it, clearing the pending column.
func (a *Authenticator) EnableTwoFactor(ctx context.Context, adminID uint, otp string) error {
	var admin store.AdminAccount
	if err := a.db.WithContext(ctx).First(&admin, adminID).Error; err != nil {
		return apierr.ErrNotFound("admin not found")
	}
	if admin.TwoFactorPendingSecretCipher == "" {
		return apierr.ErrValidation("no pending two-factor setup")
	}

	secret, err := a.box.Decrypt(admin.TwoFactorPendingSecretCipher)
	if err != nil {
		return err
	}

	ok, err := totpVerify(secret, otp)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.ErrInvalidOTP("invalid otp")
	}

	return a.db.WithContext(ctx).Model(&store.AdminAccount{}).Where("id = ?", adminID).
		Updates(map[string]interface{}{
			"two_factor_enabled":              true,
			"two_factor_secret_cipher":        admin.TwoFactorPendingSecretCipher,
			"two_factor_pending_secret_cipher": "",
		}).Error
}

// DisableTwoFactor requires the current password and a valid otp against
// the active secret, clearing both active and pending state.
func (a *Authenticator) DisableTwoFactor(ctx context.Context, adminID uint, password, otp string) error {
	var admin store.AdminAccount
	if err := a.db.WithContext(ctx).First(&admin, adminID).Error; err != nil {
		return apierr.ErrNotFound("admin not found")
	}
	if !admin.TwoFactorEnabled {
		return apierr.ErrValidation("two-factor is not enabled")
	}
	if !passwordhash.Verify(password, admin.PasswordDigest) {
		return apierr.ErrUnauthorized("invalid password")
	}

	secret, err := a.box.Decrypt(admin.TwoFactorSecretCipher)
	if err != nil {
		return err
	}
	ok, err := totpVerify(secret, otp)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.ErrInvalidOTP("invalid otp")
	}

	return a.db.WithContext(ctx).Model(&store.AdminAccount{}).Where("id = ?", adminID).
		Updates(map[string]interface{}{
			"two_factor_enabled":               false,
			"two_factor_secret_cipher":         "",
			"two_factor_pending_secret_cipher": "",
		}).Error
}

// Logout discards any pending two-factor secret for adminID.
func (a *Authenticator) Logout(ctx context.Context, adminID uint) error {
	return a.db.WithContext(ctx).Model(&store.AdminAccount{}).Where("id = ?", adminID).
		Update("two_factor_pending_secret_cipher", "").Error
}

func totpVerify(secret, otp string) (bool, error) {
	return totp.Verify(secret, otp, otpWindow, time.Now())
}
