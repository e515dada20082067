// Package credential implements C17: extracting and validating the API key
// external callers present, mirroring middleware/jwt_middleware.go's
// Protected() shape (Authorization header first, fallback second, attach the
// resolved principal to the request) but for a SHA-256-hashed API key
// instead of a JWT, and the prefix+hash split other_examples/faucetdb and
// sethbacon-terraform-registry-backend both use for their API key models.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"gorm.io/gorm"

	"mailgateway/internal/apierr"
	"mailgateway/internal/ratelimit"
	"mailgateway/internal/scope"
	"mailgateway/internal/store"
)

const secretPrefix = "sk_"

// GenerateSecret mints a fresh random API key for a new or rotated
// credential. The raw key is returned once; only its Digest is persisted.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return secretPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Extract returns the raw API key from the request, checking X-API-Key,
// then Authorization: Bearer sk_..., then the api_key query parameter.
func Extract(headerXAPIKey, authorizationHeader, queryAPIKey string) string {
	if headerXAPIKey != "" {
		return headerXAPIKey
	}
	if authorizationHeader != "" {
		parts := strings.SplitN(authorizationHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" && strings.HasPrefix(parts[1], "sk_") {
			return parts[1]
		}
	}
	return queryAPIKey
}

func Digest(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

type Resolver struct {
	db      *gorm.DB
	limiter *ratelimit.Limiter
}

func New(db *gorm.DB, limiter *ratelimit.Limiter) *Resolver {
	return &Resolver{db: db, limiter: limiter}
}

// Principal is the resolved, rate-limit-checked credential for one request.
type Principal struct {
	Credential store.Credential
	Scope      scope.Filter
}

// Resolve looks up rawKey, checks lifecycle/expiry, applies the rate limit,
// and records usage. It is the single entry point external-API middleware
// calls before any handler runs.
func (r *Resolver) Resolve(ctx context.Context, rawKey string) (*Principal, error) {
	if rawKey == "" {
		return nil, apierr.ErrInvalidAPIKey("missing api key")
	}

	var cred store.Credential
	if err := r.db.WithContext(ctx).Where("secret_digest = ?", Digest(rawKey)).First(&cred).Error; err != nil {
		return nil, apierr.ErrInvalidAPIKey("unknown api key")
	}

	if cred.LifecycleState != store.CredentialActive {
		return nil, apierr.ErrAPIKeyDisabled("api key is disabled")
	}
	if cred.ExpiresAt != nil && cred.ExpiresAt.Before(time.Now()) {
		return nil, apierr.ErrAPIKeyExpired("api key has expired")
	}

	if err := r.limiter.Allow(ctx, cred.ID, cred.RatePerMinute); err != nil {
		return nil, err
	}

	if err := r.recordUsage(ctx, cred.ID); err != nil {
		return nil, err
	}

	return &Principal{
		Credential: cred,
		Scope:      scope.New(cred.AllowedGroupIDs, cred.AllowedEmailIDs),
	}, nil
}

func (r *Resolver) recordUsage(ctx context.Context, credentialID uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&store.Credential{}).Where("id = ?", credentialID).
		Updates(map[string]interface{}{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": now,
		}).Error
}
