package credential

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mailgateway/internal/ratelimit"
	"mailgateway/internal/sharedstore"
	"mailgateway/internal/store"
)

func TestExtract_PrefersXAPIKeyHeader(t *testing.T) {
	require.Equal(t, "k1", Extract("k1", "Bearer sk_other", "q"))
}

func TestExtract_FallsBackToBearerSkPrefix(t *testing.T) {
	require.Equal(t, "sk_abc", Extract("", "Bearer sk_abc", "q"))
}

func TestExtract_IgnoresNonSkBearerToken(t *testing.T) {
	require.Equal(t, "q", Extract("", "Bearer admin-jwt", "q"))
}

func TestExtract_FallsBackToQueryParam(t *testing.T) {
	require.Equal(t, "q", Extract("", "", "q"))
}

func TestDigest_IsDeterministic(t *testing.T) {
	require.Equal(t, Digest("sk_abc"), Digest("sk_abc"))
	require.NotEqual(t, Digest("sk_abc"), Digest("sk_def"))
}

func TestGenerateSecret_HasPrefixAndIsUnique(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(a, "sk_"))

	b, err := GenerateSecret()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func setupResolver(t *testing.T) (*Resolver, store.Credential) {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)

	cred := store.Credential{
		DisplayName:    "test",
		Prefix:         "sk_abc",
		SecretDigest:   Digest("sk_abc123"),
		RatePerMinute:  60,
		LifecycleState: store.CredentialActive,
	}
	require.NoError(t, db.Create(&cred).Error)

	limiter := ratelimit.New(sharedstore.NewMemoryStore())
	return New(db, limiter), cred
}

func TestResolve_ValidKeySucceeds(t *testing.T) {
	r, cred := setupResolver(t)
	p, err := r.Resolve(context.Background(), "sk_abc123")
	require.NoError(t, err)
	require.Equal(t, cred.ID, p.Credential.ID)
}

func TestResolve_UnknownKeyIsInvalid(t *testing.T) {
	r, _ := setupResolver(t)
	_, err := r.Resolve(context.Background(), "sk_wrong")
	require.Error(t, err)
}

func TestResolve_DisabledCredentialRejected(t *testing.T) {
	r, cred := setupResolver(t)
	require.NoError(t, r.db.Model(&store.Credential{}).Where("id = ?", cred.ID).
		Update("lifecycle_state", store.CredentialDisabled).Error)

	_, err := r.Resolve(context.Background(), "sk_abc123")
	require.Error(t, err)
}

func TestResolve_ExpiredCredentialRejected(t *testing.T) {
	r, cred := setupResolver(t)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, r.db.Model(&store.Credential{}).Where("id = ?", cred.ID).
		Update("expires_at", past).Error)

	_, err := r.Resolve(context.Background(), "sk_abc123")
	require.Error(t, err)
}

func TestResolve_RecordsUsage(t *testing.T) {
	r, cred := setupResolver(t)
	_, err := r.Resolve(context.Background(), "sk_abc123")
	require.NoError(t, err)

	var updated store.Credential
	require.NoError(t, r.db.First(&updated, cred.ID).Error)
	require.EqualValues(t, 1, updated.UsageCount)
	require.NotNil(t, updated.LastUsedAt)
}
