package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"mailgateway/internal/apierr"
	"mailgateway/internal/sharedstore"
)

func TestAllow_UnderLimit(t *testing.T) {
	l := New(sharedstore.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, 1, 2))
	require.NoError(t, l.Allow(ctx, 1, 2))
}

func TestAllow_TripsAtLimit(t *testing.T) {
	l := New(sharedstore.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, 1, 2))
	require.NoError(t, l.Allow(ctx, 1, 2))

	err := l.Allow(ctx, 1, 2)
	require.Error(t, err)
	require.Equal(t, apierr.CodeRateLimitExceeded, apierr.As(err).Code)
}

func TestAllow_IndependentPerCredential(t *testing.T) {
	l := New(sharedstore.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, 1, 1))
	require.NoError(t, l.Allow(ctx, 2, 1))
}
