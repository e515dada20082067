package lockout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mailgateway/internal/apierr"
	"mailgateway/internal/sharedstore"
)

func TestLockout_TripsAtThreshold(t *testing.T) {
	g := New(sharedstore.NewMemoryStore(), 3, 15*time.Minute)
	ctx := context.Background()

	require.NoError(t, g.CheckLocked(ctx, "alice", "1.2.3.4"))
	require.NoError(t, g.RecordFailure(ctx, "alice", "1.2.3.4"))
	require.NoError(t, g.CheckLocked(ctx, "alice", "1.2.3.4"))
	require.NoError(t, g.RecordFailure(ctx, "alice", "1.2.3.4"))
	require.NoError(t, g.CheckLocked(ctx, "alice", "1.2.3.4"))
	require.NoError(t, g.RecordFailure(ctx, "alice", "1.2.3.4"))

	err := g.CheckLocked(ctx, "alice", "1.2.3.4")
	require.Error(t, err)
	require.Equal(t, apierr.CodeAccountLocked, apierr.As(err).Code)
}

func TestLockout_SuccessClearsState(t *testing.T) {
	g := New(sharedstore.NewMemoryStore(), 3, 15*time.Minute)
	ctx := context.Background()

	require.NoError(t, g.RecordFailure(ctx, "bob", "9.9.9.9"))
	require.NoError(t, g.RecordFailure(ctx, "bob", "9.9.9.9"))
	require.NoError(t, g.ClearOnSuccess(ctx, "bob", "9.9.9.9"))

	require.NoError(t, g.RecordFailure(ctx, "bob", "9.9.9.9"))
	require.NoError(t, g.RecordFailure(ctx, "bob", "9.9.9.9"))
	require.NoError(t, g.CheckLocked(ctx, "bob", "9.9.9.9"))
}

func TestLockout_UsernameCaseInsensitive(t *testing.T) {
	g := New(sharedstore.NewMemoryStore(), 1, 15*time.Minute)
	ctx := context.Background()

	require.NoError(t, g.RecordFailure(ctx, "Alice", "1.1.1.1"))
	err := g.CheckLocked(ctx, "ALICE", "1.1.1.1")
	require.Error(t, err)
}

func TestLockout_MissingIPUsesUnknownBucket(t *testing.T) {
	g := New(sharedstore.NewMemoryStore(), 1, 15*time.Minute)
	ctx := context.Background()

	require.NoError(t, g.RecordFailure(ctx, "carol", ""))
	err := g.CheckLocked(ctx, "carol", "")
	require.Error(t, err)
}
