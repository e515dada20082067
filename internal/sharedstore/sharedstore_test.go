package sharedstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_IncrStartsAtOneAndAccumulates(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	n, err := m.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = m.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestMemoryStore_IncrResetsAfterExpiry(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_, err := m.Incr(ctx, "counter", time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	n, err := m.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestMemoryStore_SetGetRoundTrips(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))

	val, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", val)
}

func TestMemoryStore_GetMissingKeyReturnsNotOK(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStore_GetExpiredKeyReturnsNotOK(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStore_Del(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, m.Del(ctx, "k"))

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}
