package sharedstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return NewRedisStore(mr.Addr(), "", 0), mr
}

func TestRedisStore_PingSucceedsAgainstLiveServer(t *testing.T) {
	store, _ := newTestRedisStore(t)
	require.NoError(t, store.Ping(context.Background()))
}

func TestRedisStore_IncrAccumulatesAndExpires(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	n, err := store.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = store.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	mr.FastForward(2 * time.Minute)

	_, ok, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStore_SetGetDelRoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "token:abc", "cached-value", time.Minute))

	val, ok, err := store.Get(ctx, "token:abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "cached-value", val)

	require.NoError(t, store.Del(ctx, "token:abc"))

	_, ok, err = store.Get(ctx, "token:abc")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStore_GetMissingKeyReturnsNotOK(t *testing.T) {
	store, _ := newTestRedisStore(t)

	_, ok, err := store.Get(context.Background(), "never-set")
	require.NoError(t, err)
	require.False(t, ok)
}
