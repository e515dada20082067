package bulkdelete

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun_AllSucceed(t *testing.T) {
	ids := make([]string, 25)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
	}

	var maxInFlight int32
	var inFlight int32
	del := func(ctx context.Context, id string) error {
		cur := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if cur <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, cur) {
				break
			}
		}
		return nil
	}

	result := Run(context.Background(), ids, del, nil)
	require.Equal(t, 25, result.DeletedCount)
	require.Equal(t, 0, result.FailedCount)
	require.LessOrEqual(t, int(atomic.LoadInt32(&maxInFlight)), 10)
}

func TestRun_PartialFailureDoesNotAbortBatch(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	del := func(ctx context.Context, id string) error {
		if id == "b" || id == "d" {
			return fmt.Errorf("boom")
		}
		return nil
	}

	result := Run(context.Background(), ids, del, nil)
	require.Equal(t, 2, result.DeletedCount)
	require.Equal(t, 2, result.FailedCount)
}

func TestRun_ReportsProgress(t *testing.T) {
	ids := []string{"a", "b", "c"}
	var mu sync.Mutex
	var calls []int
	onProgress := func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, done)
		require.Equal(t, 3, total)
	}

	Run(context.Background(), ids, func(ctx context.Context, id string) error { return nil }, onProgress)
	require.Len(t, calls, 3)
}

func TestRun_EmptyInput(t *testing.T) {
	result := Run(context.Background(), nil, func(ctx context.Context, id string) error { return nil }, nil)
	require.Equal(t, Result{}, result)
}
