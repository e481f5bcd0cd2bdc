package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotFetcher_CoalescesConcurrentCalls(t *testing.T) {
	f := NewSnapshotFetcher()
	var calls int32

	fetch := func(context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "gex-snapshot", nil
	}

	var wg sync.WaitGroup
	results := make([]interface{}, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, err := f.Fetch(context.Background(), "SPY", fetch)
			require.NoError(t, err)
			results[idx] = v
		}(i)
	}
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, "gex-snapshot", v)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(10))
}

func TestSnapshotFetcher_DistinctKeysNotCoalesced(t *testing.T) {
	f := NewSnapshotFetcher()
	var calls int32

	fetch := func(context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}

	_, err := f.Fetch(context.Background(), "SPY", fetch)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), "QQQ", fetch)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls)
}
