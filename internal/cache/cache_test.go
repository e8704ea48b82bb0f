package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_MissThenHit(t *testing.T) {
	c := New(10, nil)
	var calls int32

	loader := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "value", nil
	}

	v, err := c.Get(context.Background(), "k", time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	v, err = c.Get(context.Background(), "k", time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second call must be served from cache, not the loader")
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	c := New(10, nil)
	var calls int32
	loader := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return atomic.LoadInt32(&calls), nil
	}

	_, err := c.Get(context.Background(), "k", time.Millisecond, loader)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	v, err := c.Get(context.Background(), "k", time.Millisecond, loader)
	require.NoError(t, err)
	assert.Equal(t, int32(2), v, "an expired entry must re-invoke the loader")
}

func TestCache_LoaderFailureNotCached(t *testing.T) {
	c := New(10, nil)
	var calls int32
	loader := func(ctx context.Context) (interface{}, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return nil, assert.AnError
		}
		return "recovered", nil
	}

	_, err := c.Get(context.Background(), "k", time.Minute, loader)
	assert.Error(t, err)

	v, err := c.Get(context.Background(), "k", time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "a failed load must not be cached")
}

func TestCache_ConcurrentMissesCoalesce(t *testing.T) {
	c := New(10, nil)
	var calls int32
	start := make(chan struct{})

	loader := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return "value", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := c.Get(context.Background(), "shared", time.Minute, loader)
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "concurrent misses for the same key must coalesce into one loader call")
}

func TestCache_EvictsLeastRecentlyUsedBeyondBound(t *testing.T) {
	c := New(2, nil)
	loader := func(v interface{}) Loader {
		return func(ctx context.Context) (interface{}, error) { return v, nil }
	}

	_, _ = c.Get(context.Background(), "a", time.Minute, loader("a"))
	_, _ = c.Get(context.Background(), "b", time.Minute, loader("b"))
	// touch "a" so "b" becomes the least recently used
	_, _ = c.Get(context.Background(), "a", time.Minute, loader("a"))
	_, _ = c.Get(context.Background(), "c", time.Minute, loader("c"))

	stats := c.Stats()
	assert.Equal(t, 2, stats.Entries)

	var missAfterB int32
	_, _ = c.Get(context.Background(), "b", time.Minute, func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&missAfterB, 1)
		return "b", nil
	})
	assert.Equal(t, int32(1), missAfterB, "'b' should have been evicted as least recently used")
}

func TestCache_Purge(t *testing.T) {
	c := New(10, nil)
	_, _ = c.Get(context.Background(), "k", time.Minute, func(ctx context.Context) (interface{}, error) {
		return "v", nil
	})
	require.Equal(t, 1, c.Stats().Entries)

	c.Purge()
	assert.Equal(t, 0, c.Stats().Entries)
}
