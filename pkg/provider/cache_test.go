package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartenergy/smartenergy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	ctx := context.Background()
	creds := map[string]any{"username": "user", "password": "secret"}

	t.Run("Hit And Miss", func(t *testing.T) {
		c := NewCache(time.Minute)
		var calls int
		connect := func(ctx context.Context) (Adapter, error) {
			calls++
			return &fakeAdapter{}, nil
		}

		a1, err := c.Get(ctx, types.VendorHuawei, connect, creds)
		require.NoError(t, err)
		a2, err := c.Get(ctx, types.VendorHuawei, connect, creds)
		require.NoError(t, err)
		assert.Same(t, a1, a2)
		assert.Equal(t, 1, calls)

		_, err = c.Get(ctx, types.VendorHuawei, connect, map[string]any{"username": "other", "password": "secret"})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)

		// same arguments for another vendor are a different entry
		_, err = c.Get(ctx, types.VendorGoodWe, connect, creds)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 3, c.Len())
	})

	t.Run("Expiry", func(t *testing.T) {
		c := NewCache(time.Minute)
		now := time.Now()
		c.now = func() time.Time { return now }
		var calls int
		connect := func(ctx context.Context) (Adapter, error) {
			calls++
			return &fakeAdapter{}, nil
		}

		_, err := c.Get(ctx, types.VendorHuawei, connect, creds)
		require.NoError(t, err)
		now = now.Add(2 * time.Minute)
		_, err = c.Get(ctx, types.VendorHuawei, connect, creds)
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("Expired Entries Dropped", func(t *testing.T) {
		c := NewCache(time.Minute)
		now := time.Now()
		c.now = func() time.Time { return now }
		connect := func(ctx context.Context) (Adapter, error) {
			return &fakeAdapter{}, nil
		}

		_, err := c.Get(ctx, types.VendorHuawei, connect, creds)
		require.NoError(t, err)
		now = now.Add(30 * time.Second)
		_, err = c.Get(ctx, types.VendorGoodWe, connect, creds)
		require.NoError(t, err)
		require.Equal(t, 2, c.Len())

		// only the huawei entry is past its deadline
		now = now.Add(45 * time.Second)
		_, err = c.Get(ctx, types.VendorFranklin, connect, creds)
		require.NoError(t, err)
		assert.Equal(t, 2, c.Len())

		now = now.Add(time.Minute)
		_, err = c.Get(ctx, types.VendorHuawei, connect, creds)
		require.NoError(t, err)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("Forget", func(t *testing.T) {
		c := NewCache(time.Minute)
		_, err := c.Get(ctx, types.VendorHuawei, func(ctx context.Context) (Adapter, error) {
			return &fakeAdapter{}, nil
		}, creds)
		require.NoError(t, err)
		require.Equal(t, 1, c.Len())

		c.Forget(types.VendorHuawei, creds)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("Failures Not Cached", func(t *testing.T) {
		c := NewCache(time.Minute)
		var calls int
		connect := func(ctx context.Context) (Adapter, error) {
			calls++
			return nil, authError(types.VendorHuawei, "invalid username or password")
		}

		_, err := c.Get(ctx, types.VendorHuawei, connect, creds)
		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, CodeAuthFailed, perr.Code)
		_, err = c.Get(ctx, types.VendorHuawei, connect, creds)
		require.Error(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("Concurrent Connects Shared", func(t *testing.T) {
		c := NewCache(time.Minute)
		var calls atomic.Int32
		release := make(chan struct{})
		connect := func(ctx context.Context) (Adapter, error) {
			calls.Add(1)
			<-release
			return &fakeAdapter{}, nil
		}

		var wg sync.WaitGroup
		results := make([]Adapter, 5)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				a, err := c.Get(ctx, types.VendorHuawei, connect, creds)
				assert.NoError(t, err)
				results[i] = a
			}()
		}
		// give every goroutine a chance to join the in-flight connect
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.LessOrEqual(t, calls.Load(), int32(2))
		for _, a := range results {
			assert.NotNil(t, a)
		}
	})

	t.Run("Unhashable Arguments", func(t *testing.T) {
		c := NewCache(time.Minute)
		_, err := c.Get(ctx, types.VendorHuawei, func(ctx context.Context) (Adapter, error) {
			return nil, errors.New("should not be called")
		}, map[string]any{"bad": make(chan int)})
		assert.ErrorContains(t, err, "failed to hash adapter arguments")
	})
}
