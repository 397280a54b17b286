package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smartenergy/smartenergy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(10 * time.Minute)
	m.now = func() time.Time { return now }
	defer m.Close()

	sess, err := m.Create(ctx, types.VendorHuawei)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, types.VendorHuawei, sess.Vendor)
	assert.Equal(t, now.Add(10*time.Minute), sess.ExpiresAt)
	assert.Empty(t, sess.Data)

	t.Run("Update", func(t *testing.T) {
		require.NoError(t, m.Update(ctx, sess.ID, types.WizardSessionUpdate{
			Data:     map[string]any{"credentials": map[string]any{"username": "u"}, "a": 1},
			LastStep: "auth",
			NextStep: "station",
		}))
		require.NoError(t, m.Update(ctx, sess.ID, types.WizardSessionUpdate{
			Data:     map[string]any{"a": 2, "station_code": "st"},
			LastStep: "station",
			NextStep: "device",
		}))

		got, err := m.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"credentials":  map[string]any{"username": "u"},
			"a":            2,
			"station_code": "st",
		}, got.Data)
		assert.Equal(t, "station", got.LastStep)
		assert.Equal(t, "device", got.NextStep)
	})

	t.Run("GetReturnsCopy", func(t *testing.T) {
		got, err := m.Get(ctx, sess.ID)
		require.NoError(t, err)
		got.Data["a"] = 99

		again, err := m.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, again.Data["a"])
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := m.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.ErrorIs(t, m.Update(ctx, "missing", types.WizardSessionUpdate{}), ErrSessionNotFound)
	})

	t.Run("Expired", func(t *testing.T) {
		other, err := m.Create(ctx, types.VendorGoodWe)
		require.NoError(t, err)

		now = now.Add(11 * time.Minute)
		_, err = m.Get(ctx, other.ID)
		assert.ErrorIs(t, err, ErrSessionExpired)
		// expired sessions are dropped on read
		_, err = m.Get(ctx, other.ID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("Destroy", func(t *testing.T) {
		fresh, err := m.Create(ctx, types.VendorFranklin)
		require.NoError(t, err)
		require.NoError(t, m.Destroy(ctx, fresh.ID))
		require.NoError(t, m.Destroy(ctx, fresh.ID))
		_, err = m.Get(ctx, fresh.ID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestMemoryPurgeExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := m.Create(ctx, types.VendorHuawei)
		require.NoError(t, err)
	}
	now = now.Add(2 * time.Minute)
	live, err := m.Create(ctx, types.VendorHuawei)
	require.NoError(t, err)

	n, err := m.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, m.Len())

	_, err = m.Get(ctx, live.ID)
	assert.NoError(t, err)
}

func TestMemorySweep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemory(time.Millisecond)
	_, err := m.Create(ctx, types.VendorHuawei)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		Sweep(ctx, m, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestMemoryConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	sess, err := m.Create(ctx, types.VendorHuawei)
	require.NoError(t, err)

	base := make(map[string]any, 5000)
	for i := range 5000 {
		base[fmt.Sprintf("base-%d", i)] = i
	}
	require.NoError(t, m.Update(ctx, sess.ID, types.WizardSessionUpdate{Data: base, NextStep: "station"}))

	const writers = 16
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := m.Update(ctx, sess.ID, types.WizardSessionUpdate{
				Data:     map[string]any{fmt.Sprintf("writer-%d", i): i},
				NextStep: "station",
			})
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	for i := range writers {
		assert.Equal(t, i, got.Data[fmt.Sprintf("writer-%d", i)], "writer-%d", i)
	}
	assert.Len(t, got.Data, 5000+writers)
}

func TestMemoryUpdateAfterDestroy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	sess, err := m.Create(ctx, types.VendorHuawei)
	require.NoError(t, err)

	require.NoError(t, m.Destroy(ctx, sess.ID))
	err = m.Update(ctx, sess.ID, types.WizardSessionUpdate{Data: map[string]any{"a": 1}, NextStep: "station"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, m.Len())
}
