package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := NewMemory(clock)

	ok, err := c.SetIfAbsent(ctx, "601111", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetIfAbsent(ctx, "601111", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(3 * time.Second)
	ttl, err := c.TTL(ctx, "601111")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, ttl)

	clock.Advance(2 * time.Second)
	has, err := c.Has(ctx, "601111")
	require.NoError(t, err)
	assert.False(t, has, "entries expire exactly at their deadline")

	ok, err = c.SetIfAbsent(ctx, "601111", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemorySetAndDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(clockwork.NewFakeClock())

	require.NoError(t, c.Set(ctx, "k", time.Minute))
	has, err := c.Has(ctx, "k")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, c.Delete(ctx, "k"))
	has, err = c.Has(ctx, "k")
	require.NoError(t, err)
	assert.False(t, has)

	ttl, err := c.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, ttl)
}

func TestMemorySetIfAbsentIsExclusive(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(clockwork.NewFakeClock())

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.SetIfAbsent(ctx, "601111", time.Minute)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemorySweepDropsKeysNeverReadAgain(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := NewMemory(clock)

	for i := 0; i < 10000; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("auto_reply_cooldown:60%09d", i), 5*time.Second))
	}
	require.NoError(t, c.Set(ctx, "long-lived", 48*time.Hour))
	clock.Advance(24 * time.Hour)

	n, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), n)
	assert.Equal(t, 1, c.Len())
}

func TestMemoryWritesSweepExpiredKeys(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := NewMemory(clock)

	for i := 0; i < 100; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), 5*time.Second))
	}

	clock.Advance(10 * time.Second)
	require.NoError(t, c.Set(ctx, "fresh", 5*time.Second))
	assert.Equal(t, 101, c.Len(), "no sweep before the interval elapses")

	clock.Advance(sweepInterval)
	ok, err := c.SetIfAbsent(ctx, "another", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())
}
