package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahuti/autoreply/internal/cache"
	"github.com/sahuti/autoreply/internal/service"
	"github.com/sahuti/autoreply/internal/store"
	"github.com/sahuti/autoreply/pkg/logger"
)

type countingCleaner struct {
	calls atomic.Int32
	err   error
}

func (c *countingCleaner) CleanupExpired(context.Context) (int64, error) {
	c.calls.Add(1)
	return 0, c.err
}

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(clockwork.NewRealClock(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func TestPauseCleanupRunsOnStart(t *testing.T) {
	s := newScheduler(t)
	cleaner := &countingCleaner{}

	require.NoError(t, s.AddPauseCleanup(time.Hour, cleaner))
	s.Start()

	require.Eventually(t, func() bool { return cleaner.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPauseCleanupSurvivesErrors(t *testing.T) {
	s := newScheduler(t)
	cleaner := &countingCleaner{err: errors.New("database is locked")}

	require.NoError(t, s.AddPauseCleanup(20*time.Millisecond, cleaner))
	s.Start()

	require.Eventually(t, func() bool { return cleaner.calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestPauseCleanupRejectsBadInterval(t *testing.T) {
	s := newScheduler(t)
	assert.Error(t, s.AddPauseCleanup(0, &countingCleaner{}))
}

func TestPauseCleanupRemovesExpiredRows(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	st, err := store.Open(":memory:", store.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.UpsertPause(ctx, "60111111111", clock.Now().Add(-time.Minute)))
	require.NoError(t, st.UpsertPause(ctx, "60122222222", clock.Now().Add(time.Hour)))

	pauses := service.NewPauseStore(st, clock, time.Hour, logger.Nop())
	s := newScheduler(t)
	require.NoError(t, s.AddPauseCleanup(time.Hour, pauses))
	s.Start()

	require.Eventually(t, func() bool {
		p, err := st.GetPause(ctx, "60111111111")
		return err == nil && p == nil
	}, 2*time.Second, 10*time.Millisecond)

	p, err := st.GetPause(ctx, "60122222222")
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestCacheSweepRemovesExpiredKeys(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	claims := cache.NewMemory(clock)
	for _, phone := range []string{"60111111111", "60122222222", "60133333333"} {
		require.NoError(t, claims.Set(ctx, "auto_reply_cooldown:"+phone, 5*time.Second))
	}
	clock.Advance(time.Hour)

	s := newScheduler(t)
	require.NoError(t, s.AddCacheSweep(time.Hour, claims))
	s.Start()

	require.Eventually(t, func() bool { return claims.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Error(t, s.AddCacheSweep(-time.Second, claims))
}
