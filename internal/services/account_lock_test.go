package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLocker(t *testing.T) (*RedisAccountLocker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger, _ := test.NewNullLogger()
	locker := NewRedisAccountLocker(client, LockOptions{
		Expiry:     5 * time.Second,
		Tries:      1000,
		RetryDelay: 2 * time.Millisecond,
	}, logger)
	return locker, mr
}

// assertNoLostUpdates runs a read-sleep-write cycle on a shared balance from
// many goroutines; any overlap inside the lock loses an increment.
func assertNoLostUpdates(t *testing.T, locker AccountLocker, workers int) {
	t.Helper()

	var (
		balance int64
		active  int32
		overlap int32
		wg      sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), "2031500042", func(ctx context.Context) error {
				if atomic.AddInt32(&active, 1) > 1 {
					atomic.StoreInt32(&overlap, 1)
				}
				defer atomic.AddInt32(&active, -1)

				read := atomic.LoadInt64(&balance)
				time.Sleep(time.Millisecond)
				atomic.StoreInt64(&balance, read+1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(workers), atomic.LoadInt64(&balance))
	assert.Zero(t, atomic.LoadInt32(&overlap), "critical sections overlapped")
}

func TestLocalAccountLocker_Serializes(t *testing.T) {
	assertNoLostUpdates(t, NewLocalAccountLocker(), 50)
}

func TestLocalAccountLocker_ReleasesEntries(t *testing.T) {
	locker := NewLocalAccountLocker()

	require.NoError(t, locker.WithLock(context.Background(), "2031500042", func(context.Context) error { return nil }))
	assert.Empty(t, locker.slots)
}

func TestLocalAccountLocker_DistinctAccountsDoNotBlock(t *testing.T) {
	locker := NewLocalAccountLocker()
	inner := make(chan struct{})

	err := locker.WithLock(context.Background(), "2031500001", func(context.Context) error {
		go func() {
			_ = locker.WithLock(context.Background(), "2031500002", func(context.Context) error {
				close(inner)
				return nil
			})
		}()
		select {
		case <-inner:
			return nil
		case <-time.After(time.Second):
			t.Error("lock on a different account was blocked")
			return nil
		}
	})
	assert.NoError(t, err)
}

func TestLocalAccountLocker_Errors(t *testing.T) {
	locker := NewLocalAccountLocker()

	assert.ErrorIs(t, locker.WithLock(context.Background(), "  ", func(context.Context) error { return nil }), ErrEmptyLockKey)

	err := locker.WithLock(context.Background(), "2031500042", func(context.Context) error { return assert.AnError })
	assert.Equal(t, assert.AnError, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err = locker.WithLock(ctx, "2031500042", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestLocalAccountLocker_WaiterHonoursContext(t *testing.T) {
	locker := NewLocalAccountLocker()
	held := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = locker.WithLock(context.Background(), "2031500042", func(context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := locker.WithLock(ctx, "2031500042", func(context.Context) error {
		t.Error("waiter entered while the lock was held")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	close(done)
	require.Eventually(t, func() bool {
		return locker.WithLock(context.Background(), "2031500042", func(context.Context) error { return nil }) == nil
	}, time.Second, 10*time.Millisecond)

	locker.mu.Lock()
	defer locker.mu.Unlock()
	assert.Empty(t, locker.slots)
}

func TestRedisAccountLocker_Serializes(t *testing.T) {
	locker, _ := newTestRedisLocker(t)
	assertNoLostUpdates(t, locker, 20)
}

func TestRedisAccountLocker_ReleasesKey(t *testing.T) {
	locker, mr := newTestRedisLocker(t)

	err := locker.WithLock(context.Background(), "2031500042", func(context.Context) error {
		assert.True(t, mr.Exists(accountLockKey("2031500042")))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(accountLockKey("2031500042")))
}

func TestRedisAccountLocker_Errors(t *testing.T) {
	locker, _ := newTestRedisLocker(t)

	assert.ErrorIs(t, locker.WithLock(context.Background(), "", func(context.Context) error { return nil }), ErrEmptyLockKey)

	err := locker.WithLock(context.Background(), "2031500042", func(context.Context) error { return assert.AnError })
	assert.Equal(t, assert.AnError, err)
}

func TestRedisAccountLocker_HeldElsewhere(t *testing.T) {
	locker, mr := newTestRedisLocker(t)
	locker.opts.Tries = 2

	require.NoError(t, mr.Set(accountLockKey("2031500042"), "other-instance"))

	called := false
	err := locker.WithLock(context.Background(), "2031500042", func(context.Context) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to acquire lock lock:account:2031500042")
	assert.False(t, called)
}
