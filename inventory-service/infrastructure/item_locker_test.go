package infrastructure

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalItemLocker_MutualExclusion(t *testing.T) {
	locker := NewLocalItemLocker(8)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, 42)
			require.NoError(t, err)
			defer unlock()

			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestLocalItemLocker_IndependentShards(t *testing.T) {
	locker := NewLocalItemLocker(8)
	ctx := context.Background()

	unlockA, err := locker.Lock(ctx, 1)
	require.NoError(t, err)
	defer unlockA()

	lockCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := locker.Lock(lockCtx, 2)
	require.NoError(t, err)
	unlockB()
}

func TestLocalItemLocker_CancelWhileWaiting(t *testing.T) {
	locker := NewLocalItemLocker(4)

	unlock, err := locker.Lock(context.Background(), 7)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, 7)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	again, err := locker.Lock(context.Background(), 7)
	require.NoError(t, err, "double unlock must not free the shard twice")
	again()
}

func TestLocalItemLocker_NegativeIDs(t *testing.T) {
	locker := NewLocalItemLocker(0)
	assert.Len(t, locker.shards, DefaultLockShards)

	unlock, err := locker.Lock(context.Background(), -5)
	require.NoError(t, err)
	unlock()
}

func TestRedisItemLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	locker := newRedisItemLocker(client, RedisConfig{
		TTL:    5 * time.Second,
		Prefix: "test:item-lock:" + t.Name() + ":",
	}, zap.NewNop())

	ctx := context.Background()
	unlock, err := locker.Lock(ctx, 1)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()

	unlock, err = locker.Lock(ctx, 1)
	require.NoError(t, err)
	unlock()
}
