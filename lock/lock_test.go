package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/booking-engine/generic"
	"github.com/warp/booking-engine/lock"
)

// =============================================================================
// LOCAL
// =============================================================================

func TestLocal_SerializesSameKey(t *testing.T) {
	// GIVEN: 20 goroutines competing for one key
	// WHEN: Each holds the lock while bumping a counter
	// THEN: Never more than one holder at a time

	l := lock.NewLocal()
	ctx := context.Background()

	var holders, maxHolders int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, "slot:dr-a:2025-03-10")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&holders, 1)
			for {
				m := atomic.LoadInt32(&maxHolders)
				if n <= m || atomic.CompareAndSwapInt32(&maxHolders, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&holders, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxHolders)
}

func TestLocal_DifferentKeysDoNotBlock(t *testing.T) {
	l := lock.NewLocal()
	ctx := context.Background()

	releaseA, err := l.Acquire(ctx, "slot:dr-a:2025-03-10")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	releaseB, err := l.Acquire(ctx, "slot:dr-b:2025-03-10")
	require.NoError(t, err)
	releaseB()
}

func TestLocal_ContextCancelled_Timeout(t *testing.T) {
	l := lock.NewLocal()

	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k")

	assert.ErrorIs(t, err, lock.ErrTimeout)
	assert.True(t, generic.IsConflict(err))
}

func TestLocal_ReleaseIsIdempotent(t *testing.T) {
	l := lock.NewLocal()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k")
	require.NoError(t, err)
	release()
	release()

	release2, err := l.Acquire(ctx, "k")
	require.NoError(t, err)
	release2()
}

// =============================================================================
// REDIS
// =============================================================================

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedis_AcquireAndRelease(t *testing.T) {
	mr, client := newTestRedis(t)
	l := lock.NewRedis(client, lock.WithPrefix("test:"))
	ctx := context.Background()

	release, err := l.Acquire(ctx, "slot:dr-a:2025-03-10")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:slot:dr-a:2025-03-10"))

	release()
	assert.False(t, mr.Exists("test:slot:dr-a:2025-03-10"))
}

func TestRedis_HeldKey_Timeout(t *testing.T) {
	_, client := newTestRedis(t)
	l := lock.NewRedis(client, lock.WithWait(50*time.Millisecond))
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k")
	require.NoError(t, err)
	defer release()

	_, err = l.Acquire(ctx, "k")
	assert.ErrorIs(t, err, lock.ErrTimeout)
}

func TestRedis_ExpiredHolder_DoesNotDeleteNewOwner(t *testing.T) {
	// GIVEN: A holder whose lock expired and was taken by someone else
	// WHEN: The first holder releases late
	// THEN: The new owner's key survives

	mr, client := newTestRedis(t)
	l := lock.NewRedis(client, lock.WithTTL(time.Second), lock.WithPrefix("test:"))
	ctx := context.Background()

	releaseOld, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	releaseNew, err := l.Acquire(ctx, "k")
	require.NoError(t, err)
	defer releaseNew()

	releaseOld()
	assert.True(t, mr.Exists("test:k"))
}

func TestRedis_RenewsWhileHeld(t *testing.T) {
	// GIVEN: A 150ms lock held past two thirds of its TTL
	// WHEN: The holder keeps working
	// THEN: The expiry is pushed out and the key outlives the original TTL

	mr, client := newTestRedis(t)
	l := lock.NewRedis(client, lock.WithTTL(150*time.Millisecond), lock.WithPrefix("test:"))

	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)

	mr.FastForward(100 * time.Millisecond)
	require.Eventually(t, func() bool {
		return mr.TTL("test:k") > 100*time.Millisecond
	}, time.Second, 5*time.Millisecond)

	mr.FastForward(100 * time.Millisecond)
	assert.True(t, mr.Exists("test:k"))

	release()
	assert.False(t, mr.Exists("test:k"))
}
