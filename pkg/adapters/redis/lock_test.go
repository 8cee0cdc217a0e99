package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/relay/pkg/adapters/redis"
	"github.com/aretw0/relay/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker_LockUnlock(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "test:lock:")
	ctx := context.Background()

	_, unlock, err := locker.Lock(ctx, "resource1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:lock:resource1"), "Lock key should be set in Redis")

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:lock:lock:resource1"), "Lock key should be removed after unlock")
}

func TestRedisLocker_Contention(t *testing.T) {
	mr, client := newClient(t)
	locker1 := redis.NewLocker(client, "test:lock:")
	locker2 := redis.NewLocker(client, "test:lock:")
	ctx := context.Background()
	key := "shared-resource"

	_, unlock1, err := locker1.Lock(ctx, key, 5*time.Second)
	require.NoError(t, err)

	ctxTimeout, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	_, _, err = locker2.Lock(ctxTimeout, key, 5*time.Second)
	assert.ErrorIs(t, err, redis.ErrLockAcquire)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock1(ctx))

	_, unlock2, err := locker2.Lock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	defer unlock2(ctx)

	assert.True(t, mr.Exists("test:lock:lock:shared-resource"))
}

func TestRedisLocker_StaleUnlockKeepsNewHolder(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "")
	ctx := context.Background()

	_, unlockOld, err := locker.Lock(ctx, "k", time.Second)
	require.NoError(t, err)

	// The first holder's lock expires and someone else takes it.
	mr.FastForward(2 * time.Second)
	_, unlockNew, err := locker.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)
	defer unlockNew(ctx)

	require.NoError(t, unlockOld(ctx))
	assert.True(t, mr.Exists("lock:k"), "a stale holder must not release someone else's lock")
}

func TestRedisLocker_RenewsWhileHeld(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "", redis.WithRenewInterval(10*time.Millisecond))
	ctx := context.Background()

	held, unlock, err := locker.Lock(ctx, "k", time.Second)
	require.NoError(t, err)
	defer unlock(ctx)

	// Most of the lease elapses; the watchdog must extend it again.
	mr.FastForward(900 * time.Millisecond)
	assert.Eventually(t, func() bool {
		return mr.TTL("lock:k") > 500*time.Millisecond
	}, time.Second, 5*time.Millisecond)
	assert.NoError(t, held.Err())
}

func TestRedisLocker_CancelsHeldContextWhenLost(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "", redis.WithRenewInterval(10*time.Millisecond))
	ctx := context.Background()

	held, unlock, err := locker.Lock(ctx, "k", time.Second)
	require.NoError(t, err)
	defer unlock(ctx)

	require.NoError(t, mr.Set("lock:k", "someone-else"))

	select {
	case <-held.Done():
	case <-time.After(time.Second):
		t.Fatal("held context was not canceled after the lock changed owner")
	}
	assert.ErrorIs(t, context.Cause(held), ports.ErrLockLost)
	assert.Equal(t, "someone-else", mustGet(t, mr, "lock:k"))
}

func TestRedisLocker_UnlockStopsRenewal(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "", redis.WithRenewInterval(10*time.Millisecond))
	ctx := context.Background()

	held, unlock, err := locker.Lock(ctx, "k", time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))

	assert.False(t, mr.Exists("lock:k"))
	assert.ErrorIs(t, held.Err(), context.Canceled)
	assert.NotErrorIs(t, context.Cause(held), ports.ErrLockLost)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
