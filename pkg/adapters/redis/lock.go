package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/relay/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// ErrLockAcquire is returned when the lock cannot be acquired.
var ErrLockAcquire = errors.New("failed to acquire distributed lock")

// RetryInterval is the pause between two attempts to take a held lock.
const RetryInterval = 50 * time.Millisecond

// Deletes the lock only if it still holds our token.
var unlockScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Extends the lock only if it still holds our token.
var renewScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Locker implements ports.DistributedLocker using Redis.
type Locker struct {
	client     *backend.Client
	prefix     string
	renewEvery time.Duration
}

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithRenewInterval sets how often a held lock is extended.
// By default a lock is renewed every third of its ttl.
func WithRenewInterval(d time.Duration) LockerOption {
	return func(l *Locker) {
		l.renewEvery = d
	}
}

// NewLocker creates a new Redis locker.
func NewLocker(client *backend.Client, prefix string, opts ...LockerOption) *Locker {
	l := &Locker{
		client: client,
		prefix: prefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock acquires a distributed lock for the given key using Redis SET NX PX.
// The lock value is a random token so only the holder can renew or release it.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (context.Context, ports.UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	ticker := time.NewTicker(RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrLockAcquire, err)
		}
		if ok {
			held, stop := l.keepAlive(ctx, lockKey, token, ttl)
			return held, func(ctx context.Context) error {
				stop()
				return unlockScript.Run(ctx, l.client, []string{lockKey}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("%w: %w", ErrLockAcquire, ctx.Err())
		case <-ticker.C:
		}
	}
}

// keepAlive renews the lock until stop is called. The held context is canceled
// with ports.ErrLockLost when the token is gone or no renewal succeeded for a
// whole ttl.
func (l *Locker) keepAlive(ctx context.Context, lockKey, token string, ttl time.Duration) (context.Context, func()) {
	held, cancel := context.WithCancelCause(ctx)

	every := l.renewEvery
	if every <= 0 {
		every = ttl / 3
	}
	if every <= 0 {
		every = time.Millisecond
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		renewed := time.Now()
		for {
			select {
			case <-done:
				return
			case <-held.Done():
				return
			case <-ticker.C:
			}

			n, err := renewScript.Run(held, l.client, []string{lockKey}, token, ttl.Milliseconds()).Int64()
			switch {
			case err == nil && n == 1:
				renewed = time.Now()
			case err == nil:
				cancel(fmt.Errorf("%w: %s is held by another owner", ports.ErrLockLost, lockKey))
				return
			case time.Since(renewed) >= ttl:
				cancel(fmt.Errorf("%w: %w", ports.ErrLockLost, err))
				return
			}
		}
	}()

	var once sync.Once
	return held, func() {
		once.Do(func() {
			close(done)
			<-stopped
			cancel(nil)
		})
	}
}
