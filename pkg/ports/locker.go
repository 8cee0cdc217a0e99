package ports

import (
	"context"
	"errors"
	"time"
)

// ErrLockLost is the cancellation cause of a held context whose lock could not be renewed.
var ErrLockLost = errors.New("distributed lock lost")

// UnlockFunc is a function that releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker defines the interface for distributed concurrency control.
// It lets several relay instances serialize executions against the same session.
type DistributedLocker interface {
	// Lock acquires a lock for the given session key, blocking until it is held
	// or ctx is done. The lock is kept alive until unlocked and expires after ttl
	// if its holder dies.
	//
	// The returned context is derived from ctx and is canceled with cause
	// ErrLockLost once the lock can no longer be guaranteed.
	Lock(ctx context.Context, key string, ttl time.Duration) (context.Context, UnlockFunc, error)
}
