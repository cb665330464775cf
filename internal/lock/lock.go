package lock

import (
	"context"
	"errors"
	"time"
)

var ErrNotAcquired = errors.New("lock not acquired")

// ReleaseFunc gives up a held lock. Releasing a lock whose lease already
// expired is not an error.
type ReleaseFunc func(ctx context.Context) error

// Locker grants exclusive leases on string keys across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}
