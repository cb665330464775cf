package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/otp-dispatch/internal/lock"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLockWait  = 2 * time.Second
	lockPollInterval = 25 * time.Millisecond
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ lock.Locker = (*KeyLocker)(nil)

// KeyLocker implements lock.Locker with SET NX PX leases.
type KeyLocker struct {
	client  goredis.Cmdable
	maxWait time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	token   func() string
}

func NewKeyLocker(client goredis.Cmdable, maxWait time.Duration) (*KeyLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if maxWait <= 0 {
		maxWait = defaultLockWait
	}

	return &KeyLocker{
		client:  client,
		maxWait: maxWait,
		sleep:   sleepWithContext,
		token:   uuid.NewString,
	}, nil
}

// Acquire polls until the key is free, maxWait elapses, or ctx is done.
func (l *KeyLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.ReleaseFunc, error) {
	if key == "" {
		return nil, fmt.Errorf("lock key is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive")
	}

	lockKey := "lock:" + key
	token := l.token()
	deadline := time.Now().Add(l.maxWait)

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%w: %s: %w", lock.ErrNotAcquired, key, ctxErr)
			}
			return nil, fmt.Errorf("failed to acquire lock %q: %w", key, err)
		}
		if ok {
			return l.releaser(lockKey, token), nil
		}

		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", lock.ErrNotAcquired, key)
		}
		if err := l.sleep(ctx, lockPollInterval); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s: %w", lock.ErrNotAcquired, key, err)
			}
			return nil, err
		}
	}
}

func (l *KeyLocker) releaser(lockKey, token string) lock.ReleaseFunc {
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lock: %w", err)
		}
		return nil
	}
}
