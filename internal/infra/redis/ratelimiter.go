package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	"github.com/kursadbilgin/otp-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec = 100
	throttleWindow     = time.Second
	minThrottleSleep   = time.Millisecond
)

// takeSlotScript counts a call in the current window and reports whether it
// fits under ARGV[1]. The key outlives its window by one period.
var takeSlotScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter shares fixed one-second provider budgets across every
// process talking to the same Redis.
type RedisRateLimiter struct {
	client goredis.Cmdable
	limits ratelimit.Limits
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client goredis.Cmdable, limits ratelimit.Limits) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limits.Default <= 0 {
		limits.Default = defaultLimitPerSec
	}

	return &RedisRateLimiter{
		client: client,
		limits: limits,
		now:    time.Now,
		sleep:  sleepWithContext,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, notificationType domain.NotificationType) (bool, error) {
	allowed, _, err := r.take(ctx, notificationType)
	return allowed, err
}

// Wait blocks until a slot frees up for notificationType. A rejected call
// sleeps until the current window closes.
func (r *RedisRateLimiter) Wait(ctx context.Context, notificationType domain.NotificationType) error {
	for {
		allowed, retryIn, err := r.take(ctx, notificationType)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		if err := r.sleep(ctx, retryIn); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) take(ctx context.Context, notificationType domain.NotificationType) (bool, time.Duration, error) {
	if r == nil || r.client == nil {
		return false, 0, fmt.Errorf("rate limiter is not initialized")
	}
	if !notificationType.IsValid() {
		return false, 0, fmt.Errorf("%w: invalid notification type %q", domain.ErrValidation, notificationType)
	}

	now := r.now().UTC()
	windowStart := now.Truncate(throttleWindow)
	key := fmt.Sprintf("otp-dispatch:throttle:%s:%d", notificationType, windowStart.Unix())

	result, err := takeSlotScript.Run(ctx, r.client, []string{key},
		r.limits.For(notificationType),
		(2 * throttleWindow).Milliseconds(),
	).Int()
	if err != nil {
		return false, 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	if result == 1 {
		return true, 0, nil
	}

	return false, max(windowStart.Add(throttleWindow).Sub(now), minThrottleSleep), nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
