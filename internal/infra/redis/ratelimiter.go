package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notifier-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 100
	window                   = time.Second
	keyPrefix                = "notifier:ratelimit"
)

// takeScript counts one send in the recipient's current window. It returns
// the window count so callers can tell how far over the limit they are.
var takeScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps sends per recipient per second across every worker
// process. Windows are aligned to wall-clock seconds.
type RedisRateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(limitPerSec), time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}
	return &RedisRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, recipientID string) (bool, error) {
	delay, err := r.take(ctx, recipientID)
	if err != nil {
		return false, err
	}
	return delay == 0, nil
}

// Wait blocks until the recipient has room in a window. Rejected callers sleep
// until the next window opens instead of polling.
func (r *RedisRateLimiter) Wait(ctx context.Context, recipientID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		delay, err := r.take(ctx, recipientID)
		if err != nil {
			return err
		}
		if delay == 0 {
			return nil
		}
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// take records an attempt and returns zero when it fits in the current window,
// otherwise the time left until the window closes.
func (r *RedisRateLimiter) take(ctx context.Context, recipientID string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return 0, fmt.Errorf("recipient id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := r.now().UTC()
	start := now.Truncate(window)
	key := fmt.Sprintf("%s:%s:%d", keyPrefix, recipientID, start.Unix())

	count, err := takeScript.Run(ctx, r.client, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit for %s: %w", recipientID, err)
	}
	if count <= r.limitPerSec {
		return 0, nil
	}

	remaining := start.Add(window).Sub(now)
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	return remaining, nil
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
