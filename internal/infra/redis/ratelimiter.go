package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultSendsPerSec int64 = 100
	rateWindow               = time.Second
	minRetryAfter            = time.Millisecond
)

// countScript increments the window counter and returns the new count. The key
// outlives its window by one more window.
var countScript = goredis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps provider sends per tenant in fixed one-second windows
// shared by every instance. A busy tenant only ever waits on its own window.
type RedisRateLimiter struct {
	client  *goredis.Client
	perSec  int64
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	counter *goredis.Script
}

func NewRedisRateLimiter(client *goredis.Client, sendsPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(sendsPerSec), time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	sendsPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if sendsPerSec <= 0 {
		sendsPerSec = defaultSendsPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:  client,
		perSec:  sendsPerSec,
		now:     nowFn,
		sleep:   sleepFn,
		counter: countScript,
	}, nil
}

// Allow takes one slot in the tenant's current window if one is free.
func (r *RedisRateLimiter) Allow(ctx context.Context, tenantID string) (bool, error) {
	retryAfter, err := r.take(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return retryAfter == 0, nil
}

// Wait blocks until the tenant has a free slot or ctx ends. It sleeps until the
// current window closes rather than polling.
func (r *RedisRateLimiter) Wait(ctx context.Context, tenantID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		retryAfter, err := r.take(ctx, tenantID)
		if err != nil {
			return err
		}
		if retryAfter == 0 {
			return nil
		}
		if err := r.sleep(ctx, retryAfter); err != nil {
			return err
		}
	}
}

// take returns zero when the send may proceed, otherwise the time left in the
// current window.
func (r *RedisRateLimiter) take(ctx context.Context, tenantID string) (time.Duration, error) {
	if r == nil || r.client == nil || r.counter == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}

	tenant := strings.TrimSpace(tenantID)
	if tenant == "" {
		return 0, fmt.Errorf("tenant id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := r.now().UTC()
	window := now.Truncate(rateWindow)
	key := fmt.Sprintf("%s:ratelimit:%s:%d", KeyPrefix, tenant, window.Unix())

	count, err := r.counter.Run(ctx, r.client, []string{key}, (2 * rateWindow).Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	if count <= r.perSec {
		return 0, nil
	}

	retryAfter := window.Add(rateWindow).Sub(now)
	if retryAfter < minRetryAfter {
		retryAfter = minRetryAfter
	}
	return retryAfter, nil
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
