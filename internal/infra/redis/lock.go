package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	rsgoredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredis "github.com/redis/go-redis/v9"
)

const defaultLockExpiry = 30 * time.Second

// Locker hands out cross-instance mutexes for periodic jobs.
type Locker struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

func NewLocker(client *goredis.Client, expiry time.Duration) (*Locker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if expiry <= 0 {
		expiry = defaultLockExpiry
	}
	return &Locker{
		rs:     redsync.New(rsgoredis.NewPool(client)),
		expiry: expiry,
	}, nil
}

// TryLock makes one attempt at name. When another holder owns it, acquired is false and err is nil.
func (l *Locker) TryLock(ctx context.Context, name string) (unlock func(context.Context) error, acquired bool, err error) {
	if l == nil || l.rs == nil {
		return nil, false, fmt.Errorf("locker is not initialized")
	}

	mutex := l.rs.NewMutex(
		fmt.Sprintf("%s:lock:%s", KeyPrefix, name),
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if isLockContention(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}

	return func(ctx context.Context) error {
		ok, err := mutex.UnlockContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", name, err)
		}
		if !ok {
			return fmt.Errorf("lock %s expired before release", name)
		}
		return nil
	}, true, nil
}

func isLockContention(err error) bool {
	var taken *redsync.ErrTaken
	if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}
