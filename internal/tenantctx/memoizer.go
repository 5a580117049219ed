package tenantctx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	infraredis "github.com/kursadbilgin/sms-dispatch/internal/infra/redis"
)

// Memoizer caches expensive lookups within one tenant context.
type Memoizer interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
	Forget(ctx context.Context, key string) error
}

// NoopMemoizer never stores anything; every lookup reaches the loader.
type NoopMemoizer struct{}

func (NoopMemoizer) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (NoopMemoizer) Set(context.Context, string, []byte) error         { return nil }
func (NoopMemoizer) Forget(context.Context, string) error              { return nil }

// RedisMemoizer shares memoized values across instances serving the same host.
type RedisMemoizer struct {
	store *infraredis.MemoStore
	ttl   time.Duration
}

func NewRedisMemoizer(store *infraredis.MemoStore, ttl time.Duration) (*RedisMemoizer, error) {
	if store == nil {
		return nil, fmt.Errorf("memo store is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisMemoizer{store: store, ttl: ttl}, nil
}

func (m *RedisMemoizer) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return m.store.Get(ctx, key)
}

func (m *RedisMemoizer) Set(ctx context.Context, key string, val []byte) error {
	return m.store.Set(ctx, key, val, m.ttl)
}

func (m *RedisMemoizer) Forget(ctx context.Context, key string) error {
	return m.store.Delete(ctx, key)
}

// Remember returns the memoized value for key, calling load and storing its result
// on a miss. Cache read and write failures degrade to calling load.
func Remember[T any](ctx context.Context, m Memoizer, key string, load func(context.Context) (T, error)) (T, error) {
	if m == nil {
		m = NoopMemoizer{}
	}

	if raw, ok, err := m.Get(ctx, key); err == nil && ok {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	val, err := load(ctx)
	if err != nil {
		return val, err
	}

	if raw, err := json.Marshal(val); err == nil {
		_ = m.Set(ctx, key, raw)
	}
	return val, nil
}
