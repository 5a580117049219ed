package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// MemoStore holds memoized lookups for one serving host.
type MemoStore struct {
	client    *goredis.Client
	namespace string
}

func NewMemoStore(client *goredis.Client, namespace string) (*MemoStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, fmt.Errorf("memo namespace is required")
	}
	return &MemoStore{client: client, namespace: namespace}, nil
}

func (s *MemoStore) key(k string) string {
	return fmt.Sprintf("%s:memo:%s:%s", KeyPrefix, s.namespace, k)
}

// Get returns the cached bytes for k; a miss is (nil, false, nil).
func (s *MemoStore) Get(ctx context.Context, k string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.key(k)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memo get: %w", err)
	}
	return val, true, nil
}

func (s *MemoStore) Set(ctx context.Context, k string, val []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(k), val, ttl).Err(); err != nil {
		return fmt.Errorf("memo set: %w", err)
	}
	return nil
}

func (s *MemoStore) Delete(ctx context.Context, k string) error {
	if err := s.client.Del(ctx, s.key(k)).Err(); err != nil {
		return fmt.Errorf("memo delete: %w", err)
	}
	return nil
}
