package tenantctx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const DefaultHostKey = "default"

// TenantContext is the per-host bundle of storage handles and memoizer. It is
// shared read-only by every request served under the same host.
type TenantContext struct {
	HostKey   string
	DB        *gorm.DB
	Messages  repository.MessageRepository
	Tenants   repository.TenantRepository
	Memo      Memoizer
	CreatedAt time.Time
}

func tenantConfigKey(tenantID domain.TenantID) string {
	return "tenant-config:" + tenantID.String()
}

// TenantConfig loads the tenant's provider settings through the memoizer. A tenant
// without a settings row gets an empty config that uses process defaults.
func (tc *TenantContext) TenantConfig(ctx context.Context, tenantID domain.TenantID) (domain.TenantConfig, error) {
	return Remember(ctx, tc.Memo, tenantConfigKey(tenantID), func(ctx context.Context) (domain.TenantConfig, error) {
		cfg, err := tc.Tenants.GetSettings(ctx, tenantID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TenantConfig{TenantID: tenantID}, nil
		}
		if err != nil {
			return domain.TenantConfig{}, fmt.Errorf("load tenant settings: %w", err)
		}
		return *cfg, nil
	})
}

// ForgetTenantConfig drops the memoized settings after they change.
func (tc *TenantContext) ForgetTenantConfig(ctx context.Context, tenantID domain.TenantID) error {
	return tc.Memo.Forget(ctx, tenantConfigKey(tenantID))
}

// Builder constructs the context for one host.
type Builder func(ctx context.Context, hostKey string) (*TenantContext, error)

// Cache builds each host's context once and keeps it for the process lifetime.
type Cache struct {
	build  Builder
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*TenantContext
	group   singleflight.Group
}

func NewCache(build Builder, logger *zap.Logger) (*Cache, error) {
	if build == nil {
		return nil, fmt.Errorf("context builder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Cache{
		build:   build,
		logger:  logger,
		entries: make(map[string]*TenantContext),
	}, nil
}

func NormalizeHostKey(hostKey string) string {
	normalized := strings.ToLower(strings.TrimSpace(hostKey))
	if normalized == "" {
		return DefaultHostKey
	}
	return normalized
}

// ContextFor returns the cached context for hostKey, building it on first use.
// Concurrent first calls for the same host share a single construction; other
// hosts are never blocked by it.
func (c *Cache) ContextFor(ctx context.Context, hostKey string) (*TenantContext, error) {
	key := NormalizeHostKey(hostKey)

	if tc := c.lookup(key); tc != nil {
		return tc, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if tc := c.lookup(key); tc != nil {
			return tc, nil
		}

		// Waiters share this build, so it must not die with the first caller's request.
		tc, err := c.build(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, err
		}
		if tc.HostKey == "" {
			tc.HostKey = key
		}

		c.mu.Lock()
		c.entries[key] = tc
		c.mu.Unlock()

		c.logger.Info("tenant context built", zap.String("hostKey", key))
		return tc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("build tenant context for %s: %w", key, err)
	}

	return v.(*TenantContext), nil
}

func (c *Cache) lookup(key string) *TenantContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key]
}

// Invalidate drops hostKey so the next ContextFor rebuilds it.
func (c *Cache) Invalidate(hostKey string) {
	key := NormalizeHostKey(hostKey)

	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.group.Forget(key)
}

// ForgetTenantConfig drops the tenant's memoized settings under every cached host.
func (c *Cache) ForgetTenantConfig(ctx context.Context, tenantID domain.TenantID) error {
	c.mu.RLock()
	contexts := make([]*TenantContext, 0, len(c.entries))
	for _, tc := range c.entries {
		contexts = append(contexts, tc)
	}
	c.mu.RUnlock()

	var errs []error
	for _, tc := range contexts {
		if err := tc.ForgetTenantConfig(ctx, tenantID); err != nil {
			errs = append(errs, fmt.Errorf("host %s: %w", tc.HostKey, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
