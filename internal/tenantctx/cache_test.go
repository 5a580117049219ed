package tenantctx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTenantRepo struct {
	getFn    func(ctx context.Context, tenantID domain.TenantID) (*domain.TenantConfig, error)
	upsertFn func(ctx context.Context, cfg *domain.TenantConfig) error
}

func (f *fakeTenantRepo) GetSettings(ctx context.Context, tenantID domain.TenantID) (*domain.TenantConfig, error) {
	if f.getFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getFn(ctx, tenantID)
}

func (f *fakeTenantRepo) UpsertSettings(ctx context.Context, cfg *domain.TenantConfig) error {
	if f.upsertFn == nil {
		return nil
	}
	return f.upsertFn(ctx, cfg)
}

func countingBuilder(calls *atomic.Int64, delay time.Duration) Builder {
	return func(ctx context.Context, hostKey string) (*TenantContext, error) {
		calls.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return &TenantContext{HostKey: hostKey, Memo: NoopMemoizer{}, Tenants: &fakeTenantRepo{}}, nil
	}
}

func TestContextForReturnsSameInstancePerHost(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	cache, err := NewCache(countingBuilder(&calls, 0), nil)
	require.NoError(t, err)

	ctx := context.Background()
	a1, err := cache.ContextFor(ctx, "a.example.com")
	require.NoError(t, err)
	a2, err := cache.ContextFor(ctx, " A.example.com ")
	require.NoError(t, err)
	b, err := cache.ContextFor(ctx, "b.example.com")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
	assert.Equal(t, "a.example.com", a1.HostKey)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, 2, cache.Len())
}

func TestContextForConcurrentFirstAccessBuildsOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	cache, err := NewCache(countingBuilder(&calls, 20*time.Millisecond), nil)
	require.NoError(t, err)

	const workers = 32
	results := make([]*TenantContext, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			host := "shared.example.com"
			if i%2 == 1 {
				host = "other.example.com"
			}
			tc, err := cache.ContextFor(context.Background(), host)
			assert.NoError(t, err)
			results[i] = tc
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(2), calls.Load())
	for i := 2; i < workers; i++ {
		assert.Same(t, results[i%2], results[i])
	}
	assert.NotSame(t, results[0], results[1])
}

func TestContextForBuildErrorIsNotCached(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	cache, err := NewCache(func(ctx context.Context, hostKey string) (*TenantContext, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("database unavailable")
		}
		return &TenantContext{HostKey: hostKey}, nil
	}, nil)
	require.NoError(t, err)

	_, err = cache.ContextFor(context.Background(), "h")
	require.Error(t, err)

	tc, err := cache.ContextFor(context.Background(), "h")
	require.NoError(t, err)
	assert.NotNil(t, tc)
	assert.Equal(t, int64(2), calls.Load())
}

func TestContextForSurvivesCanceledCaller(t *testing.T) {
	t.Parallel()

	cache, err := NewCache(func(ctx context.Context, hostKey string) (*TenantContext, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &TenantContext{HostKey: hostKey}, nil
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = cache.ContextFor(ctx, "h")
	require.NoError(t, err)
}

func TestInvalidateRebuilds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	cache, err := NewCache(countingBuilder(&calls, 0), nil)
	require.NoError(t, err)

	first, err := cache.ContextFor(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultHostKey, first.HostKey)

	cache.Invalidate(DefaultHostKey)
	second, err := cache.ContextFor(context.Background(), DefaultHostKey)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, int64(2), calls.Load())
}

func TestNewCacheRequiresBuilder(t *testing.T) {
	t.Parallel()

	_, err := NewCache(nil, nil)
	assert.Error(t, err)
}

func TestHostKeyContextHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultHostKey, HostKeyFromContext(context.Background()))
	ctx := WithHostKey(context.Background(), "API.Example.com")
	assert.Equal(t, "api.example.com", HostKeyFromContext(ctx))
}

func TestTenantConfigDefaultsWhenMissing(t *testing.T) {
	t.Parallel()

	tc := &TenantContext{Memo: NoopMemoizer{}, Tenants: &fakeTenantRepo{}}
	cfg, err := tc.TenantConfig(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TenantID("org-1"), cfg.TenantID)
	assert.Nil(t, cfg.ProviderBaseURL)
}

func TestTenantConfigPropagatesStorageError(t *testing.T) {
	t.Parallel()

	tc := &TenantContext{Memo: NoopMemoizer{}, Tenants: &fakeTenantRepo{
		getFn: func(context.Context, domain.TenantID) (*domain.TenantConfig, error) {
			return nil, errors.New("connection reset")
		},
	}}
	_, err := tc.TenantConfig(context.Background(), "org-1")
	assert.Error(t, err)
}
