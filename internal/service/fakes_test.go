package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/provider"
	"github.com/kursadbilgin/sms-dispatch/internal/queue"
	"github.com/kursadbilgin/sms-dispatch/internal/tenantctx"
)

// memoryMessageRepo mirrors the conditional updates of the gorm repository.
type memoryMessageRepo struct {
	mu   sync.Mutex
	rows map[string]domain.OutboundMessage

	createFn         func(ctx context.Context, m *domain.OutboundMessage) error
	compareAndSwapFn func(ctx context.Context, next *domain.OutboundMessage, expectedVersion int64) error
}

func newMemoryMessageRepo() *memoryMessageRepo {
	return &memoryMessageRepo{rows: map[string]domain.OutboundMessage{}}
}

func (r *memoryMessageRepo) put(m domain.OutboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[m.ID] = m
}

func (r *memoryMessageRepo) get(id string) (domain.OutboundMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	return m, ok
}

func (r *memoryMessageRepo) Create(ctx context.Context, m *domain.OutboundMessage) error {
	if r.createFn != nil {
		if err := r.createFn(ctx, m); err != nil {
			return err
		}
	}
	r.put(*m)
	return nil
}

func (r *memoryMessageRepo) GetForTenant(_ context.Context, tenantID domain.TenantID, id string) (*domain.OutboundMessage, error) {
	m, ok := r.get(id)
	if !ok || m.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return &m, nil
}

func (r *memoryMessageRepo) FindByReference(_ context.Context, ref string) (*domain.OutboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.rows[ref]; ok {
		return &m, nil
	}
	for _, m := range r.rows {
		if m.ProviderMessageID != nil && *m.ProviderMessageID == ref {
			return &m, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memoryMessageRepo) MarkSent(_ context.Context, id string, providerMessageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	switch {
	case ok && m.Status == domain.StatusPending:
		m.Status = domain.StatusSent
	case ok && m.ProviderMessageID == nil:
	default:
		return domain.ErrConflict
	}
	pmid := providerMessageID
	m.ProviderMessageID = &pmid
	m.Version++
	r.rows[id] = m
	return nil
}

func (r *memoryMessageRepo) MarkFailed(_ context.Context, id string, errorCodes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok || m.Status != domain.StatusPending {
		return domain.ErrConflict
	}
	m.Status = domain.StatusFailed
	m.ErrorCodes = domain.MergeErrorCodes(nil, errorCodes)
	m.Version++
	r.rows[id] = m
	return nil
}

func (r *memoryMessageRepo) CompareAndSwap(ctx context.Context, next *domain.OutboundMessage, expectedVersion int64) error {
	if r.compareAndSwapFn != nil {
		if err := r.compareAndSwapFn(ctx, next, expectedVersion); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[next.ID]
	if !ok || m.Version != expectedVersion {
		return domain.ErrConflict
	}
	next.Version = expectedVersion + 1
	r.rows[next.ID] = *next
	return nil
}

func (r *memoryMessageRepo) pendingOlderThan(cutoff time.Time) []domain.OutboundMessage {
	out := make([]domain.OutboundMessage, 0)
	for _, m := range r.rows {
		if m.Status == domain.StatusPending && m.CreatedAt.Before(cutoff) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *memoryMessageRepo) ListPendingOlderThan(_ context.Context, cutoff time.Time, limit int) ([]domain.OutboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pendingOlderThan(cutoff)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryMessageRepo) CountPendingOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.pendingOlderThan(cutoff))), nil
}

type fakeTenantRepo struct {
	getSettingsFn func(ctx context.Context, tenantID domain.TenantID) (*domain.TenantConfig, error)
}

func (f *fakeTenantRepo) GetSettings(ctx context.Context, tenantID domain.TenantID) (*domain.TenantConfig, error) {
	if f.getSettingsFn != nil {
		return f.getSettingsFn(ctx, tenantID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeTenantRepo) UpsertSettings(context.Context, *domain.TenantConfig) error {
	return nil
}

type fakeContexts struct {
	mu       sync.Mutex
	tc       *tenantctx.TenantContext
	err      error
	hostKeys []string
}

func newFakeContexts(messages *memoryMessageRepo) *fakeContexts {
	return &fakeContexts{tc: &tenantctx.TenantContext{
		HostKey:  tenantctx.DefaultHostKey,
		Messages: messages,
		Tenants:  &fakeTenantRepo{},
		Memo:     tenantctx.NoopMemoizer{},
	}}
}

func (f *fakeContexts) ContextFor(_ context.Context, hostKey string) (*tenantctx.TenantContext, error) {
	f.mu.Lock()
	f.hostKeys = append(f.hostKeys, hostKey)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.tc, nil
}

type fakeClientSource struct {
	clientForFn func(ctx context.Context, tenantID domain.TenantID, cfg domain.TenantConfig) (provider.Client, error)
}

func (f *fakeClientSource) ClientFor(ctx context.Context, tenantID domain.TenantID, cfg domain.TenantConfig) (provider.Client, error) {
	return f.clientForFn(ctx, tenantID, cfg)
}

type fakeClient struct {
	sendFn func(ctx context.Context, msg domain.OutboundMessage) (*provider.SendResult, error)
	calls  int
}

func (f *fakeClient) Send(ctx context.Context, msg domain.OutboundMessage) (*provider.SendResult, error) {
	f.calls++
	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return &provider.SendResult{StatusCode: 202, MessageID: "PM1"}, nil
}

func (f *fakeClient) BaseURL() string { return "https://sms.example.com" }

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, tenantID string) error
}

func (f *fakeRateLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (f *fakeRateLimiter) Wait(ctx context.Context, tenantID string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, tenantID)
	}
	return nil
}

type fakePublisher struct {
	publishBatchFn func(ctx context.Context, msgs []queue.SyncJobMessage) error
}

func (f *fakePublisher) PublishBatch(ctx context.Context, msgs []queue.SyncJobMessage) error {
	if f.publishBatchFn != nil {
		return f.publishBatchFn(ctx, msgs)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeLocker struct {
	acquired bool
	err      error
	unlocked int
}

func (f *fakeLocker) TryLock(context.Context, string) (func(context.Context) error, bool, error) {
	if f.err != nil || !f.acquired {
		return nil, false, f.err
	}
	return func(context.Context) error {
		f.unlocked++
		return nil
	}, true, nil
}
