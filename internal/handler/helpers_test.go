package handler

import (
	"bytes"
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/tenantctx"
	"github.com/kursadbilgin/sms-dispatch/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestApp(t *testing.T, register func(app *fiber.App) error) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	app.Use(RequestContext(tenantctx.NewHostAllowlist("example.com")))

	if err := register(app); err != nil {
		t.Fatalf("register routes error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()
	return performRequestWithHeaders(t, app, method, path, body, nil)
}

func performRequestWithHeaders(
	t *testing.T,
	app *fiber.App,
	method string,
	path string,
	body string,
	headers map[string]string,
) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubContexts struct {
	tc  *tenantctx.TenantContext
	err error

	mu       sync.Mutex
	hostKeys []string
}

func (s *stubContexts) ContextFor(_ context.Context, hostKey string) (*tenantctx.TenantContext, error) {
	s.mu.Lock()
	s.hostKeys = append(s.hostKeys, hostKey)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.tc, nil
}

func (s *stubContexts) ForgetTenantConfig(ctx context.Context, tenantID domain.TenantID) error {
	return s.tc.ForgetTenantConfig(ctx, tenantID)
}

func newStubContexts(messages *stubMessageRepo, tenants *stubTenantRepo, memo tenantctx.Memoizer) *stubContexts {
	if memo == nil {
		memo = tenantctx.NoopMemoizer{}
	}
	return &stubContexts{tc: &tenantctx.TenantContext{
		HostKey:   "example.com",
		Messages:  messages,
		Tenants:   tenants,
		Memo:      memo,
		CreatedAt: time.Now(),
	}}
}

type stubMessageRepo struct {
	getFn func(ctx context.Context, tenantID domain.TenantID, id string) (*domain.OutboundMessage, error)
}

func (r *stubMessageRepo) Create(context.Context, *domain.OutboundMessage) error {
	return errors.New("not implemented")
}

func (r *stubMessageRepo) GetForTenant(ctx context.Context, tenantID domain.TenantID, id string) (*domain.OutboundMessage, error) {
	if r.getFn == nil {
		return nil, domain.ErrNotFound
	}
	return r.getFn(ctx, tenantID, id)
}

func (r *stubMessageRepo) FindByReference(context.Context, string) (*domain.OutboundMessage, error) {
	return nil, domain.ErrNotFound
}

func (r *stubMessageRepo) MarkSent(context.Context, string, string) error {
	return errors.New("not implemented")
}

func (r *stubMessageRepo) MarkFailed(context.Context, string, []string) error {
	return errors.New("not implemented")
}

func (r *stubMessageRepo) CompareAndSwap(context.Context, *domain.OutboundMessage, int64) error {
	return errors.New("not implemented")
}

func (r *stubMessageRepo) ListPendingOlderThan(context.Context, time.Time, int) ([]domain.OutboundMessage, error) {
	return nil, nil
}

func (r *stubMessageRepo) CountPendingOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type stubTenantRepo struct {
	upsertFn func(ctx context.Context, cfg *domain.TenantConfig) error
}

func (r *stubTenantRepo) GetSettings(context.Context, domain.TenantID) (*domain.TenantConfig, error) {
	return nil, domain.ErrNotFound
}

func (r *stubTenantRepo) UpsertSettings(ctx context.Context, cfg *domain.TenantConfig) error {
	if r.upsertFn == nil {
		return nil
	}
	return r.upsertFn(ctx, cfg)
}

type recordingMemo struct {
	tenantctx.NoopMemoizer

	mu        sync.Mutex
	forgotten []string
	forgetErr error
}

func (m *recordingMemo) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forgotten = append(m.forgotten, key)
	return m.forgetErr
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") && h.pingErr != nil {
			cmd.SetErr(h.pingErr)
			return h.pingErr
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}

type stubBroker struct {
	err error
}

func (b stubBroker) Check(context.Context) error { return b.err }
