package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSecretAdmin struct {
	mu      sync.Mutex
	written map[domain.SecretRef]string
	infos   map[domain.SecretRef]domain.SecretInfo
}

func newStubSecretAdmin() *stubSecretAdmin {
	return &stubSecretAdmin{
		written: make(map[domain.SecretRef]string),
		infos:   make(map[domain.SecretRef]domain.SecretInfo),
	}
}

func (s *stubSecretAdmin) SetSecret(_ context.Context, ref domain.SecretRef, value domain.SecretValue) (*domain.SecretInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written[ref] = value.Reveal()
	info := domain.SecretInfo{Ref: ref, Revision: s.infos[ref].Revision + 1, UpdatedAt: time.Now().UTC()}
	s.infos[ref] = info
	return &info, nil
}

func (s *stubSecretAdmin) Stat(_ context.Context, ref domain.SecretRef) (domain.SecretInfo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.infos[ref]
	return info, ok, nil
}

func newAdminTestApp(t *testing.T, secrets SecretAdmin, contexts SettingsContexts) *fiber.App {
	t.Helper()
	return newTestApp(t, func(app *fiber.App) error {
		return RegisterAdminRoutes(app, secrets, contexts, zap.NewNop())
	})
}

func TestAdminHandler_SecretsAreWriteOnly(t *testing.T) {
	t.Parallel()

	secrets := newStubSecretAdmin()
	app := newAdminTestApp(t, secrets, newStubContexts(&stubMessageRepo{}, &stubTenantRepo{}, nil))

	resp, body := performRequest(t, app, http.MethodGet, "/v1/tenants/t1/secrets/sms-api-key", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"configured":false}`, string(body))

	resp, body = performRequest(t, app, http.MethodPut, "/v1/tenants/t1/secrets/sms-api-key", `{"value":"sk-live-123"}`)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode, string(body))
	assert.Equal(t, "sk-live-123", secrets.written[domain.SecretRef("t1:sms-api-key")])

	resp, body = performRequest(t, app, http.MethodGet, "/v1/tenants/t1/secrets/sms-api-key", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(body))
	assert.NotContains(t, string(body), "sk-live-123")

	var info map[string]any
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, true, info["configured"])
	assert.Equal(t, float64(1), info["revision"])
	assert.NotEmpty(t, info["updatedAt"])

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/tenants/t2/secrets/sms-api-key", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAdminHandler_PutSecretValidation(t *testing.T) {
	t.Parallel()

	secrets := newStubSecretAdmin()
	app := newAdminTestApp(t, secrets, newStubContexts(&stubMessageRepo{}, &stubTenantRepo{}, nil))

	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "empty value", path: "/v1/tenants/t1/secrets/sms-api-key", body: `{"value":""}`},
		{name: "invalid json", path: "/v1/tenants/t1/secrets/sms-api-key", body: `{`},
		{name: "value too long", path: "/v1/tenants/t1/secrets/sms-api-key", body: `{"value":"` + strings.Repeat("k", 4097) + `"}`},
		{name: "tenant with separator", path: "/v1/tenants/a:b/secrets/sms-api-key", body: `{"value":"x"}`},
	}
	for _, tt := range tests {
		resp, body := performRequest(t, app, http.MethodPut, tt.path, tt.body)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "%s: %s", tt.name, string(body))
	}
	assert.Empty(t, secrets.written)
}

func TestAdminHandler_PutSettings(t *testing.T) {
	t.Parallel()

	var stored *domain.TenantConfig
	tenants := &stubTenantRepo{
		upsertFn: func(_ context.Context, cfg *domain.TenantConfig) error {
			copied := *cfg
			stored = &copied
			return nil
		},
	}
	memo := &recordingMemo{}
	app := newAdminTestApp(t, newStubSecretAdmin(), newStubContexts(&stubMessageRepo{}, tenants, memo))

	body := `{"providerBaseUrl":" https://eu.provider.test/v2 ","profileId":"prof-1","sendingLocationId":"loc-9"}`
	resp, respBody := performRequest(t, app, http.MethodPut, "/v1/tenants/t1/settings", body)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(respBody))

	require.NotNil(t, stored)
	assert.Equal(t, domain.TenantID("t1"), stored.TenantID)
	require.NotNil(t, stored.ProviderBaseURL)
	assert.Equal(t, "https://eu.provider.test/v2", *stored.ProviderBaseURL)
	assert.Equal(t, "prof-1", stored.ProfileID)
	assert.Equal(t, "loc-9", stored.SendingLocationID)
	assert.False(t, stored.UpdatedAt.IsZero())

	memo.mu.Lock()
	assert.Equal(t, []string{"tenant-config:t1"}, memo.forgotten)
	memo.mu.Unlock()

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(respBody, &parsed))
	assert.Equal(t, "https://eu.provider.test/v2", parsed["providerBaseUrl"])
}

func TestAdminHandler_PutSettingsWithoutOverride(t *testing.T) {
	t.Parallel()

	var stored *domain.TenantConfig
	tenants := &stubTenantRepo{
		upsertFn: func(_ context.Context, cfg *domain.TenantConfig) error {
			copied := *cfg
			stored = &copied
			return nil
		},
	}
	app := newAdminTestApp(t, newStubSecretAdmin(), newStubContexts(&stubMessageRepo{}, tenants, nil))

	body := `{"providerBaseUrl":"  ","profileId":"prof-1","sendingLocationId":"loc-9"}`
	resp, respBody := performRequest(t, app, http.MethodPut, "/v1/tenants/t1/settings", body)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(respBody))
	require.NotNil(t, stored)
	assert.Nil(t, stored.ProviderBaseURL)
}

func TestAdminHandler_PutSettingsValidation(t *testing.T) {
	t.Parallel()

	tenants := &stubTenantRepo{
		upsertFn: func(context.Context, *domain.TenantConfig) error {
			t.Fatal("invalid settings must not be stored")
			return nil
		},
	}
	app := newAdminTestApp(t, newStubSecretAdmin(), newStubContexts(&stubMessageRepo{}, tenants, nil))

	bodies := []string{
		`{"providerBaseUrl":"not a url","profileId":"prof-1","sendingLocationId":"loc-9"}`,
		`{"profileId":"","sendingLocationId":"loc-9"}`,
		`{"profileId":"prof-1"}`,
	}
	for _, body := range bodies {
		resp, respBody := performRequest(t, app, http.MethodPut, "/v1/tenants/t1/settings", body)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, string(respBody))
	}
}
