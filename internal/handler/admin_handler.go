package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"github.com/kursadbilgin/sms-dispatch/internal/tenantctx"
	"github.com/kursadbilgin/sms-dispatch/internal/validation"
	"go.uber.org/zap"
)

// SecretAdmin is the write side of the secret store plus metadata reads.
// Secret values never leave it through this surface.
type SecretAdmin interface {
	SetSecret(ctx context.Context, ref domain.SecretRef, value domain.SecretValue) (*domain.SecretInfo, error)
	Stat(ctx context.Context, ref domain.SecretRef) (domain.SecretInfo, bool, error)
}

// SettingsContexts resolves tenant contexts and drops memoized settings under
// every host that may hold them.
type SettingsContexts interface {
	ContextSource
	ForgetTenantConfig(ctx context.Context, tenantID domain.TenantID) error
}

type AdminHandler struct {
	secrets  SecretAdmin
	contexts SettingsContexts
	logger   *zap.Logger
	now      func() time.Time
}

func NewAdminHandler(secrets SecretAdmin, contexts SettingsContexts, logger *zap.Logger) (*AdminHandler, error) {
	if secrets == nil {
		return nil, fmt.Errorf("secret admin is required")
	}
	if contexts == nil {
		return nil, fmt.Errorf("context source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{secrets: secrets, contexts: contexts, logger: logger, now: time.Now}, nil
}

func RegisterAdminRoutes(router fiber.Router, secrets SecretAdmin, contexts SettingsContexts, logger *zap.Logger) error {
	h, err := NewAdminHandler(secrets, contexts, logger)
	if err != nil {
		return err
	}

	tenants := router.Group("/v1/tenants/:tenantId")
	tenants.Put("/secrets/:purpose", h.PutSecret)
	tenants.Get("/secrets/:purpose", h.GetSecretInfo)
	tenants.Put("/settings", h.PutSettings)

	return nil
}

type putSecretRequest struct {
	Value string `json:"value" validate:"required,max=4096"`
}

type secretInfoResponse struct {
	Configured bool       `json:"configured"`
	Revision   int64      `json:"revision,omitempty"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
}

type putSettingsRequest struct {
	ProviderBaseURL   *string `json:"providerBaseUrl" validate:"omitempty,http_url,max=2048"`
	ProfileID         string  `json:"profileId" validate:"required,max=128"`
	SendingLocationID string  `json:"sendingLocationId" validate:"required,max=128"`
}

type settingsResponse struct {
	TenantID          string    `json:"tenantId"`
	ProviderBaseURL   *string   `json:"providerBaseUrl,omitempty"`
	ProfileID         string    `json:"profileId"`
	SendingLocationID string    `json:"sendingLocationId"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (h *AdminHandler) PutSecret(c *fiber.Ctx) error {
	tenantID, ctx, err := tenantFromPath(c)
	if err != nil {
		return err
	}
	ref, err := domain.NewSecretRef(tenantID, c.Params("purpose"))
	if err != nil {
		return err
	}

	var req putSecretRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validation.Struct(req); err != nil {
		return err
	}

	if _, err := h.secrets.SetSecret(ctx, ref, domain.NewSecretValue(req.Value)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AdminHandler) GetSecretInfo(c *fiber.Ctx) error {
	tenantID, ctx, err := tenantFromPath(c)
	if err != nil {
		return err
	}
	ref, err := domain.NewSecretRef(tenantID, c.Params("purpose"))
	if err != nil {
		return err
	}

	info, found, err := h.secrets.Stat(ctx, ref)
	if err != nil {
		return err
	}
	if !found {
		return c.Status(fiber.StatusOK).JSON(secretInfoResponse{Configured: false})
	}

	updatedAt := info.UpdatedAt
	return c.Status(fiber.StatusOK).JSON(secretInfoResponse{
		Configured: true,
		Revision:   info.Revision,
		UpdatedAt:  &updatedAt,
	})
}

// PutSettings upserts the tenant's provider settings and drops the memoized
// copies under every host so the next send sees them.
func (h *AdminHandler) PutSettings(c *fiber.Ctx) error {
	tenantID, ctx, err := tenantFromPath(c)
	if err != nil {
		return err
	}

	var req putSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.ProviderBaseURL != nil {
		trimmed := strings.TrimSpace(*req.ProviderBaseURL)
		if trimmed == "" {
			req.ProviderBaseURL = nil
		} else {
			req.ProviderBaseURL = &trimmed
		}
	}
	req.ProfileID = strings.TrimSpace(req.ProfileID)
	req.SendingLocationID = strings.TrimSpace(req.SendingLocationID)
	if err := validation.Struct(req); err != nil {
		return err
	}

	tc, err := h.contexts.ContextFor(ctx, tenantctx.HostKeyFromContext(ctx))
	if err != nil {
		return err
	}

	cfg := &domain.TenantConfig{
		TenantID:          tenantID,
		ProviderBaseURL:   req.ProviderBaseURL,
		ProfileID:         req.ProfileID,
		SendingLocationID: req.SendingLocationID,
		UpdatedAt:         h.now().UTC(),
	}
	if err := tc.Tenants.UpsertSettings(ctx, cfg); err != nil {
		return err
	}
	if err := h.contexts.ForgetTenantConfig(ctx, tenantID); err != nil {
		// The memoized copy expires on its own.
		observability.WithContextLogger(h.logger, ctx).Warn("failed to drop memoized tenant settings", zap.Error(err))
	}

	return c.Status(fiber.StatusOK).JSON(settingsResponse{
		TenantID:          cfg.TenantID.String(),
		ProviderBaseURL:   cfg.ProviderBaseURL,
		ProfileID:         cfg.ProfileID,
		SendingLocationID: cfg.SendingLocationID,
		UpdatedAt:         cfg.UpdatedAt,
	})
}
