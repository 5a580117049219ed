package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"github.com/kursadbilgin/sms-dispatch/internal/service"
	"github.com/kursadbilgin/sms-dispatch/internal/transport"
	"go.uber.org/zap"
)

const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"

	defaultWebhookMaxSkew = 5 * time.Minute
)

var (
	errMissingSignature = errors.New("missing signature headers")
	errStaleTimestamp   = errors.New("timestamp outside allowed skew")
	errBadSignature     = errors.New("signature mismatch")
)

type DeliveryReportApplier interface {
	Apply(ctx context.Context, raw []byte) (service.Outcome, error)
}

type WebhookConfig struct {
	// SigningSecret enables signature checks when set.
	SigningSecret string
	MaxSkew       time.Duration
}

type WebhookHandler struct {
	applier DeliveryReportApplier
	secret  []byte
	maxSkew time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func NewWebhookHandler(applier DeliveryReportApplier, cfg WebhookConfig, logger *zap.Logger) (*WebhookHandler, error) {
	if applier == nil {
		return nil, fmt.Errorf("delivery report applier is required")
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = defaultWebhookMaxSkew
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &WebhookHandler{
		applier: applier,
		maxSkew: cfg.MaxSkew,
		logger:  logger,
		now:     time.Now,
	}
	if cfg.SigningSecret != "" {
		h.secret = []byte(cfg.SigningSecret)
	}
	return h, nil
}

func RegisterWebhookRoutes(router fiber.Router, applier DeliveryReportApplier, cfg WebhookConfig, logger *zap.Logger) error {
	h, err := NewWebhookHandler(applier, cfg, logger)
	if err != nil {
		return err
	}

	router.Post("/v1/webhooks/delivery-reports", h.DeliveryReport)
	return nil
}

type deliveryReportResponse struct {
	Outcome string `json:"outcome"`
	Code    string `json:"code,omitempty"`
}

// DeliveryReport acknowledges every authenticated callback with 200 so the
// provider never redelivers; the outcome is only reported in the body.
func (h *WebhookHandler) DeliveryReport(c *fiber.Ctx) error {
	ctx := c.UserContext()
	logger := observability.WithContextLogger(h.logger, ctx)

	// fiber reuses the body buffer after the handler returns.
	raw := append([]byte(nil), c.Body()...)

	if err := h.verify(c.Get(HeaderTimestamp), c.Get(HeaderSignature), raw); err != nil {
		logger.Warn("delivery callback rejected", zap.String("ip", c.IP()), zap.Error(err))
		return fiber.NewError(fiber.StatusUnauthorized, "invalid webhook signature")
	}

	outcome, err := h.applier.Apply(ctx, raw)
	resp := deliveryReportResponse{Outcome: outcome.String()}
	if err != nil {
		_, resp.Code = transport.Classify(err)
		if !errors.Is(err, domain.ErrMalformedCallback) {
			logger.Error("delivery callback could not be reconciled", zap.Error(err))
		}
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *WebhookHandler) verify(timestamp string, signature string, body []byte) error {
	if len(h.secret) == 0 {
		return nil
	}

	timestamp = strings.TrimSpace(timestamp)
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if timestamp == "" || signature == "" {
		return errMissingSignature
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %v", errStaleTimestamp, err)
	}
	skew := h.now().Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > h.maxSkew {
		return errStaleTimestamp
	}

	got, err := hex.DecodeString(signature)
	if err != nil {
		return errBadSignature
	}
	if !hmac.Equal(got, computeSignature(h.secret, timestamp, body)) {
		return errBadSignature
	}
	return nil
}

func computeSignature(secret []byte, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("\n"))
	mac.Write(body)
	return mac.Sum(nil)
}
