package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"github.com/kursadbilgin/sms-dispatch/internal/provider"
	"github.com/kursadbilgin/sms-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/sms-dispatch/internal/tenantctx"
	"go.uber.org/zap"
)

const defaultSendTimeout = 10 * time.Second

// ContextSource resolves the per-host tenant context.
type ContextSource interface {
	ContextFor(ctx context.Context, hostKey string) (*tenantctx.TenantContext, error)
}

// ClientSource resolves the provider client for a tenant.
type ClientSource interface {
	ClientFor(ctx context.Context, tenantID domain.TenantID, cfg domain.TenantConfig) (provider.Client, error)
}

// DispatchService transmits a message exactly once. A failed send is recorded
// on the message and never retried here.
type DispatchService struct {
	contexts    ContextSource
	clients     ClientSource
	rateLimiter ratelimit.RateLimiter
	timeout     time.Duration
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
	newID       func() string
}

func NewDispatchService(
	contexts ContextSource,
	clients ClientSource,
	rateLimiter ratelimit.RateLimiter,
	timeout time.Duration,
	logger *zap.Logger,
) (*DispatchService, error) {
	if contexts == nil {
		return nil, fmt.Errorf("context source is required")
	}
	if clients == nil {
		return nil, fmt.Errorf("client source is required")
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchService{
		contexts:    contexts,
		clients:     clients,
		rateLimiter: rateLimiter,
		timeout:     timeout,
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

func (s *DispatchService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Send persists the message as Pending, makes one provider call and records the
// outcome. On a send failure the returned message is Failed and the error
// matches domain.ErrTransmissionFailure (and domain.ErrTimeout for timeouts).
func (s *DispatchService) Send(ctx context.Context, tenantID domain.TenantID, draft domain.OutboundDraft) (*domain.OutboundMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := tenantID.Validate(); err != nil {
		return nil, err
	}
	draft.Normalize()
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("tenantId", tenantID.String()))

	tc, err := s.contexts.ContextFor(ctx, tenantctx.HostKeyFromContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenant context: %w", err)
	}

	cfg, err := tc.TenantConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	// Credential problems surface before any row exists.
	client, err := s.clients.ClientFor(ctx, tenantID, cfg)
	if err != nil {
		if errors.Is(err, domain.ErrDecryptionFailure) {
			logger.Error("provider credential could not be decrypted", zap.Error(err))
		}
		return nil, err
	}

	now := s.now().UTC()
	msg := &domain.OutboundMessage{
		ID:         s.newID(),
		TenantID:   tenantID,
		ToNumber:   draft.ToNumber,
		FromNumber: draft.FromNumber,
		Body:       draft.Body,
		Status:     domain.StatusPending,
		ErrorCodes: []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tc.Messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist pending message: %w", err)
	}
	logger = logger.With(zap.String("messageId", msg.ID))

	// The row exists now; its final state is recorded even if the caller goes away.
	persistCtx := context.WithoutCancel(ctx)

	if err := s.rateLimiter.Wait(ctx, tenantID.String()); err != nil {
		if ctx.Err() != nil {
			s.fail(persistCtx, tc, msg, domain.ErrorCodeRateLimited, logger)
			s.metrics.ObserveSend("rate_limited", 0)
			return msg, fmt.Errorf("%w: rate limiter wait failed: %w", domain.ErrTransmissionFailure, err)
		}
		// Limiter backend unavailable: send unthrottled.
		logger.Warn("rate limiter unavailable", zap.Error(err))
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	start := s.now()
	result, sendErr := client.Send(sendCtx, *msg)
	deadlineHit := errors.Is(sendCtx.Err(), context.DeadlineExceeded)
	cancel()
	elapsed := s.now().Sub(start)

	if sendErr != nil {
		code := provider.ErrorCode(sendErr)
		if deadlineHit {
			code = domain.ErrorCodeTimeout
		}
		s.fail(persistCtx, tc, msg, code, logger)
		s.metrics.ObserveSend(outcomeFor(code), elapsed)

		logger.Warn("provider send failed",
			zap.String("errorCode", code),
			zap.Bool("transient", provider.IsTransient(sendErr)),
			zap.Error(sendErr),
		)
		return msg, classifySendError(code, sendErr)
	}

	providerMessageID := msg.ID
	if result != nil && strings.TrimSpace(result.MessageID) != "" {
		providerMessageID = strings.TrimSpace(result.MessageID)
	}

	if err := tc.Messages.MarkSent(persistCtx, msg.ID, providerMessageID); err != nil && !errors.Is(err, domain.ErrConflict) {
		return msg, fmt.Errorf("failed to record provider acknowledgement: %w", err)
	}

	// A delivery report may have advanced the row before the acknowledgement was recorded.
	if current, err := tc.Messages.GetForTenant(persistCtx, tenantID, msg.ID); err == nil {
		msg = current
	} else {
		logger.Warn("failed to reload message after send", zap.Error(err))
		msg.Status = domain.StatusSent
		msg.ProviderMessageID = &providerMessageID
	}
	if msg.Status != domain.StatusSent {
		logger.Info("message already advanced by a delivery report", zap.String("status", msg.Status.String()))
	}

	s.metrics.ObserveSend("sent", elapsed)
	logger.Info("message sent",
		zap.String("providerMessageId", providerMessageID),
		zap.Duration("duration", elapsed),
	)
	return msg, nil
}

func (s *DispatchService) fail(ctx context.Context, tc *tenantctx.TenantContext, msg *domain.OutboundMessage, code string, logger *zap.Logger) {
	codes := domain.MergeErrorCodes(nil, []string{code})
	if err := tc.Messages.MarkFailed(ctx, msg.ID, codes); err != nil {
		logger.Error("failed to record send failure",
			zap.String("errorCode", code),
			zap.Error(err),
		)
		return
	}
	msg.Status = domain.StatusFailed
	msg.ErrorCodes = codes
	msg.Version++
}

func classifySendError(code string, sendErr error) error {
	if code == domain.ErrorCodeTimeout {
		return &domain.TimeoutError{Cause: sendErr}
	}
	if errors.Is(sendErr, domain.ErrTransmissionFailure) {
		return sendErr
	}
	return fmt.Errorf("%w: %w", domain.ErrTransmissionFailure, sendErr)
}

func outcomeFor(code string) string {
	switch code {
	case domain.ErrorCodeTimeout:
		return "timeout"
	case domain.ErrorCodeCircuitOpen:
		return "circuit_open"
	default:
		return "failed"
	}
}
