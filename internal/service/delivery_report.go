package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"github.com/kursadbilgin/sms-dispatch/internal/tenantctx"
	"github.com/kursadbilgin/sms-dispatch/internal/validation"
	"go.uber.org/zap"
)

const defaultMaxApplyAttempts = 5

// Outcome is the result of applying one delivery callback.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeIgnored Outcome = "ignored"
)

func (o Outcome) String() string { return string(o) }

type deliveryCallback struct {
	MessageID         string          `json:"messageId" validate:"required,max=128"`
	EventType         string          `json:"eventType" validate:"required"`
	ErrorCodes        []string        `json:"errorCodes" validate:"omitempty,max=32,dive,max=64"`
	GeneratedAt       string          `json:"generatedAt" validate:"required"`
	ProfileID         string          `json:"profileId" validate:"omitempty,max=128"`
	SendingLocationID string          `json:"sendingLocationId" validate:"omitempty,max=128"`
	Extra             *callbackExtras `json:"extra"`
}

type callbackExtras struct {
	NumSegments int `json:"num_segments" validate:"min=0"`
	NumMedia    int `json:"num_media" validate:"min=0"`
}

// ParseDeliveryEvent decodes a raw provider callback. Every rejection wraps
// domain.ErrMalformedCallback.
func ParseDeliveryEvent(raw []byte) (domain.DeliveryEvent, error) {
	var cb deliveryCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return domain.DeliveryEvent{}, fmt.Errorf("%w: invalid json: %v", domain.ErrMalformedCallback, err)
	}
	if err := validation.Struct(cb); err != nil {
		return domain.DeliveryEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedCallback, err)
	}

	eventType, err := domain.ParseEventTypeFromString(cb.EventType)
	if err != nil {
		return domain.DeliveryEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedCallback, err)
	}

	generatedAt, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(cb.GeneratedAt))
	if err != nil {
		return domain.DeliveryEvent{}, fmt.Errorf("%w: generatedAt must be RFC3339", domain.ErrMalformedCallback)
	}

	ev := domain.DeliveryEvent{
		MessageID:         strings.TrimSpace(cb.MessageID),
		EventType:         eventType,
		ErrorCodes:        domain.MergeErrorCodes(nil, cb.ErrorCodes),
		GeneratedAt:       generatedAt.UTC(),
		ProfileID:         cb.ProfileID,
		SendingLocationID: cb.SendingLocationID,
	}
	if cb.Extra != nil {
		ev.Extra = domain.DeliveryExtra{SegmentCount: cb.Extra.NumSegments, MediaCount: cb.Extra.NumMedia}
	}
	if err := ev.Validate(); err != nil {
		return domain.DeliveryEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedCallback, err)
	}
	return ev, nil
}

// DeliveryReportProcessor reconciles provider callbacks into message state.
type DeliveryReportProcessor struct {
	contexts    ContextSource
	policy      domain.OrderingPolicy
	maxAttempts int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

func NewDeliveryReportProcessor(contexts ContextSource, policy domain.OrderingPolicy, logger *zap.Logger) (*DeliveryReportProcessor, error) {
	if contexts == nil {
		return nil, fmt.Errorf("context source is required")
	}
	if policy == "" {
		policy = domain.OrderingTerminalPrecedence
	}
	if !policy.IsValid() {
		return nil, fmt.Errorf("%w: invalid ordering policy %q", domain.ErrValidation, policy)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryReportProcessor{
		contexts:    contexts,
		policy:      policy,
		maxAttempts: defaultMaxApplyAttempts,
		logger:      logger,
	}, nil
}

func (p *DeliveryReportProcessor) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Apply parses and reconciles one callback. A stale event still contributes its
// error codes. Unknown messages and events that change nothing are Ignored
// without error.
func (p *DeliveryReportProcessor) Apply(ctx context.Context, raw []byte) (Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := observability.WithContextLogger(p.logger, ctx)

	ev, err := ParseDeliveryEvent(raw)
	if err != nil {
		p.metrics.IncDeliveryReport("malformed")
		logger.Warn("malformed delivery callback", zap.Error(err))
		return OutcomeIgnored, err
	}
	logger = logger.With(
		zap.String("messageRef", ev.MessageID),
		zap.String("eventType", ev.EventType.String()),
		zap.Time("generatedAt", ev.GeneratedAt),
	)

	tc, err := p.contexts.ContextFor(ctx, tenantctx.HostKeyFromContext(ctx))
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("failed to resolve tenant context: %w", err)
	}

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		msg, err := tc.Messages.FindByReference(ctx, ev.MessageID)
		if errors.Is(err, domain.ErrNotFound) {
			p.metrics.IncDeliveryReport("unknown_message")
			logger.Info("delivery callback for unknown message ignored")
			return OutcomeIgnored, nil
		}
		if err != nil {
			return OutcomeIgnored, fmt.Errorf("failed to load message: %w", err)
		}

		next, accepted := domain.Reconcile(*msg, ev, p.policy)
		if !accepted {
			p.metrics.IncDeliveryReport("stale")
			logger.Debug("stale or duplicate delivery event ignored",
				zap.String("messageId", msg.ID),
				zap.String("status", msg.Status.String()),
			)
			return OutcomeIgnored, nil
		}

		err = tc.Messages.CompareAndSwap(ctx, &next, msg.Version)
		if errors.Is(err, domain.ErrConflict) {
			logger.Debug("concurrent update, reloading message",
				zap.String("messageId", msg.ID),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return OutcomeIgnored, fmt.Errorf("failed to persist reconciled message: %w", err)
		}

		p.metrics.IncDeliveryReport("applied")
		logger.Info("delivery event applied",
			zap.String("messageId", msg.ID),
			zap.String("tenantId", msg.TenantID.String()),
			zap.String("status", next.Status.String()),
			zap.Strings("errorCodes", next.ErrorCodes),
		)
		return OutcomeApplied, nil
	}

	p.metrics.IncDeliveryReport("conflict")
	return OutcomeIgnored, fmt.Errorf("%w: message %s kept changing during reconciliation", domain.ErrConflict, ev.MessageID)
}
