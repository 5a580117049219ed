package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"github.com/kursadbilgin/sms-dispatch/internal/queue"
	"go.uber.org/zap"
)

// SyncTrigger enqueues refresh jobs for the external sync worker and returns
// without waiting for them to run.
type SyncTrigger struct {
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	newID     func() string
}

func NewSyncTrigger(publisher queue.Publisher, logger *zap.Logger) (*SyncTrigger, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SyncTrigger{
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func (s *SyncTrigger) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Refresh enqueues one job per sync kind. Either all of them are enqueued or
// none is and an error is returned.
func (s *SyncTrigger) Refresh(ctx context.Context, tenantID domain.TenantID, externalSystemID string) ([]domain.SyncJobHandle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := tenantID.Validate(); err != nil {
		return nil, err
	}
	externalSystemID = strings.TrimSpace(externalSystemID)
	if externalSystemID == "" {
		return nil, fmt.Errorf("%w: external system id is required", domain.ErrValidation)
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	enqueuedAt := s.now().UTC()

	kinds := domain.SyncKinds()
	msgs := make([]queue.SyncJobMessage, 0, len(kinds))
	handles := make([]domain.SyncJobHandle, 0, len(kinds))
	for _, kind := range kinds {
		job := domain.SyncJob{
			ID:               s.newID(),
			TenantID:         tenantID,
			ExternalSystemID: externalSystemID,
			Kind:             kind,
			EnqueuedAt:       enqueuedAt,
		}
		if err := job.Validate(); err != nil {
			return nil, err
		}

		msg := queue.NewSyncJobMessage(job, correlationID)
		msgs = append(msgs, msg)
		handles = append(handles, domain.SyncJobHandle{JobID: job.ID, Kind: kind, Queue: msg.Queue()})
	}

	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("tenantId", tenantID.String()),
		zap.String("externalSystemId", externalSystemID),
	)

	if err := s.publisher.PublishBatch(ctx, msgs); err != nil {
		for _, kind := range kinds {
			s.metrics.IncSyncJob(kind.String(), "error")
		}
		logger.Error("failed to enqueue sync jobs", zap.Error(err))
		return nil, fmt.Errorf("failed to enqueue sync jobs: %w", err)
	}

	for _, h := range handles {
		s.metrics.IncSyncJob(h.Kind.String(), "enqueued")
		logger.Info("sync job enqueued",
			zap.String("jobId", h.JobID),
			zap.String("kind", h.Kind.String()),
			zap.String("queue", h.Queue),
		)
	}
	return handles, nil
}
