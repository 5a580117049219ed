package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"github.com/kursadbilgin/sms-dispatch/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultPendingScanInterval = time.Minute
	defaultPendingStaleAfter   = 15 * time.Minute
	defaultPendingScanLimit    = 50
	pendingScanLockName        = "pending-monitor"
)

// Locker grants a cross-instance lock for one scan.
type Locker interface {
	TryLock(ctx context.Context, name string) (unlock func(context.Context) error, acquired bool, err error)
}

// PendingMonitor reports messages stuck in Pending, which happens when a process
// stops between persisting a message and recording the provider outcome. It
// never modifies messages: whether such a send reached the provider is unknown.
type PendingMonitor struct {
	messages   repository.MessageRepository
	locker     Locker
	logger     *zap.Logger
	metrics    *observability.Metrics
	interval   time.Duration
	staleAfter time.Duration
	limit      int
	now        func() time.Time
}

// NewPendingMonitor builds a monitor. A nil locker lets every instance scan.
func NewPendingMonitor(
	messages repository.MessageRepository,
	locker Locker,
	interval time.Duration,
	staleAfter time.Duration,
	logger *zap.Logger,
) (*PendingMonitor, error) {
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if interval <= 0 {
		interval = defaultPendingScanInterval
	}
	if staleAfter <= 0 {
		staleAfter = defaultPendingStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PendingMonitor{
		messages:   messages,
		locker:     locker,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		limit:      defaultPendingScanLimit,
		now:        time.Now,
	}, nil
}

func (m *PendingMonitor) SetMetrics(metrics *observability.Metrics) {
	if m == nil {
		return
	}
	m.metrics = metrics
}

func (m *PendingMonitor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := m.scan(ctx); err != nil && ctx.Err() == nil {
		m.logger.Error("pending monitor initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.logger.Error("pending monitor scan failed", zap.Error(err))
			}
		}
	}
}

func (m *PendingMonitor) scan(ctx context.Context) error {
	if m.locker != nil {
		unlock, acquired, err := m.locker.TryLock(ctx, pendingScanLockName)
		if err != nil {
			return err
		}
		if !acquired {
			m.logger.Debug("pending scan skipped, another instance holds the lock")
			return nil
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("failed to release pending scan lock", zap.Error(err))
			}
		}()
	}

	cutoff := m.now().UTC().Add(-m.staleAfter)
	total, err := m.messages.CountPendingOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to count stale pending messages: %w", err)
	}
	m.metrics.SetPendingStale(total)
	if total == 0 {
		return nil
	}

	stale, err := m.messages.ListPendingOlderThan(ctx, cutoff, m.limit)
	if err != nil {
		return fmt.Errorf("failed to list stale pending messages: %w", err)
	}

	ids := make([]string, 0, len(stale))
	for i := range stale {
		ids = append(ids, stale[i].ID)
	}
	m.logger.Warn("messages stuck in pending",
		zap.Int64("count", total),
		zap.Duration("staleAfter", m.staleAfter),
		zap.Strings("messageIds", ids),
	)
	return nil
}
