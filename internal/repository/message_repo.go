package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

type MessageRepository interface {
	Create(ctx context.Context, m *domain.OutboundMessage) error
	GetForTenant(ctx context.Context, tenantID domain.TenantID, id string) (*domain.OutboundMessage, error)
	// FindByReference resolves a callback reference, which is either the internal id
	// or the provider's own message id.
	FindByReference(ctx context.Context, ref string) (*domain.OutboundMessage, error)
	MarkSent(ctx context.Context, id string, providerMessageID string) error
	MarkFailed(ctx context.Context, id string, errorCodes []string) error
	// CompareAndSwap persists a reconciled state only if the row still holds expectedVersion.
	CompareAndSwap(ctx context.Context, next *domain.OutboundMessage, expectedVersion int64) error
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.OutboundMessage, error)
	CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormMessageRepo struct {
	db *gorm.DB
}

func NewGormMessageRepo(db *gorm.DB) *GormMessageRepo {
	return &GormMessageRepo{db: db}
}

func (r *GormMessageRepo) Create(ctx context.Context, m *domain.OutboundMessage) error {
	model := messageModelFromDomain(m)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if m != nil {
		*m = *messageModelToDomain(model)
	}
	return nil
}

func (r *GormMessageRepo) GetForTenant(ctx context.Context, tenantID domain.TenantID, id string) (*domain.OutboundMessage, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}

	var model OutboundMessageModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID.String()).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return messageModelToDomain(&model), nil
}

func (r *GormMessageRepo) FindByReference(ctx context.Context, ref string) (*domain.OutboundMessage, error) {
	var model OutboundMessageModel

	if _, err := uuid.Parse(ref); err == nil {
		err := r.db.WithContext(ctx).First(&model, "id = ?", ref).Error
		if err == nil {
			return messageModelToDomain(&model), nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	err := r.db.WithContext(ctx).
		Where("provider_message_id = ?", ref).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return messageModelToDomain(&model), nil
}

func (r *GormMessageRepo) MarkSent(ctx context.Context, id string, providerMessageID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&OutboundMessageModel{}).
			Where("id = ? AND status = ?", id, domain.StatusPending).
			Updates(map[string]any{
				"status":              domain.StatusSent,
				"provider_message_id": providerMessageID,
				"version":             gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}

		// A callback already advanced the row; only the acknowledgement id is still missing.
		result = tx.Model(&OutboundMessageModel{}).
			Where("id = ? AND provider_message_id IS NULL", id).
			Updates(map[string]any{
				"provider_message_id": providerMessageID,
				"version":             gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConflict
		}
		return nil
	})
}

func (r *GormMessageRepo) MarkFailed(ctx context.Context, id string, errorCodes []string) error {
	codes := pq.StringArray(domain.MergeErrorCodes(nil, errorCodes))
	result := r.db.WithContext(ctx).
		Model(&OutboundMessageModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"status":      domain.StatusFailed,
			"error_codes": codes,
			"version":     gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormMessageRepo) CompareAndSwap(ctx context.Context, next *domain.OutboundMessage, expectedVersion int64) error {
	if next == nil {
		return domain.ErrValidation
	}

	codes := pq.StringArray(next.ErrorCodes)
	if codes == nil {
		codes = pq.StringArray{}
	}

	result := r.db.WithContext(ctx).
		Model(&OutboundMessageModel{}).
		Where("id = ? AND version = ?", next.ID, expectedVersion).
		Updates(map[string]any{
			"status":          next.Status,
			"error_codes":     codes,
			"last_event_at":   next.LastEventAt,
			"last_event_type": next.LastEventType,
			"version":         expectedVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	next.Version = expectedVersion + 1
	return nil
}

func (r *GormMessageRepo) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.OutboundMessage, error) {
	if limit < 1 {
		limit = 100
	}

	var models []OutboundMessageModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.StatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	messages := make([]domain.OutboundMessage, 0, len(models))
	for i := range models {
		messages = append(messages, *messageModelToDomain(&models[i]))
	}
	return messages, nil
}

func (r *GormMessageRepo) CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&OutboundMessageModel{}).
		Where("status = ? AND created_at < ?", domain.StatusPending, cutoff).
		Count(&total).Error
	return total, err
}
