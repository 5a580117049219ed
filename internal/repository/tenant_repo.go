package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TenantRepository interface {
	GetSettings(ctx context.Context, tenantID domain.TenantID) (*domain.TenantConfig, error)
	UpsertSettings(ctx context.Context, cfg *domain.TenantConfig) error
}

type GormTenantRepo struct {
	db *gorm.DB
}

func NewGormTenantRepo(db *gorm.DB) *GormTenantRepo {
	return &GormTenantRepo{db: db}
}

func (r *GormTenantRepo) GetSettings(ctx context.Context, tenantID domain.TenantID) (*domain.TenantConfig, error) {
	var model TenantSettingsModel
	err := r.db.WithContext(ctx).First(&model, "tenant_id = ?", tenantID.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return settingsModelToDomain(&model), nil
}

func (r *GormTenantRepo) UpsertSettings(ctx context.Context, cfg *domain.TenantConfig) error {
	if cfg == nil {
		return domain.ErrValidation
	}
	if err := cfg.TenantID.Validate(); err != nil {
		return err
	}

	model := settingsModelFromDomain(cfg)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"provider_base_url", "profile_id", "sending_location_id", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}
	*cfg = *settingsModelToDomain(model)
	return nil
}
