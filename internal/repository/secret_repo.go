package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SecretRepository interface {
	// Upsert writes the ciphertext for ref in a single statement; concurrent writers
	// resolve to last-writer-wins.
	Upsert(ctx context.Context, ref domain.SecretRef, payload []byte) (*domain.SecretInfo, error)
	Get(ctx context.Context, ref domain.SecretRef) (*domain.TenantSecret, error)
	Stat(ctx context.Context, ref domain.SecretRef) (*domain.SecretInfo, error)
}

type GormSecretRepo struct {
	db *gorm.DB
}

func NewGormSecretRepo(db *gorm.DB) *GormSecretRepo {
	return &GormSecretRepo{db: db}
}

func (r *GormSecretRepo) Upsert(ctx context.Context, ref domain.SecretRef, payload []byte) (*domain.SecretInfo, error) {
	model := TenantSecretModel{
		Ref:              ref.String(),
		EncryptedPayload: payload,
		Revision:         1,
	}

	var info *domain.SecretInfo
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "ref"}},
			DoUpdates: clause.Assignments(map[string]any{
				"encrypted_payload": payload,
				"revision":          gorm.Expr("tenant_secrets.revision + 1"),
				"updated_at":        gorm.Expr("NOW()"),
			}),
		}).Create(&model).Error
		if err != nil {
			return err
		}

		info, err = statWith(tx, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (r *GormSecretRepo) Get(ctx context.Context, ref domain.SecretRef) (*domain.TenantSecret, error) {
	var model TenantSecretModel
	err := r.db.WithContext(ctx).First(&model, "ref = ?", ref.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return secretModelToDomain(&model), nil
}

func (r *GormSecretRepo) Stat(ctx context.Context, ref domain.SecretRef) (*domain.SecretInfo, error) {
	return statWith(r.db.WithContext(ctx), ref)
}

func statWith(db *gorm.DB, ref domain.SecretRef) (*domain.SecretInfo, error) {
	var model TenantSecretModel
	err := db.Select("ref", "revision", "updated_at").
		First(&model, "ref = ?", ref.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &domain.SecretInfo{Ref: ref, Revision: model.Revision, UpdatedAt: model.UpdatedAt}, nil
}
