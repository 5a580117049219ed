package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createTenantSecretsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_tenant_secrets",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.TenantSecretModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.TenantSecretModel{})
		},
	}
}
