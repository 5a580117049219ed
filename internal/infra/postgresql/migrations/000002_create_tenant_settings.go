package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createTenantSettingsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_tenant_settings",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.TenantSettingsModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.TenantSettingsModel{})
		},
	}
}
