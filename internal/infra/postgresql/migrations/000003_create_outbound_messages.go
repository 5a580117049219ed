package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createOutboundMessagesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_outbound_messages",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.OutboundMessageModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_outbound_messages_pending_created ON outbound_messages (created_at) WHERE status = 'PENDING'`,
				`ALTER TABLE outbound_messages DROP CONSTRAINT IF EXISTS chk_outbound_messages_status`,
				`ALTER TABLE outbound_messages ADD CONSTRAINT chk_outbound_messages_status CHECK (status IN ('PENDING','SENT','DELIVERED','FAILED','UNKNOWN'))`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.OutboundMessageModel{})
		},
	}
}
