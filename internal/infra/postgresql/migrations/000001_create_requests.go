package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notifier-engine/internal/repository"
	"gorm.io/gorm"
)

func createRequestsTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_requests",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(
				&repository.RequestModel{},
				&repository.RequestRuleModel{},
				&repository.RequestRecipientModel{},
			); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_correlation_id ON notification_requests (correlation_id)`,
				`CREATE INDEX IF NOT EXISTS idx_requests_state_updated ON notification_requests (state, updated_at)`,
				`CREATE INDEX IF NOT EXISTS idx_requests_completed_at ON notification_requests (completed_at) WHERE state = 'COMPLETED'`,
				`CREATE INDEX IF NOT EXISTS idx_request_recipients_outstanding ON request_recipients (request_id, membership) WHERE membership IN ('TO_SCHEDULE', 'SCHEDULED')`,
				`CREATE INDEX IF NOT EXISTS idx_request_recipients_to_schedule ON request_recipients (updated_at) WHERE membership = 'TO_SCHEDULE'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.RequestRecipientModel{},
				&repository.RequestRuleModel{},
				&repository.RequestModel{},
			)
		},
	}
}
