package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notifier-engine/internal/repository"
	"gorm.io/gorm"
)

func createOutboxEventsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_outbox_events",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.OutboxEventModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_outbox_events_pending ON outbox_events (created_at) WHERE published_at IS NULL`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.OutboxEventModel{})
		},
	}
}
