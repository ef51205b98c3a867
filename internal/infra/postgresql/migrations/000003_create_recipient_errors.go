package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notifier-engine/internal/repository"
	"gorm.io/gorm"
)

func createRecipientErrorsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_recipient_errors",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RecipientErrorModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_recipient_errors_request ON recipient_errors (request_id, recipient_id, created_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RecipientErrorModel{})
		},
	}
}
