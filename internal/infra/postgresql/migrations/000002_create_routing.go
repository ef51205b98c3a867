package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notifier-engine/internal/repository"
	"gorm.io/gorm"
)

func createRoutingTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_routing",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(
				&repository.RuleModel{},
				&repository.RuleRecipientModel{},
				&repository.RecipientModel{},
			); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_rules_active ON rules (active)`,
				`CREATE INDEX IF NOT EXISTS idx_rule_recipients_recipient ON rule_recipients (recipient_id)`,
				`CREATE INDEX IF NOT EXISTS idx_recipients_direct ON recipients (direct_notification_enabled)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.RuleRecipientModel{},
				&repository.RuleModel{},
				&repository.RecipientModel{},
			)
		},
	}
}
