// Package repotest opens a migrated in-memory store for tests.
package repotest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/kursadbilgin/notifier-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/notifier-engine/internal/infra/postgresql/migrations"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated sqlite database private to the test. The pool is
// limited to one connection so every statement sees the same memory database.
// SQL logging is silenced since not-found lookups are expected in tests.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	cfg := postgresql.GormConfig()
	cfg.Logger = logger.Default.LogMode(logger.Silent)
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := migrations.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
