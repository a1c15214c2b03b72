// Package testutil provides an in-memory relational backend for
// repository tests, so go test needs no running Postgres.
package testutil

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"patternstore/database"
)

// OpenTestDB opens an in-memory SQLite database with the full schema
// migrated. The pool is pinned to a single connection because each
// SQLite :memory: connection is its own database.
func OpenTestDB(t *testing.T) *database.Database {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	wrapped := database.FromGorm(db)
	if err := wrapped.InitSchema(); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	t.Cleanup(func() { _ = wrapped.Close() })
	return wrapped
}

// BreakConnection force-closes the underlying connection so every
// subsequent operation on the handle fails. Used to simulate a primary
// backend outage mid-run.
func BreakConnection(t *testing.T, d *database.Database) {
	t.Helper()
	sqlDB, err := d.DB().DB()
	if err != nil {
		t.Fatalf("unwrap test database: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close test database: %v", err)
	}
}
