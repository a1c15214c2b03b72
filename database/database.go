// Package database provides the relational backend for the pattern
// persistence core.
//
// This package includes:
//   - Database connection management using GORM and PostgreSQL
//   - Schema migration for all persisted entities
//   - Shared error types for the repository boundary
//
// Key Concepts:
//   - Natural-key unique indexes so bulk re-runs upsert instead of duplicating
//   - JSON columns for open-ended feature and parameter maps
//   - Repositories live in subpackages (processed, patterns, analysis,
//     settings) and receive the *gorm.DB held here
//
// Data Models:
//
//	All data models (ProcessedRecord, PatternTemplate, PatternInstance,
//	Visualization, PerformanceRecord, StorageSetting) are defined in the
//	models_pkg package to avoid circular import dependencies.
package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	models "patternstore/database/models_pkg"
)

// Database holds the GORM database connection and provides access to the
// underlying DB instance. It is the central connection point for all
// repository operations.
type Database struct {
	db *gorm.DB
}

// DB returns the underlying GORM database instance for direct access when needed.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Connect establishes database connection using GORM
func Connect(host string, port int, dbname, user, password string) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		host, port, dbname, user, password)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Silent logging for production
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Database{db: db}, nil
}

// FromGorm wraps an existing GORM handle. Used by tests and by callers
// that manage their own connection lifecycle.
func FromGorm(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ============================================================================
// Backward Compatibility Type Aliases
// ============================================================================

// These type aliases let callers import entity types from the database
// package directly instead of reaching into models_pkg.

type ProcessedRecord = models.ProcessedRecord
type PatternTemplate = models.PatternTemplate
type PatternInstance = models.PatternInstance
type Visualization = models.Visualization
type PerformanceRecord = models.PerformanceRecord
type StorageSetting = models.StorageSetting
