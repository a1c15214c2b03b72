package database

import (
	"fmt"

	models "patternstore/database/models_pkg"
	"patternstore/database/types"
)

// InitSchema performs auto-migration for all persisted entities.
// Natural-key unique indexes are declared on the models themselves, so
// AutoMigrate creates them; the extra indexes below only speed up the
// per-timeframe aggregation paths.
func (d *Database) InitSchema() error {
	err := d.db.AutoMigrate(
		&models.ProcessedRecord{},
		&models.PatternTemplate{},
		&models.PatternInstance{},
		&models.Visualization{},
		&models.PerformanceRecord{},
		&models.StorageSetting{},
	)
	if err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	// Composite index for the representative lookup: per timeframe and
	// cluster, instances are scanned newest-first.
	d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_instances_cluster_recent
		ON pattern_instances (timeframe, cluster_id, start_timestamp DESC)
	`)

	return nil
}

// SeedDefaultSettings inserts the storage-mode and file-path settings
// rows if they are absent. Existing operator-set values are left alone.
func (d *Database) SeedDefaultSettings(defaults map[string]types.JSONMap) error {
	for key, value := range defaults {
		var count int64
		if err := d.db.Model(&models.StorageSetting{}).Where("setting_key = ?", key).Count(&count).Error; err != nil {
			return fmt.Errorf("SeedDefaultSettings: %w", err)
		}
		if count > 0 {
			continue
		}
		setting := models.StorageSetting{Key: key, Value: value}
		if err := d.db.Create(&setting).Error; err != nil {
			return fmt.Errorf("SeedDefaultSettings: %w", err)
		}
	}
	return nil
}
