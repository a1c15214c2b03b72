// Package settings implements the storage mode registry: the per-call
// lookup that decides which backend is primary, which is fallback, and
// where the file backend roots live.
package settings

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"patternstore/cache"
	models "patternstore/database/models_pkg"
	"patternstore/database/types"
	"patternstore/logger"
)

// Setting keys in the storage_settings table
const (
	KeyStorageMode = "storage_mode"
	KeyFilePaths   = "file_storage_paths"
)

// cacheTTL keeps registry reads cheap without letting an operator
// update go unnoticed for more than a few seconds.
const cacheTTL = 5 * time.Second

// DefaultMode is the hard-coded mode used when the configuration store
// is unreachable. Persistence decisions must never block on a
// configuration lookup, so resolution fails soft instead of erroring.
func DefaultMode() types.StorageMode {
	return types.StorageMode{
		Primary:  types.BackendDatabase,
		Fallback: types.BackendFile,
	}
}

// DefaultPaths is the hard-coded file-backend layout used when the
// configuration store is unreachable.
func DefaultPaths() types.FilePaths {
	return types.FilePaths{
		Processed: "data/processed",
		Patterns:  "data/patterns",
		Analysis:  "data/analysis",
	}
}

// Registry resolves the storage mode and file paths for every
// repository operation. Reads hit the optional Redis cache first, then
// the storage_settings table, then the hard-coded defaults.
type Registry struct {
	db       *gorm.DB
	cache    *cache.RedisClient
	log      *logger.Logger
	defaults struct {
		mode  types.StorageMode
		paths types.FilePaths
	}
}

// NewRegistry creates a registry over the given GORM handle. The
// defaults arguments override the hard-coded fallbacks when non-zero,
// letting config seed different roots per deployment.
func NewRegistry(db *gorm.DB, log *logger.Logger) *Registry {
	r := &Registry{db: db, log: log}
	r.defaults.mode = DefaultMode()
	r.defaults.paths = DefaultPaths()
	return r
}

// SetDefaults overrides the fail-soft defaults with config-derived values
func (r *Registry) SetDefaults(mode types.StorageMode, paths types.FilePaths) {
	if mode.Primary != "" {
		r.defaults.mode = mode
	}
	if paths.Processed != "" {
		r.defaults.paths = paths
	}
}

// SetCache attaches an optional Redis cache in front of the settings table
func (r *Registry) SetCache(c *cache.RedisClient) {
	r.cache = c
}

// ResolveMode returns the current {primary, fallback} configuration.
// Never returns an error: any failure resolves to the defaults.
func (r *Registry) ResolveMode() types.StorageMode {
	var mode types.StorageMode
	if r.lookup(KeyStorageMode, &mode) && mode.Primary != "" {
		return mode
	}
	return r.defaults.mode
}

// ResolvePaths returns the current file-backend roots per data family.
// Never returns an error: any failure resolves to the defaults.
func (r *Registry) ResolvePaths() types.FilePaths {
	var paths types.FilePaths
	if r.lookup(KeyFilePaths, &paths) && paths.Processed != "" {
		return paths
	}
	return r.defaults.paths
}

// UpdateMode persists a new storage mode. This is the only mutation
// path besides UpdatePaths; data operations never write settings.
func (r *Registry) UpdateMode(mode types.StorageMode) error {
	return r.update(KeyStorageMode, types.JSONMap{
		"primary":  string(mode.Primary),
		"fallback": string(mode.Fallback),
	})
}

// UpdatePaths persists new file-backend roots
func (r *Registry) UpdatePaths(paths types.FilePaths) error {
	return r.update(KeyFilePaths, types.JSONMap{
		"processed_data": paths.Processed,
		"patterns":       paths.Patterns,
		"analysis":       paths.Analysis,
	})
}

// lookup reads one setting into dest, trying cache then table. Returns
// false when the value is unavailable from both.
func (r *Registry) lookup(key string, dest interface{}) bool {
	ctx := context.Background()
	cacheKey := "storage_settings:" + key

	if r.cache != nil {
		if err := r.cache.Get(ctx, cacheKey, dest); err == nil {
			return true
		}
	}

	if r.db == nil {
		return false
	}

	var setting models.StorageSetting
	err := r.db.Where("setting_key = ?", key).First(&setting).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			r.log.Warn("settings lookup failed, using defaults",
				logger.String("key", key), logger.Error(err))
		}
		return false
	}

	// Round-trip through JSON to decode the map into the typed dest
	raw, err := json.Marshal(setting.Value)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, cacheKey, dest, cacheTTL); err != nil {
			r.log.Debug("settings cache write failed", logger.Error(err))
		}
	}
	return true
}

func (r *Registry) update(key string, value types.JSONMap) error {
	setting := models.StorageSetting{Key: key, Value: value}
	if err := r.db.Save(&setting).Error; err != nil {
		return err
	}
	if r.cache != nil {
		if err := r.cache.Delete(context.Background(), "storage_settings:"+key); err != nil {
			r.log.Debug("settings cache invalidation failed", logger.Error(err))
		}
	}
	return nil
}
