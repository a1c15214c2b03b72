// Package app wires the persistence stack together: configuration,
// logging, database bootstrap, the optional settings cache and the
// three repositories.
package app

import (
	"fmt"
	"strconv"

	"patternstore/cache"
	"patternstore/config"
	"patternstore/database"
	"patternstore/database/analysis"
	"patternstore/database/patterns"
	"patternstore/database/processed"
	"patternstore/database/settings"
	"patternstore/database/types"
	"patternstore/logger"
)

// App represents the wired persistence stack
type App struct {
	config   *config.Config
	log      *logger.Logger
	db       *database.Database
	redis    *cache.RedisClient
	registry *settings.Registry

	Processed *processed.Repository
	Patterns  *patterns.Repository
	Analysis  *analysis.Repository
}

// New creates a new application instance
func New(cfg *config.Config) *App {
	return &App{
		config: cfg,
		log:    logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}),
	}
}

// Start bootstraps the database, migrates the schema, seeds the
// settings table and constructs the repositories.
func (a *App) Start() error {
	bootstrap := database.BootstrapConfig{
		Host:     a.config.DatabaseHost,
		Port:     a.config.DatabasePort,
		User:     a.config.DatabaseUser,
		Password: a.config.DatabasePassword,
		DBName:   a.config.DatabaseName,
	}

	a.log.Info("ensuring database exists", logger.String("database", a.config.DatabaseName))
	if err := database.EnsureDatabase(bootstrap); err != nil {
		return fmt.Errorf("database bootstrap failed: %w", err)
	}
	raw, err := database.VerifyConnection(bootstrap)
	if err != nil {
		return fmt.Errorf("database verification failed: %w", err)
	}
	raw.Close()

	port, err := strconv.Atoi(a.config.DatabasePort)
	if err != nil {
		return fmt.Errorf("invalid database port: %w", err)
	}
	db, err := database.Connect(
		a.config.DatabaseHost,
		port,
		a.config.DatabaseName,
		a.config.DatabaseUser,
		a.config.DatabasePassword,
	)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	a.db = db

	if err := a.db.InitSchema(); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}

	storage := a.config.Storage
	if err := a.db.SeedDefaultSettings(map[string]types.JSONMap{
		settings.KeyStorageMode: {
			"primary":  storage.PrimaryBackend,
			"fallback": storage.FallbackBackend,
		},
		settings.KeyFilePaths: {
			"processed_data": storage.ProcessedDir,
			"patterns":       storage.PatternsDir,
			"analysis":       storage.AnalysisDir,
		},
	}); err != nil {
		return fmt.Errorf("settings seed failed: %w", err)
	}

	a.registry = settings.NewRegistry(a.db.DB(), a.log)
	a.registry.SetDefaults(
		types.StorageMode{
			Primary:  types.StorageBackend(storage.PrimaryBackend),
			Fallback: types.StorageBackend(storage.FallbackBackend),
		},
		types.FilePaths{
			Processed: storage.ProcessedDir,
			Patterns:  storage.PatternsDir,
			Analysis:  storage.AnalysisDir,
		},
	)

	if a.config.RedisEnabled {
		redisClient := cache.NewRedisClient(a.config.RedisHost, a.config.RedisPort, a.config.RedisPassword)
		if redisClient == nil {
			a.log.Warn("redis unreachable, settings cache disabled")
		} else {
			a.redis = redisClient
			a.registry.SetCache(redisClient)
		}
	}

	a.Processed = processed.NewRepository(a.db, a.registry, a.log, processed.Options{
		DefaultSymbol: storage.DefaultSymbol,
		ChunkSize:     storage.BulkChunkSize,
	})
	a.Patterns = patterns.NewRepository(a.db, a.registry, a.log, patterns.Options{
		DefaultSymbol: storage.DefaultSymbol,
		ChunkSize:     storage.BulkChunkSize,
	})
	a.Analysis = analysis.NewRepository(a.db, a.registry, a.log, analysis.Options{
		DefaultSymbol: storage.DefaultSymbol,
		ChunkSize:     storage.BulkChunkSize,
	})

	a.log.Info("persistence stack ready",
		logger.String("primary", storage.PrimaryBackend),
		logger.String("fallback", storage.FallbackBackend))
	return nil
}

// Registry exposes the storage mode registry for operational updates
func (a *App) Registry() *settings.Registry {
	return a.registry
}

// DB exposes the wrapped database handle
func (a *App) DB() *database.Database {
	return a.db
}

// Close releases the database and cache connections
func (a *App) Close() error {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis close failed", logger.Error(err))
		}
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
