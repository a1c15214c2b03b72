package config

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Database configuration
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string

	// Redis configuration (optional settings cache)
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Logging
	LogLevel  string
	LogFormat string // json or console

	// Storage configuration
	Storage StorageConfig
}

// StorageConfig holds persistence defaults. The storage mode itself
// lives in the storage_settings table so operators can redirect it at
// runtime; these values seed that table and serve as the fail-soft
// fallback when the table is unreachable.
type StorageConfig struct {
	DefaultSymbol   string
	PrimaryBackend  string
	FallbackBackend string
	ProcessedDir    string
	PatternsDir     string
	AnalysisDir     string
	BulkChunkSize   int
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvOrDefault("DB_PORT", "5432"),
		DatabaseName:     getEnvOrDefault("DB_NAME", "pattern_data"),
		DatabaseUser:     getEnvOrDefault("DB_USER", "pattern"),
		DatabasePassword: getEnvOrDefault("DB_PASSWORD", "pattern123"),

		RedisEnabled:  getEnvOrDefault("REDIS_ENABLED", "false") == "true",
		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "console"),

		Storage: StorageConfig{
			DefaultSymbol:   getEnvOrDefault("STORAGE_DEFAULT_SYMBOL", "XAU"),
			PrimaryBackend:  getEnvOrDefault("STORAGE_PRIMARY", "database"),
			FallbackBackend: getEnvOrDefault("STORAGE_FALLBACK", "file"),
			ProcessedDir:    getEnvOrDefault("STORAGE_PROCESSED_DIR", "data/processed"),
			PatternsDir:     getEnvOrDefault("STORAGE_PATTERNS_DIR", "data/patterns"),
			AnalysisDir:     getEnvOrDefault("STORAGE_ANALYSIS_DIR", "data/analysis"),
			BulkChunkSize:   getEnvInt("STORAGE_BULK_CHUNK_SIZE", 500),
		},
	}
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
