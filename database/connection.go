package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// BootstrapConfig holds the raw connection parameters used before GORM
// takes over: ensuring the target database exists and verifying the
// server is reachable.
type BootstrapConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

func (cfg BootstrapConfig) dsn(dbname string) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, dbname,
	)
}

// EnsureDatabase connects to the maintenance database and creates the
// target database if it does not exist yet. Safe to call on every
// startup.
func EnsureDatabase(cfg BootstrapConfig) error {
	conn, err := sql.Open("postgres", cfg.dsn("postgres"))
	if err != nil {
		return fmt.Errorf("failed to open maintenance connection: %w", err)
	}
	defer conn.Close()

	if err := conn.Ping(); err != nil {
		return fmt.Errorf("failed to ping database server: %w", err)
	}

	var exists bool
	err = conn.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", cfg.DBName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check database existence: %w", err)
	}
	if exists {
		return nil
	}

	// Identifiers cannot be parameterized; the name comes from trusted
	// configuration, quoting guards against accidental breakage only.
	quoted := `"` + strings.ReplaceAll(cfg.DBName, `"`, `""`) + `"`
	if _, err := conn.Exec("CREATE DATABASE " + quoted); err != nil {
		return fmt.Errorf("failed to create database %s: %w", cfg.DBName, err)
	}
	return nil
}

// VerifyConnection opens a pooled raw connection to the target database
// and pings it, returning the handle for callers that need plain
// database/sql access.
func VerifyConnection(cfg BootstrapConfig) (*sql.DB, error) {
	conn, err := sql.Open("postgres", cfg.dsn(cfg.DBName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)
	conn.SetConnMaxIdleTime(2 * time.Minute)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return conn, nil
}
