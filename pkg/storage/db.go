// Package storage owns the embedded SQLite database shared by the
// transcript, profile, and workflow checkpoint stores.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB wraps the embedded database handle. It is opened once at startup and
// injected into every store; stores never open their own connections.
type DB struct {
	sql    *sql.DB
	logger zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Path   string
	Logger zerolog.Logger
}

// Open opens (creating if necessary) the embedded database.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	d := &DB{
		sql:    db,
		logger: cfg.Logger,
	}

	d.logger.Info().Str("path", cfg.Path).Msg("Database opened")
	return d, nil
}

// SQL returns the underlying sql.DB handle
func (d *DB) SQL() *sql.DB {
	return d.sql
}

// Close closes the database
func (d *DB) Close() error {
	d.logger.Info().Msg("Closing database")
	return d.sql.Close()
}
