// Package database opens the manager's sqlite store and applies its
// schema migrations.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/bedrockmgr/bedrock-server-manager/internal/config"
)

// connPragmas apply to every new connection. WAL keeps the CLI actions
// fired by the scheduler from blocking against a running serve process;
// busy_timeout covers the writes that still collide.
var connPragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
	"synchronous(NORMAL)",
}

// DB wraps the open database handle.
type DB struct {
	*sql.DB
}

// NewDB opens the database at cfg.Path, creating the parent directory
// if needed, and sizes the connection pool from cfg.MaxConnections.
func NewDB(cfg config.DatabaseConfig) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn, err := dsnFor(cfg.Path)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 25
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(min(maxConns, 5))

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{sqlDB}, nil
}

// dsnFor renders the file URI with the per-connection pragmas.
func dsnFor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve database path: %w", err)
	}

	// The driver wants forward slashes in file URIs, Windows included.
	abs = strings.ReplaceAll(abs, `\`, "/")

	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(abs)
	for i, pragma := range connPragmas {
		if i == 0 {
			b.WriteString("?_pragma=")
		} else {
			b.WriteString("&_pragma=")
		}
		b.WriteString(pragma)
	}
	return b.String(), nil
}

// Migrate applies, in order, every migration not yet recorded in the
// migrations table. Each migration runs in its own transaction.
func (db *DB) Migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := db.appliedVersions()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := db.apply(m); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) appliedVersions() (map[string]bool, error) {
	rows, err := db.Query("SELECT version FROM migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (db *DB) apply(m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration %s: %w", m.Version, err)
	}

	if _, err := tx.Exec(m.Up); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
	}
	if _, err := tx.Exec("INSERT INTO migrations (version, applied_at) VALUES (?, datetime('now'))", m.Version); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
	}
	return tx.Commit()
}
