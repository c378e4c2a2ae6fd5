package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/compass/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// FileName is the database file created under the base directory.
const FileName = "compass.db"

// Init initializes the SQLite database at baseDir/compass.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.compass.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	// Pragmas in the connection string apply to every pooled connection
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS events (
		  id         TEXT PRIMARY KEY,
		  title      TEXT,
		  location   TEXT,
		  start_at   INTEGER NOT NULL,
		  end_at     INTEGER NOT NULL,
		  all_day    INTEGER NOT NULL DEFAULT 0,
		  updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_at);
		CREATE INDEX IF NOT EXISTS idx_events_end ON events(end_at);

		CREATE TABLE IF NOT EXISTS syntheses (
		  event_id     TEXT PRIMARY KEY,
		  completed_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS decisions (
		  id            TEXT PRIMARY KEY,
		  trigger_name  TEXT NOT NULL,
		  previous_mode TEXT,
		  new_mode      TEXT NOT NULL,
		  confidence    TEXT NOT NULL,
		  reason        TEXT NOT NULL,
		  pinned        INTEGER NOT NULL DEFAULT 0,
		  decided_at    INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_decisions_decided
		ON decisions(decided_at DESC, id DESC);

		CREATE TABLE IF NOT EXISTS pin (
		  id     INTEGER PRIMARY KEY CHECK (id = 1),
		  mode   TEXT NOT NULL,
		  set_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS calendar_sync (
		  id        INTEGER PRIMARY KEY CHECK (id = 1),
		  synced_at INTEGER NOT NULL,
		  source    TEXT
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
