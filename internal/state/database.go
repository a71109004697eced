package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Database manages the SQLite database for state persistence
type Database struct {
	db     *sql.DB
	dbPath string
}

// NewDatabase creates a new database connection
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := ensureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes well
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	database := &Database{
		db:     db,
		dbPath: dbPath,
	}

	// Initialize schema
	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// GetDB returns the underlying database connection
func (d *Database) GetDB() *sql.DB {
	return d.db
}

// initSchema initializes the database schema
func (d *Database) initSchema() error {
	schema := `
	-- System state table
	CREATE TABLE IF NOT EXISTS system_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Motion intervals, one row per start/stop edge pair
	CREATE TABLE IF NOT EXISTS motion_intervals (
		id TEXT PRIMARY KEY,
		camera TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP, -- NULL while motion is active
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Snapshots served to the host
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		camera TEXT NOT NULL,
		file_path TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		taken_at TIMESTAMP NOT NULL
	);

	-- Absolute PTZ moves in device units
	CREATE TABLE IF NOT EXISTS ptz_moves (
		id TEXT PRIMARY KEY,
		camera TEXT NOT NULL,
		azimuth INTEGER NOT NULL,
		elevation INTEGER NOT NULL,
		zoom INTEGER NOT NULL,
		moved_at TIMESTAMP NOT NULL
	);

	-- Indexes for performance
	CREATE INDEX IF NOT EXISTS idx_motion_camera_started ON motion_intervals(camera, started_at);
	CREATE INDEX IF NOT EXISTS idx_motion_open ON motion_intervals(ended_at);
	CREATE INDEX IF NOT EXISTS idx_snapshots_taken ON snapshots(taken_at);
	CREATE INDEX IF NOT EXISTS idx_ptz_moves_moved ON ptz_moves(moved_at);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// ensureDir ensures a directory exists
func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
