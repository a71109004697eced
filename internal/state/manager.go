package state

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/evihost/unifi-cam-proxy/internal/config"
	"github.com/evihost/unifi-cam-proxy/internal/logger"
)

// System state keys
const (
	KeyAlertStreamLastConnect    = "alert_stream.last_connect"
	KeyAlertStreamLastDisconnect = "alert_stream.last_disconnect"
	KeyPTZSupported              = "ptz.supported"
)

// Manager manages adapter state persistence and recovery
type Manager struct {
	db     *Database
	logger *logger.Logger
	mu     sync.RWMutex
}

// NewManager creates a new state manager backed by the configured database
func NewManager(cfg *config.Config, log *logger.Logger) (*Manager, error) {
	return NewManagerWithPath(cfg.DatabasePath(), log)
}

// NewManagerWithPath creates a state manager for an explicit database file
func NewManagerWithPath(dbPath string, log *logger.Logger) (*Manager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Manager{
		db:     db,
		logger: log,
	}, nil
}

// Close closes the state manager and database
func (m *Manager) Close() error {
	return m.db.Close()
}

// GetDB returns the database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db.GetDB()
}

// Path returns the database file path
func (m *Manager) Path() string {
	return m.db.dbPath
}

// Ping checks the database connection
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.GetDB().PingContext(ctx)
}

// SaveSystemState saves a system state value
func (m *Manager) SaveSystemState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO system_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`

	_, err := m.db.GetDB().ExecContext(ctx, query, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save system state: %w", err)
	}

	return nil
}

// GetSystemState retrieves a system state value
func (m *Manager) GetSystemState(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var value string
	query := `SELECT value FROM system_state WHERE key = ?`
	err := m.db.GetDB().QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get system state: %w", err)
	}

	return value, nil
}

// RecoveredState represents the state recovered on startup
type RecoveredState struct {
	ClosedIntervals int64
	SystemState     map[string]string
}

// RecoverState runs on startup. Motion intervals left open by an unclean
// shutdown are closed at their start time.
func (m *Manager) RecoverState(ctx context.Context) (*RecoveredState, error) {
	m.logger.Info("Recovering adapter state")

	closed, err := m.closeDanglingIntervals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to close dangling motion intervals: %w", err)
	}

	systemState, err := m.recoverSystemState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover system state: %w", err)
	}

	m.logger.Info("State recovery complete",
		"closed_intervals", closed,
		"system_state_keys", len(systemState),
	)

	return &RecoveredState{
		ClosedIntervals: closed,
		SystemState:     systemState,
	}, nil
}

func (m *Manager) closeDanglingIntervals(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result, err := m.db.GetDB().ExecContext(ctx,
		`UPDATE motion_intervals SET ended_at = started_at WHERE ended_at IS NULL`,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// recoverSystemState recovers system state
func (m *Manager) recoverSystemState(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT key, value FROM system_state`
	rows, err := m.db.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	state := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		state[key] = value
	}

	return state, rows.Err()
}

// Cleanup removes finished records older than olderThan
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	queries := []string{
		`DELETE FROM motion_intervals WHERE ended_at IS NOT NULL AND ended_at < ?`,
		`DELETE FROM snapshots WHERE taken_at < ?`,
		`DELETE FROM ptz_moves WHERE moved_at < ?`,
	}

	var total int64
	for _, q := range queries {
		result, err := m.db.GetDB().ExecContext(ctx, q, cutoff)
		if err != nil {
			return fmt.Errorf("failed to cleanup old records: %w", err)
		}
		n, _ := result.RowsAffected()
		total += n
	}

	m.logger.Debug("Cleaned up old records", "count", total)
	return nil
}
