package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MotionInterval is one recorded period of motion
type MotionInterval struct {
	ID        string     `json:"id"`
	Camera    string     `json:"camera"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Duration returns the interval length, or the time since start while open
func (mi MotionInterval) Duration() time.Duration {
	if mi.EndedAt == nil {
		return time.Since(mi.StartedAt)
	}
	return mi.EndedAt.Sub(mi.StartedAt)
}

// StartMotionInterval opens a new interval for camera
func (m *Manager) StartMotionInterval(ctx context.Context, camera string, at time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	_, err := m.db.GetDB().ExecContext(ctx,
		`INSERT INTO motion_intervals (id, camera, started_at) VALUES (?, ?, ?)`,
		id, camera, at.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start motion interval: %w", err)
	}

	return id, nil
}

// EndMotionInterval closes the most recent open interval for camera. It is
// a no-op when none is open.
func (m *Manager) EndMotionInterval(ctx context.Context, camera string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		UPDATE motion_intervals SET ended_at = ?
		WHERE id = (
			SELECT id FROM motion_intervals
			WHERE camera = ? AND ended_at IS NULL
			ORDER BY started_at DESC
			LIMIT 1
		)
	`

	if _, err := m.db.GetDB().ExecContext(ctx, query, at.UTC(), camera); err != nil {
		return fmt.Errorf("failed to end motion interval: %w", err)
	}

	return nil
}

// ListMotionIntervals returns the newest intervals first
func (m *Manager) ListMotionIntervals(ctx context.Context, limit int) ([]MotionInterval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = clampLimit(limit)

	rows, err := m.db.GetDB().QueryContext(ctx, `
		SELECT id, camera, started_at, ended_at
		FROM motion_intervals
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list motion intervals: %w", err)
	}
	defer rows.Close()

	intervals := make([]MotionInterval, 0)
	for rows.Next() {
		var mi MotionInterval
		var endedAt sql.NullTime
		if err := rows.Scan(&mi.ID, &mi.Camera, &mi.StartedAt, &endedAt); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			t := endedAt.Time
			mi.EndedAt = &t
		}
		intervals = append(intervals, mi)
	}

	return intervals, rows.Err()
}

// clampLimit applies the default and maximum page size
func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
