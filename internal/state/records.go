package state

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotRecord describes one snapshot served to the host
type SnapshotRecord struct {
	ID        string    `json:"id"`
	Camera    string    `json:"camera"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	TakenAt   time.Time `json:"taken_at"`
}

// PTZMove describes one absolute move in device units
type PTZMove struct {
	ID        string    `json:"id"`
	Camera    string    `json:"camera"`
	Azimuth   int       `json:"azimuth"`
	Elevation int       `json:"elevation"`
	Zoom      int       `json:"zoom"`
	MovedAt   time.Time `json:"moved_at"`
}

// SaveSnapshot records a snapshot. An ID is generated when empty.
func (m *Manager) SaveSnapshot(ctx context.Context, rec SnapshotRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.TakenAt.IsZero() {
		rec.TakenAt = time.Now()
	}

	_, err := m.db.GetDB().ExecContext(ctx,
		`INSERT INTO snapshots (id, camera, file_path, size_bytes, taken_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Camera, rec.FilePath, rec.SizeBytes, rec.TakenAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to save snapshot: %w", err)
	}

	return rec.ID, nil
}

// ListSnapshots returns the newest snapshots first
func (m *Manager) ListSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.GetDB().QueryContext(ctx, `
		SELECT id, camera, file_path, size_bytes, taken_at
		FROM snapshots
		ORDER BY taken_at DESC
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	records := make([]SnapshotRecord, 0)
	for rows.Next() {
		var rec SnapshotRecord
		if err := rows.Scan(&rec.ID, &rec.Camera, &rec.FilePath, &rec.SizeBytes, &rec.TakenAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// SavePTZMove records an absolute move. An ID is generated when empty.
func (m *Manager) SavePTZMove(ctx context.Context, move PTZMove) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if move.ID == "" {
		move.ID = uuid.New().String()
	}
	if move.MovedAt.IsZero() {
		move.MovedAt = time.Now()
	}

	_, err := m.db.GetDB().ExecContext(ctx,
		`INSERT INTO ptz_moves (id, camera, azimuth, elevation, zoom, moved_at) VALUES (?, ?, ?, ?, ?, ?)`,
		move.ID, move.Camera, move.Azimuth, move.Elevation, move.Zoom, move.MovedAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to save PTZ move: %w", err)
	}

	return move.ID, nil
}

// ListPTZMoves returns the newest moves first
func (m *Manager) ListPTZMoves(ctx context.Context, limit int) ([]PTZMove, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.GetDB().QueryContext(ctx, `
		SELECT id, camera, azimuth, elevation, zoom, moved_at
		FROM ptz_moves
		ORDER BY moved_at DESC
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list PTZ moves: %w", err)
	}
	defer rows.Close()

	moves := make([]PTZMove, 0)
	for rows.Next() {
		var mv PTZMove
		if err := rows.Scan(&mv.ID, &mv.Camera, &mv.Azimuth, &mv.Elevation, &mv.Zoom, &mv.MovedAt); err != nil {
			return nil, err
		}
		moves = append(moves, mv)
	}

	return moves, rows.Err()
}
