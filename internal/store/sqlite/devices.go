package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/clipsync/clipsync/internal/domain"
)

const deviceColumns = `owner, device_id, name, last_online, last_sync_time, created_at`

func scanDevice(row scanner) (*domain.Device, error) {
	var (
		d                         domain.Device
		online, cursor, createdAt int64
	)
	if err := row.Scan(&d.Owner, &d.ID, &d.Name, &online, &cursor, &createdAt); err != nil {
		return nil, err
	}
	d.LastOnline = fromMicros(online)
	d.SyncCursor = fromMicros(cursor)
	d.CreatedAt = fromMicros(createdAt)
	return &d, nil
}

func (s *Store) Device(ctx context.Context, owner, deviceID string) (*domain.Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices
		WHERE owner = ? AND device_id = ?`, owner, deviceID)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %s: %w", deviceID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return d, nil
}

func (s *Store) TouchDevice(ctx context.Context, owner, deviceID, name string, at time.Time) (*domain.Device, error) {
	initial := name
	if initial == "" {
		initial = deviceID
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO devices (owner, device_id, name, last_online, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (owner, device_id) DO UPDATE SET
			last_online = excluded.last_online,
			name = CASE WHEN ? = '' THEN devices.name ELSE excluded.name END`,
		owner, deviceID, initial, micros(at), micros(at), name)
	if err != nil {
		return nil, fmt.Errorf("failed to touch device: %w", err)
	}
	return s.Device(ctx, owner, deviceID)
}

func (s *Store) AdvanceCursor(ctx context.Context, owner, deviceID string, cursor, now time.Time) (time.Time, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO devices (owner, device_id, name, last_sync_time, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (owner, device_id) DO UPDATE SET
			last_sync_time = MAX(devices.last_sync_time, excluded.last_sync_time)`,
		owner, deviceID, deviceID, micros(cursor), micros(now))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to advance cursor: %w", err)
	}

	var stored int64
	err = s.db.QueryRowContext(ctx, `SELECT last_sync_time FROM devices WHERE owner = ? AND device_id = ?`,
		owner, deviceID).Scan(&stored)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read cursor: %w", err)
	}
	return fromMicros(stored), nil
}

func (s *Store) ListDevices(ctx context.Context, owner string) ([]*domain.Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices
		WHERE owner = ? ORDER BY device_id`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	devices := []*domain.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
