package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/V1vekW/OPTIC-SHIELD/internal/models"
)

// RegisterDevice creates or updates a device record from registration
func (s *PostgresStore) RegisterDevice(ctx context.Context, device *models.Device) (*models.Device, error) {
	if device.DeviceID == "" {
		return nil, ErrInvalidData
	}

	name := device.Name
	if name == "" && device.Info != nil {
		name = device.Info.Name
	}
	if name == "" {
		name = device.DeviceID
	}

	infoJSON, err := marshalNullable(device.Info)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	query := `
		INSERT INTO devices (device_id, name, status, last_seen, registered_at, detection_count, info)
		VALUES ($1, $2, $3, $4, $4, 0, $5)
		ON CONFLICT (device_id) DO UPDATE SET
			name      = EXCLUDED.name,
			status    = EXCLUDED.status,
			last_seen = EXCLUDED.last_seen,
			info      = COALESCE(EXCLUDED.info, devices.info)`

	if _, err := s.db.ExecContext(ctx, query,
		device.DeviceID, name, models.DeviceStatusOnline, now, infoJSON,
	); err != nil {
		return nil, err
	}

	return s.GetDevice(ctx, device.DeviceID)
}

// UpsertHeartbeat refreshes lastSeen and the latest telemetry snapshot
func (s *PostgresStore) UpsertHeartbeat(ctx context.Context, deviceID string, hb *models.Heartbeat) (*models.Device, error) {
	if deviceID == "" {
		return nil, ErrInvalidData
	}

	seen := hb.Timestamp
	if seen.IsZero() {
		seen = time.Now()
	}

	status := models.DeviceStatusOnline
	if hb.Status == models.DeviceStatusError {
		status = models.DeviceStatusError
	}

	name := hb.Name
	if hb.Info != nil && hb.Info.Name != "" {
		name = hb.Info.Name
	}

	infoJSON, err := marshalNullable(hb.Info)
	if err != nil {
		return nil, err
	}
	statsJSON, err := marshalNullable(hb.Stats)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO devices (device_id, name, status, last_seen, registered_at, detection_count, info, stats)
		VALUES ($1, COALESCE(NULLIF($2, ''), $1), $3, $4, $4, 0, $5, $6)
		ON CONFLICT (device_id) DO UPDATE SET
			name      = COALESCE(NULLIF($2, ''), devices.name),
			status    = EXCLUDED.status,
			last_seen = GREATEST(devices.last_seen, EXCLUDED.last_seen),
			info      = COALESCE(EXCLUDED.info, devices.info),
			stats     = COALESCE(EXCLUDED.stats, devices.stats)`

	if _, err := s.db.ExecContext(ctx, query,
		deviceID, name, status, seen, infoJSON, statsJSON,
	); err != nil {
		return nil, err
	}

	return s.GetDevice(ctx, deviceID)
}

// RecordDetection increments the counter and forces the device online
func (s *PostgresStore) RecordDetection(ctx context.Context, deviceID string, at time.Time) (*models.Device, error) {
	if at.IsZero() {
		at = time.Now()
	}

	query := `
		UPDATE devices SET
			detection_count = detection_count + 1,
			last_seen       = $2,
			last_detection  = $2,
			status          = $3
		WHERE device_id = $1`

	result, err := s.db.ExecContext(ctx, query, deviceID, at, models.DeviceStatusOnline)
	if err != nil {
		return nil, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	return s.GetDevice(ctx, deviceID)
}

// GetDevice returns one device record
func (s *PostgresStore) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	query := `
		SELECT device_id, name, status, last_seen, registered_at,
		       detection_count, last_detection, info, stats
		FROM devices WHERE device_id = $1`

	device, err := scanDevice(s.db.QueryRowContext(ctx, query, deviceID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return device, err
}

// ListDevices returns all device records
func (s *PostgresStore) ListDevices(ctx context.Context) ([]*models.Device, error) {
	query := `
		SELECT device_id, name, status, last_seen, registered_at,
		       detection_count, last_detection, info, stats
		FROM devices`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}

	return devices, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	device := &models.Device{}
	var lastDetection sql.NullTime
	var infoJSON, statsJSON []byte

	err := row.Scan(
		&device.DeviceID, &device.Name, &device.Status, &device.LastSeen,
		&device.RegisteredAt, &device.DetectionCount, &lastDetection,
		&infoJSON, &statsJSON,
	)
	if err != nil {
		return nil, err
	}

	if lastDetection.Valid {
		t := lastDetection.Time
		device.LastDetection = &t
	}
	if infoJSON != nil {
		device.Info = &models.DeviceInfo{}
		if err := json.Unmarshal(infoJSON, device.Info); err != nil {
			return nil, err
		}
	}
	if statsJSON != nil {
		device.Stats = &models.HeartbeatStats{}
		if err := json.Unmarshal(statsJSON, device.Stats); err != nil {
			return nil, err
		}
	}

	return device, nil
}

// marshalNullable encodes v to JSON, mapping nil pointers to SQL NULL
func marshalNullable(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case *models.DeviceInfo:
		if t == nil {
			return nil, nil
		}
	case *models.HeartbeatStats:
		if t == nil {
			return nil, nil
		}
	case *models.Location:
		if t == nil {
			return nil, nil
		}
	case models.Variables:
		if t == nil {
			return nil, nil
		}
	case []float64:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
