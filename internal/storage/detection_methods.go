package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/V1vekW/OPTIC-SHIELD/internal/models"
)

// InsertDetection stores a detection and trims rows beyond capacity
func (s *PostgresStore) InsertDetection(ctx context.Context, det *models.Detection) error {
	bboxJSON, err := marshalNullable(det.BBox)
	if err != nil {
		return err
	}
	locationJSON, err := marshalNullable(det.Location)
	if err != nil {
		return err
	}
	metadataJSON, err := marshalNullable(det.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO detections (
			event_id, detection_id, device_id, device_name, camera_id,
			ts, class_name, confidence, bbox, image_base64, location, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (event_id) DO NOTHING`

	result, err := s.db.ExecContext(ctx, query,
		det.EventID, det.DetectionID, det.DeviceID, det.DeviceName, det.CameraID,
		det.Timestamp, det.ClassName, det.Confidence, bboxJSON, det.ImageBase64,
		locationJSON, metadataJSON,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDuplicateKey
	}

	trim := `
		DELETE FROM detections WHERE event_id NOT IN (
			SELECT event_id FROM detections ORDER BY inserted_at DESC LIMIT $1
		)`
	_, err = s.db.ExecContext(ctx, trim, s.detectionCapacity)
	return err
}

// ListDetections returns detections newest first under the given filters
func (s *PostgresStore) ListDetections(ctx context.Context, filters DetectionFilters) ([]*models.Detection, error) {
	if filters.Limit <= 0 {
		return []*models.Detection{}, nil
	}

	query := `
		SELECT event_id, detection_id, device_id, device_name, camera_id,
		       ts, class_name, confidence, bbox, image_base64, location, metadata
		FROM detections WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.DeviceID != "" {
		argCount++
		query += fmt.Sprintf(" AND device_id = $%d", argCount)
		args = append(args, filters.DeviceID)
	}

	if filters.Species != "" {
		argCount++
		query += fmt.Sprintf(" AND lower(class_name) = lower($%d)", argCount)
		args = append(args, filters.Species)
	}

	argCount++
	query += fmt.Sprintf(" ORDER BY inserted_at DESC LIMIT $%d", argCount)
	args = append(args, filters.Limit)

	return s.queryDetections(ctx, query, args...)
}

// SnapshotDetections returns every stored detection, newest first
func (s *PostgresStore) SnapshotDetections(ctx context.Context) ([]*models.Detection, error) {
	query := `
		SELECT event_id, detection_id, device_id, device_name, camera_id,
		       ts, class_name, confidence, bbox, image_base64, location, metadata
		FROM detections ORDER BY inserted_at DESC`

	return s.queryDetections(ctx, query)
}

func (s *PostgresStore) queryDetections(ctx context.Context, query string, args ...interface{}) ([]*models.Detection, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	detections := []*models.Detection{}
	for rows.Next() {
		det := &models.Detection{}
		var bboxJSON, locationJSON, metadataJSON []byte

		err := rows.Scan(
			&det.EventID, &det.DetectionID, &det.DeviceID, &det.DeviceName,
			&det.CameraID, &det.Timestamp, &det.ClassName, &det.Confidence,
			&bboxJSON, &det.ImageBase64, &locationJSON, &metadataJSON,
		)
		if err != nil {
			return nil, err
		}

		if bboxJSON != nil {
			if err := json.Unmarshal(bboxJSON, &det.BBox); err != nil {
				return nil, err
			}
		}
		if locationJSON != nil {
			det.Location = &models.Location{}
			if err := json.Unmarshal(locationJSON, det.Location); err != nil {
				return nil, err
			}
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &det.Metadata); err != nil {
				return nil, err
			}
		}

		detections = append(detections, det)
	}

	return detections, rows.Err()
}
