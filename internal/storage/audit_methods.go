package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/V1vekW/OPTIC-SHIELD/internal/models"
)

// AppendAudit stores an audit entry and trims rows beyond capacity
func (s *PostgresStore) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	detailsJSON, err := marshalNullable(entry.Details)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_log (event_id, device_id, ts, action, details)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = s.db.ExecContext(ctx, query,
		entry.EventID, entry.DeviceID, entry.Timestamp, entry.Action, detailsJSON,
	)
	if err != nil {
		return err
	}

	trim := `
		DELETE FROM audit_log WHERE ctid NOT IN (
			SELECT ctid FROM audit_log ORDER BY inserted_at DESC LIMIT $1
		)`
	_, err = s.db.ExecContext(ctx, trim, s.auditCapacity)
	return err
}

// ListAudit returns audit entries newest first
func (s *PostgresStore) ListAudit(ctx context.Context, filters AuditFilters) ([]*models.AuditEntry, error) {
	if filters.Limit <= 0 {
		return []*models.AuditEntry{}, nil
	}

	query := `SELECT event_id, device_id, ts, action, details FROM audit_log WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.DeviceID != "" {
		argCount++
		query += fmt.Sprintf(" AND device_id = $%d", argCount)
		args = append(args, filters.DeviceID)
	}

	argCount++
	query += fmt.Sprintf(" ORDER BY inserted_at DESC LIMIT $%d", argCount)
	args = append(args, filters.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*models.AuditEntry{}
	for rows.Next() {
		entry := &models.AuditEntry{}
		var detailsJSON []byte

		err := rows.Scan(&entry.EventID, &entry.DeviceID, &entry.Timestamp,
			&entry.Action, &detailsJSON)
		if err != nil {
			return nil, err
		}

		if detailsJSON != nil {
			if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
				return nil, err
			}
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
