package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store interface for PostgreSQL. Capacity
// bounds are enforced the same way as in memory: after every insert the
// rows beyond the newest N are trimmed.
type PostgresStore struct {
	db                *sql.DB
	detectionCapacity int
	auditCapacity     int
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(dsn string, detectionCapacity, auditCapacity int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{
		db:                db,
		detectionCapacity: detectionCapacity,
		auditCapacity:     auditCapacity,
	}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return s, nil
}

// migrate creates the schema when it does not exist yet
func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		device_id       TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		status          TEXT NOT NULL,
		last_seen       TIMESTAMPTZ NOT NULL,
		registered_at   TIMESTAMPTZ NOT NULL,
		detection_count BIGINT NOT NULL DEFAULT 0,
		last_detection  TIMESTAMPTZ,
		info            JSONB,
		stats           JSONB
	);

	CREATE TABLE IF NOT EXISTS detections (
		event_id     TEXT PRIMARY KEY,
		detection_id BIGINT NOT NULL,
		device_id    TEXT NOT NULL,
		device_name  TEXT NOT NULL DEFAULT '',
		camera_id    TEXT NOT NULL DEFAULT '',
		ts           TIMESTAMPTZ NOT NULL,
		class_name   TEXT NOT NULL,
		confidence   DOUBLE PRECISION NOT NULL,
		bbox         JSONB,
		image_base64 TEXT NOT NULL DEFAULT '',
		location     JSONB,
		metadata     JSONB,
		inserted_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS detections_device_idx ON detections (device_id, inserted_at DESC);

	CREATE TABLE IF NOT EXISTS audit_log (
		event_id    TEXT NOT NULL,
		device_id   TEXT NOT NULL,
		ts          TIMESTAMPTZ NOT NULL,
		action      TEXT NOT NULL,
		details     JSONB,
		inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS audit_log_device_idx ON audit_log (device_id, inserted_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
