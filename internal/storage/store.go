package storage

import (
	"context"
	"errors"
	"time"

	"github.com/V1vekW/OPTIC-SHIELD/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface. The reference backend keeps
// everything in process memory; a durable backend implements the same
// contract so ingestion and read paths never change.
type Store interface {
	// Device registry methods
	RegisterDevice(ctx context.Context, device *models.Device) (*models.Device, error)
	UpsertHeartbeat(ctx context.Context, deviceID string, hb *models.Heartbeat) (*models.Device, error)
	RecordDetection(ctx context.Context, deviceID string, at time.Time) (*models.Device, error)
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	ListDevices(ctx context.Context) ([]*models.Device, error)

	// Detection store methods
	InsertDetection(ctx context.Context, det *models.Detection) error
	ListDetections(ctx context.Context, filters DetectionFilters) ([]*models.Detection, error)
	SnapshotDetections(ctx context.Context) ([]*models.Detection, error)

	// Audit log methods
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
	ListAudit(ctx context.Context, filters AuditFilters) ([]*models.AuditEntry, error)

	// Close the store
	Close() error
}

// DetectionFilters narrows a detection listing. Limit must be positive:
// zero or negative yields an empty result, matching the query contract.
type DetectionFilters struct {
	DeviceID string
	Species  string
	Limit    int
}

// AuditFilters narrows an audit log query
type AuditFilters struct {
	DeviceID string
	Limit    int
}
