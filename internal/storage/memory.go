package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/V1vekW/OPTIC-SHIELD/internal/models"
)

// MemoryStore is the reference in-process backend. Devices live in a map,
// detections and audit entries in bounded most-recent-first rings. Each
// area has its own lock so detection inserts never contend with audit
// appends.
type MemoryStore struct {
	devMu   sync.RWMutex
	devices map[string]*models.Device

	detMu      sync.RWMutex
	detections *ring[models.Detection]
	detIDs     map[string]struct{}

	audMu sync.RWMutex
	audit *ring[models.AuditEntry]
}

// NewMemoryStore creates a memory store with the given capacities
func NewMemoryStore(detectionCapacity, auditCapacity int) *MemoryStore {
	return &MemoryStore{
		devices:    make(map[string]*models.Device),
		detections: newRing[models.Detection](detectionCapacity),
		detIDs:     make(map[string]struct{}),
		audit:      newRing[models.AuditEntry](auditCapacity),
	}
}

// ========== Device registry methods ==========

// RegisterDevice creates or updates a device record from a registration
// payload. Counters survive re-registration.
func (s *MemoryStore) RegisterDevice(ctx context.Context, device *models.Device) (*models.Device, error) {
	if device.DeviceID == "" {
		return nil, ErrInvalidData
	}

	s.devMu.Lock()
	defer s.devMu.Unlock()

	now := time.Now()
	existing, ok := s.devices[device.DeviceID]
	if !ok {
		rec := device.Clone()
		rec.Status = models.DeviceStatusOnline
		rec.LastSeen = now
		rec.RegisteredAt = now
		rec.DetectionCount = 0
		if rec.Name == "" && rec.Info != nil {
			rec.Name = rec.Info.Name
		}
		if rec.Name == "" {
			rec.Name = rec.DeviceID
		}
		s.devices[device.DeviceID] = rec
		return rec.Clone(), nil
	}

	existing.LastSeen = now
	existing.Status = models.DeviceStatusOnline
	if device.Info != nil {
		existing.Info = device.Info
		if device.Info.Name != "" {
			existing.Name = device.Info.Name
		}
	}
	if device.Name != "" {
		existing.Name = device.Name
	}

	return existing.Clone(), nil
}

// UpsertHeartbeat refreshes lastSeen and the latest telemetry snapshot,
// creating the record on first contact.
func (s *MemoryStore) UpsertHeartbeat(ctx context.Context, deviceID string, hb *models.Heartbeat) (*models.Device, error) {
	if deviceID == "" {
		return nil, ErrInvalidData
	}

	s.devMu.Lock()
	defer s.devMu.Unlock()

	seen := hb.Timestamp
	if seen.IsZero() {
		seen = time.Now()
	}

	device, ok := s.devices[deviceID]
	if !ok {
		device = &models.Device{
			DeviceID:     deviceID,
			Name:         deviceID,
			RegisteredAt: seen,
		}
		s.devices[deviceID] = device
	}

	// A stale device clock must not move liveness backwards
	if seen.After(device.LastSeen) {
		device.LastSeen = seen
	}
	device.Status = models.DeviceStatusOnline
	if hb.Status == models.DeviceStatusError {
		device.Status = models.DeviceStatusError
	}
	if hb.Name != "" {
		device.Name = hb.Name
	}
	if hb.Info != nil {
		device.Info = hb.Info
		if hb.Info.Name != "" {
			device.Name = hb.Info.Name
		}
	}
	if hb.Stats != nil {
		device.Stats = hb.Stats
	}

	return device.Clone(), nil
}

// RecordDetection increments the detection counter and forces the device
// online. Returns ErrNotFound for devices that never made contact.
func (s *MemoryStore) RecordDetection(ctx context.Context, deviceID string, at time.Time) (*models.Device, error) {
	s.devMu.Lock()
	defer s.devMu.Unlock()

	device, ok := s.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}

	if at.IsZero() {
		at = time.Now()
	}

	device.DetectionCount++
	device.LastSeen = at
	device.Status = models.DeviceStatusOnline
	device.LastDetection = &at

	return device.Clone(), nil
}

// GetDevice returns a copy of one device record
func (s *MemoryStore) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	s.devMu.RLock()
	defer s.devMu.RUnlock()

	device, ok := s.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}

	return device.Clone(), nil
}

// ListDevices returns copies of all device records. Order is not
// meaningful; the dashboard sorts at display time.
func (s *MemoryStore) ListDevices(ctx context.Context) ([]*models.Device, error) {
	s.devMu.RLock()
	defer s.devMu.RUnlock()

	devices := make([]*models.Device, 0, len(s.devices))
	for _, device := range s.devices {
		devices = append(devices, device.Clone())
	}

	return devices, nil
}

// ========== Detection store methods ==========

// InsertDetection prepends a detection; the oldest entry is evicted once
// the store exceeds its capacity. A replayed event id is rejected with
// ErrDuplicateKey.
func (s *MemoryStore) InsertDetection(ctx context.Context, det *models.Detection) error {
	s.detMu.Lock()
	defer s.detMu.Unlock()

	if det.EventID != "" {
		if _, ok := s.detIDs[det.EventID]; ok {
			return ErrDuplicateKey
		}
	}

	if evicted := s.detections.prepend(det); evicted != nil {
		delete(s.detIDs, evicted.EventID)
	}
	if det.EventID != "" {
		s.detIDs[det.EventID] = struct{}{}
	}

	return nil
}

// ListDetections returns detections newest first, filtered then truncated
// to the limit. A non-positive limit yields an empty result; an unknown
// device id yields an empty result, not an error.
func (s *MemoryStore) ListDetections(ctx context.Context, filters DetectionFilters) ([]*models.Detection, error) {
	if filters.Limit <= 0 {
		return []*models.Detection{}, nil
	}

	s.detMu.RLock()
	defer s.detMu.RUnlock()

	out := make([]*models.Detection, 0, filters.Limit)
	for _, det := range s.detections.items {
		if filters.DeviceID != "" && det.DeviceID != filters.DeviceID {
			continue
		}
		if filters.Species != "" && !strings.EqualFold(det.ClassName, filters.Species) {
			continue
		}
		out = append(out, det)
		if len(out) == filters.Limit {
			break
		}
	}

	return out, nil
}

// SnapshotDetections returns every stored detection, newest first. The
// stats aggregator works over this full snapshot.
func (s *MemoryStore) SnapshotDetections(ctx context.Context) ([]*models.Detection, error) {
	s.detMu.RLock()
	defer s.detMu.RUnlock()

	return s.detections.snapshot(), nil
}

// ========== Audit log methods ==========

// AppendAudit prepends an audit entry under the audit log's own capacity
func (s *MemoryStore) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	s.audMu.Lock()
	defer s.audMu.Unlock()

	s.audit.prepend(entry)
	return nil
}

// ListAudit returns audit entries newest first
func (s *MemoryStore) ListAudit(ctx context.Context, filters AuditFilters) ([]*models.AuditEntry, error) {
	if filters.Limit <= 0 {
		return []*models.AuditEntry{}, nil
	}

	s.audMu.RLock()
	defer s.audMu.RUnlock()

	out := make([]*models.AuditEntry, 0, filters.Limit)
	for _, entry := range s.audit.items {
		if filters.DeviceID != "" && entry.DeviceID != filters.DeviceID {
			continue
		}
		out = append(out, entry)
		if len(out) == filters.Limit {
			break
		}
	}

	return out, nil
}

// Close is a no-op for the memory backend
func (s *MemoryStore) Close() error {
	return nil
}
