// Package ingest orchestrates one incoming detection or heartbeat:
// validate, store, update the device record, audit, then broadcast. The
// same service sits behind every transport (HTTP, NATS, MQTT), so the
// admission invariants hold regardless of how a payload arrives.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/V1vekW/OPTIC-SHIELD/internal/hub"
	"github.com/V1vekW/OPTIC-SHIELD/internal/models"
	"github.com/V1vekW/OPTIC-SHIELD/internal/species"
	"github.com/V1vekW/OPTIC-SHIELD/internal/storage"
)

// Client-visible rejection reasons
var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrSpeciesRejected  = errors.New("species not allowed")
)

// Notifier receives accepted high-priority detections. Implementations
// must not block.
type Notifier interface {
	NotifyDetection(det *models.Detection)
}

// DetectionPayload is the wire shape of one detection report. Timestamp
// is event time in epoch seconds (fractional allowed).
type DetectionPayload struct {
	EventID     string            `json:"event_id"`
	DetectionID int64             `json:"detection_id"`
	DeviceID    string            `json:"device_id"`
	CameraID    string            `json:"camera_id"`
	Timestamp   float64           `json:"timestamp"`
	ClassName   string            `json:"class_name"`
	Confidence  float64           `json:"confidence"`
	BBox        []float64         `json:"bbox"`
	ImageBase64 string            `json:"image_base64"`
	Location    *models.Location  `json:"location"`
	Metadata    models.Variables  `json:"metadata"`
}

// HeartbeatPayload is the wire shape of one heartbeat report
type HeartbeatPayload struct {
	DeviceID      string                 `json:"device_id"`
	Timestamp     float64                `json:"timestamp"`
	Status        string                 `json:"status"`
	Name          string                 `json:"name"`
	Location      *models.Location       `json:"location"`
	Version       string                 `json:"version"`
	HardwareModel string                 `json:"hardware_model"`
	Tags          []string               `json:"tags"`
	Cameras       []models.Camera        `json:"cameras"`
	Info          *models.DeviceInfo     `json:"info"`
	Stats         *models.HeartbeatStats `json:"stats"`
}

// Result reports one accepted detection
type Result struct {
	EventID     string
	DetectionID int64
}

// BatchResult reports per-item outcomes of a batch
type BatchResult struct {
	Accepted int
	Rejected int
}

// Service runs the ingestion state machine
type Service struct {
	store    storage.Store
	species  *species.Validator
	hub      *hub.Hub
	notifier Notifier
}

// NewService creates an ingestion service
func NewService(store storage.Store, validator *species.Validator, h *hub.Hub) *Service {
	return &Service{
		store:   store,
		species: validator,
		hub:     h,
	}
}

// SetNotifier attaches an optional alert notifier for high-priority
// detections
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// IngestDetection runs one detection through the state machine:
// Received -> Validated -> Stored -> Acknowledged, or Received ->
// Rejected. Malformed payloads never reach the audit log; payloads that
// fail the species gate are audited as rejections and nothing else is
// mutated.
func (s *Service) IngestDetection(ctx context.Context, p *DetectionPayload) (*Result, error) {
	if err := validateDetection(p); err != nil {
		return nil, err
	}

	eventTime := epochToTime(p.Timestamp)

	if !s.species.IsAllowed(p.ClassName) {
		s.auditRejection(ctx, p, eventTime)
		log.Info().
			Str("deviceID", p.DeviceID).
			Str("class", p.ClassName).
			Msg("Detection rejected by species gate")
		return nil, fmt.Errorf("%w: %q", ErrSpeciesRejected, p.ClassName)
	}

	det := s.buildDetection(ctx, p, eventTime)

	if err := s.store.InsertDetection(ctx, det); err != nil {
		// A replayed event id is a device retry; acknowledge it without
		// counting, auditing, or broadcasting a second time.
		if errors.Is(err, storage.ErrDuplicateKey) {
			log.Info().
				Str("deviceID", det.DeviceID).
				Str("eventID", det.EventID).
				Msg("Duplicate detection acknowledged")
			return &Result{EventID: det.EventID, DetectionID: det.DetectionID}, nil
		}
		return nil, fmt.Errorf("insert detection: %w", err)
	}

	// Permissive registry update: an unregistered device still gets its
	// detection stored, there is just no device snapshot to broadcast.
	device, err := s.store.RecordDetection(ctx, p.DeviceID, time.Now())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("record detection on device: %w", err)
	}

	s.auditAccepted(ctx, det)

	if device != nil {
		s.hub.Publish(device)
	}

	if s.notifier != nil && det.Priority() == "high" {
		s.notifier.NotifyDetection(det)
	}

	log.Info().
		Str("deviceID", det.DeviceID).
		Str("class", det.ClassName).
		Float64("confidence", det.Confidence).
		Bool("hasImage", det.HasImage()).
		Msg("Detection stored")

	return &Result{EventID: det.EventID, DetectionID: det.DetectionID}, nil
}

// IngestBatch applies the state machine per item. One bad item never
// aborts the rest; the result carries both counts.
func (s *Service) IngestBatch(ctx context.Context, deviceID string, items []DetectionPayload) (*BatchResult, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: missing device_id", ErrMalformedPayload)
	}

	result := &BatchResult{}
	for i := range items {
		item := items[i]
		if item.DeviceID == "" {
			item.DeviceID = deviceID
		}

		if _, err := s.IngestDetection(ctx, &item); err != nil {
			result.Rejected++
			continue
		}
		result.Accepted++
	}

	return result, nil
}

// Heartbeat upserts the device record and broadcasts the new state
func (s *Service) Heartbeat(ctx context.Context, p *HeartbeatPayload) (*models.Device, error) {
	if p.DeviceID == "" {
		return nil, fmt.Errorf("%w: missing device_id", ErrMalformedPayload)
	}

	hb := &models.Heartbeat{
		Timestamp: epochToTime(p.Timestamp),
		Status:    models.DeviceStatus(p.Status),
		Name:      p.Name,
		Info:      p.Info,
		Stats:     p.Stats,
	}

	// Flat registration fields sent by older device firmware
	if hb.Info == nil && (p.Location != nil || p.Version != "" || len(p.Cameras) > 0) {
		hb.Info = &models.DeviceInfo{
			Name:          p.Name,
			Location:      p.Location,
			Version:       p.Version,
			HardwareModel: p.HardwareModel,
			Tags:          p.Tags,
			Cameras:       p.Cameras,
		}
	}

	device, err := s.store.UpsertHeartbeat(ctx, p.DeviceID, hb)
	if err != nil {
		return nil, fmt.Errorf("upsert heartbeat: %w", err)
	}

	s.hub.Publish(device)

	log.Debug().
		Str("deviceID", device.DeviceID).
		Time("lastSeen", device.LastSeen).
		Msg("Heartbeat processed")

	return device, nil
}

// Register upserts a device record from a registration payload and
// broadcasts the new state
func (s *Service) Register(ctx context.Context, deviceID string, info *models.DeviceInfo) (*models.Device, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: missing device_id", ErrMalformedPayload)
	}

	device, err := s.store.RegisterDevice(ctx, &models.Device{
		DeviceID: deviceID,
		Info:     info,
	})
	if err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}

	s.hub.Publish(device)

	log.Info().
		Str("deviceID", device.DeviceID).
		Str("name", device.Name).
		Msg("Device registered")

	return device, nil
}

func validateDetection(p *DetectionPayload) error {
	if p.DeviceID == "" {
		return fmt.Errorf("%w: missing device_id", ErrMalformedPayload)
	}
	if p.ClassName == "" {
		return fmt.Errorf("%w: missing class_name", ErrMalformedPayload)
	}
	if p.Confidence < 0 || p.Confidence > 1 || math.IsNaN(p.Confidence) {
		return fmt.Errorf("%w: confidence out of range", ErrMalformedPayload)
	}
	if len(p.BBox) != 0 && len(p.BBox) != 4 {
		return fmt.Errorf("%w: bbox must have 0 or 4 elements", ErrMalformedPayload)
	}
	return nil
}

func (s *Service) buildDetection(ctx context.Context, p *DetectionPayload, eventTime time.Time) *models.Detection {
	eventID := p.EventID
	if eventID == "" {
		eventID = uuid.New().String()
	}
	detectionID := p.DetectionID
	if detectionID == 0 {
		detectionID = time.Now().UnixMilli()
	}

	// Denormalized display name, captured at insertion time
	deviceName := p.DeviceID
	if device, err := s.store.GetDevice(ctx, p.DeviceID); err == nil {
		deviceName = device.Name
	}

	return &models.Detection{
		EventID:     eventID,
		DetectionID: detectionID,
		DeviceID:    p.DeviceID,
		DeviceName:  deviceName,
		CameraID:    p.CameraID,
		Timestamp:   eventTime,
		ClassName:   p.ClassName,
		Confidence:  p.Confidence,
		BBox:        p.BBox,
		ImageBase64: p.ImageBase64,
		Location:    p.Location,
		Metadata:    p.Metadata,
	}
}

func (s *Service) auditAccepted(ctx context.Context, det *models.Detection) {
	entry := &models.AuditEntry{
		EventID:   det.EventID,
		DeviceID:  det.DeviceID,
		Timestamp: time.Now(),
		Action:    models.AuditDetectionStored,
		Details: models.Variables{
			"class_name": det.ClassName,
			"confidence": det.Confidence,
			"has_image":  det.HasImage(),
		},
	}

	if err := s.store.AppendAudit(ctx, entry); err != nil {
		log.Error().Err(err).Msg("Failed to append audit entry")
	}
}

func (s *Service) auditRejection(ctx context.Context, p *DetectionPayload, eventTime time.Time) {
	eventID := p.EventID
	if eventID == "" {
		eventID = uuid.New().String()
	}

	entry := &models.AuditEntry{
		EventID:   eventID,
		DeviceID:  p.DeviceID,
		Timestamp: time.Now(),
		Action:    models.AuditDetectionRejected,
		Details: models.Variables{
			"class_name": p.ClassName,
			"confidence": p.Confidence,
			"has_image":  p.ImageBase64 != "",
			"reason":     "species not in allow-list",
		},
	}

	if err := s.store.AppendAudit(ctx, entry); err != nil {
		log.Error().Err(err).Msg("Failed to append audit entry")
	}
}

// epochToTime converts epoch seconds (fractional allowed) to time.Time,
// falling back to now for a missing timestamp
func epochToTime(epoch float64) time.Time {
	if epoch <= 0 {
		return time.Now()
	}
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(frac*1e9))
}
