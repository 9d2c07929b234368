package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/V1vekW/OPTIC-SHIELD/internal/hub"
	"github.com/V1vekW/OPTIC-SHIELD/internal/models"
	"github.com/V1vekW/OPTIC-SHIELD/internal/species"
	"github.com/V1vekW/OPTIC-SHIELD/internal/storage"
)

func newTestService() (*Service, *storage.MemoryStore, *hub.Hub) {
	store := storage.NewMemoryStore(100, 100)
	h := hub.NewHub(8)
	svc := NewService(store, species.NewValidator(nil), h)
	return svc, store, h
}

func tigerPayload(deviceID string) *DetectionPayload {
	return &DetectionPayload{
		DeviceID:   deviceID,
		ClassName:  "tiger",
		Confidence: 0.92,
		BBox:       []float64{10, 20, 110, 220},
		Timestamp:  float64(time.Now().Unix()),
	}
}

func TestIngestDetectionAccepted(t *testing.T) {
	svc, store, h := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "cam-001", &models.DeviceInfo{Name: "North Ridge"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	sub := h.Subscribe()
	defer sub.Close()

	result, err := svc.IngestDetection(ctx, tigerPayload("cam-001"))
	if err != nil {
		t.Fatalf("IngestDetection: %v", err)
	}
	if result.EventID == "" {
		t.Error("EventID should be assigned")
	}
	if result.DetectionID == 0 {
		t.Error("DetectionID should be assigned")
	}

	// Stored.
	detections, _ := store.ListDetections(ctx, storage.DetectionFilters{Limit: 10})
	if len(detections) != 1 {
		t.Fatalf("stored %d detections, want 1", len(detections))
	}
	if detections[0].DeviceName != "North Ridge" {
		t.Errorf("DeviceName = %q, want denormalized display name", detections[0].DeviceName)
	}

	// Device counter updated.
	device, _ := store.GetDevice(ctx, "cam-001")
	if device.DetectionCount != 1 {
		t.Errorf("DetectionCount = %d, want 1", device.DetectionCount)
	}
	if device.LastDetection == nil {
		t.Error("LastDetection should be set")
	}

	// Audited as stored.
	entries, _ := store.ListAudit(ctx, storage.AuditFilters{Limit: 10})
	if len(entries) != 1 || entries[0].Action != models.AuditDetectionStored {
		t.Fatalf("audit = %+v, want one detection_stored entry", entries)
	}

	// Broadcast.
	select {
	case update := <-sub.Events():
		if update.DeviceID != "cam-001" {
			t.Errorf("broadcast DeviceID = %q", update.DeviceID)
		}
	default:
		t.Error("accepted detection should broadcast a device update")
	}
}

func TestIngestDetectionSpeciesRejected(t *testing.T) {
	svc, store, h := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "cam-001", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	sub := h.Subscribe()
	defer sub.Close()

	payload := tigerPayload("cam-001")
	payload.ClassName = "deer"

	_, err := svc.IngestDetection(ctx, payload)
	if !errors.Is(err, ErrSpeciesRejected) {
		t.Fatalf("err = %v, want ErrSpeciesRejected", err)
	}

	// Nothing stored, counter untouched, no broadcast.
	detections, _ := store.ListDetections(ctx, storage.DetectionFilters{Limit: 10})
	if len(detections) != 0 {
		t.Error("rejected detection must not be stored")
	}
	device, _ := store.GetDevice(ctx, "cam-001")
	if device.DetectionCount != 0 {
		t.Error("rejected detection must not increment the counter")
	}
	select {
	case <-sub.Events():
		t.Error("rejected detection must not broadcast")
	default:
	}

	// But the rejection is audited.
	entries, _ := store.ListAudit(ctx, storage.AuditFilters{Limit: 10})
	if len(entries) != 1 || entries[0].Action != models.AuditDetectionRejected {
		t.Fatalf("audit = %+v, want one detection_rejected entry", entries)
	}
	if entries[0].DeviceID != "cam-001" {
		t.Errorf("audit DeviceID = %q", entries[0].DeviceID)
	}
}

func TestIngestDetectionMalformed(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*DetectionPayload)
	}{
		{"missing device_id", func(p *DetectionPayload) { p.DeviceID = "" }},
		{"missing class_name", func(p *DetectionPayload) { p.ClassName = "" }},
		{"confidence above one", func(p *DetectionPayload) { p.Confidence = 1.2 }},
		{"negative confidence", func(p *DetectionPayload) { p.Confidence = -0.1 }},
		{"short bbox", func(p *DetectionPayload) { p.BBox = []float64{1, 2} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := tigerPayload("cam-001")
			tt.mutate(payload)

			_, err := svc.IngestDetection(ctx, payload)
			if !errors.Is(err, ErrMalformedPayload) {
				t.Fatalf("err = %v, want ErrMalformedPayload", err)
			}
		})
	}

	// Malformed payloads never reach the audit log.
	entries, _ := store.ListAudit(ctx, storage.AuditFilters{Limit: 10})
	if len(entries) != 0 {
		t.Errorf("audit has %d entries, want 0 for malformed payloads", len(entries))
	}
}

func TestIngestDetectionUnregisteredDevice(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	// No registration, no heartbeat: the detection is still admitted.
	result, err := svc.IngestDetection(ctx, tigerPayload("cam-unknown"))
	if err != nil {
		t.Fatalf("IngestDetection: %v", err)
	}
	if result.EventID == "" {
		t.Error("EventID should be assigned")
	}

	detections, _ := store.ListDetections(ctx, storage.DetectionFilters{Limit: 10})
	if len(detections) != 1 {
		t.Fatal("detection from unknown device should be stored")
	}
}

func TestIngestDetectionEmptyBBoxAllowed(t *testing.T) {
	svc, _, _ := newTestService()

	payload := tigerPayload("cam-001")
	payload.BBox = nil

	if _, err := svc.IngestDetection(context.Background(), payload); err != nil {
		t.Fatalf("IngestDetection: %v", err)
	}
}

func TestIngestDetectionPreservesProvidedIDs(t *testing.T) {
	svc, _, _ := newTestService()

	payload := tigerPayload("cam-001")
	payload.EventID = "evt-custom"
	payload.DetectionID = 424242

	result, err := svc.IngestDetection(context.Background(), payload)
	if err != nil {
		t.Fatalf("IngestDetection: %v", err)
	}
	if result.EventID != "evt-custom" || result.DetectionID != 424242 {
		t.Errorf("result = %+v, want provided identifiers kept", result)
	}
}

func TestIngestDetectionConcurrent(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "cam-001", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	const (
		goroutines = 8
		perWorker  = 25
	)

	var wg sync.WaitGroup
	errs := make(chan error, goroutines*perWorker)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := svc.IngestDetection(ctx, tigerPayload("cam-001")); err != nil {
					errs <- err
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("IngestDetection: %v", err)
	}

	device, err := store.GetDevice(ctx, "cam-001")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if device.DetectionCount != goroutines*perWorker {
		t.Errorf("DetectionCount = %d, want %d", device.DetectionCount, goroutines*perWorker)
	}
}

func TestIngestDetectionDuplicateReplay(t *testing.T) {
	svc, store, h := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "cam-001", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	payload := tigerPayload("cam-001")
	payload.EventID = "evt-retry"
	payload.DetectionID = 7

	first, err := svc.IngestDetection(ctx, payload)
	if err != nil {
		t.Fatalf("IngestDetection: %v", err)
	}

	sub := h.Subscribe()
	defer sub.Close()

	// A device retry of the same event is acknowledged, not re-applied.
	second, err := svc.IngestDetection(ctx, payload)
	if err != nil {
		t.Fatalf("replayed IngestDetection: %v", err)
	}
	if second.EventID != first.EventID || second.DetectionID != first.DetectionID {
		t.Errorf("replay result = %+v, want %+v", second, first)
	}

	detections, _ := store.ListDetections(ctx, storage.DetectionFilters{Limit: 10})
	if len(detections) != 1 {
		t.Errorf("stored %d detections, want 1", len(detections))
	}
	device, _ := store.GetDevice(ctx, "cam-001")
	if device.DetectionCount != 1 {
		t.Errorf("DetectionCount = %d, want 1", device.DetectionCount)
	}
	entries, _ := store.ListAudit(ctx, storage.AuditFilters{Limit: 10})
	if len(entries) != 1 {
		t.Errorf("audit has %d entries, want 1", len(entries))
	}
	select {
	case <-sub.Events():
		t.Error("replayed detection must not broadcast")
	default:
	}
}

func TestIngestBatchMixedOutcomes(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "cam-001", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	items := []DetectionPayload{
		*tigerPayload(""),
		*tigerPayload(""),
		*tigerPayload(""),
	}
	bad := *tigerPayload("")
	bad.ClassName = "deer"
	malformed := *tigerPayload("")
	malformed.Confidence = 2.0
	items = append(items, bad, malformed)

	result, err := svc.IngestBatch(ctx, "cam-001", items)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if result.Accepted != 3 || result.Rejected != 2 {
		t.Errorf("result = %+v, want 3 accepted / 2 rejected", result)
	}

	device, _ := store.GetDevice(ctx, "cam-001")
	if device.DetectionCount != 3 {
		t.Errorf("DetectionCount = %d, want 3", device.DetectionCount)
	}
}

func TestIngestBatchRequiresDeviceID(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.IngestBatch(context.Background(), "", []DetectionPayload{*tigerPayload("")})
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
}

func TestHeartbeatBroadcasts(t *testing.T) {
	svc, _, h := newTestService()

	sub := h.Subscribe()
	defer sub.Close()

	device, err := svc.Heartbeat(context.Background(), &HeartbeatPayload{
		DeviceID: "cam-002",
		Name:     "East Gully",
	})
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if device.Name != "East Gully" {
		t.Errorf("Name = %q", device.Name)
	}

	select {
	case update := <-sub.Events():
		if update.DeviceID != "cam-002" {
			t.Errorf("broadcast DeviceID = %q", update.DeviceID)
		}
	default:
		t.Error("heartbeat should broadcast a device update")
	}
}

type recordingNotifier struct {
	detections []*models.Detection
}

func (n *recordingNotifier) NotifyDetection(det *models.Detection) {
	n.detections = append(n.detections, det)
}

func TestNotifierOnlyFiresForHighPriority(t *testing.T) {
	svc, _, _ := newTestService()
	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)
	ctx := context.Background()

	normal := tigerPayload("cam-001")
	if _, err := svc.IngestDetection(ctx, normal); err != nil {
		t.Fatalf("IngestDetection: %v", err)
	}

	high := tigerPayload("cam-001")
	high.Metadata = models.Variables{"priority": "high"}
	if _, err := svc.IngestDetection(ctx, high); err != nil {
		t.Fatalf("IngestDetection: %v", err)
	}

	if len(notifier.detections) != 1 {
		t.Fatalf("notifier fired %d times, want 1", len(notifier.detections))
	}
	if notifier.detections[0].Priority() != "high" {
		t.Error("notified detection should be high priority")
	}
}

func TestEpochToTime(t *testing.T) {
	got := epochToTime(1767225600.5)
	want := time.Unix(1767225600, 500000000)
	if !got.Equal(want) {
		t.Errorf("epochToTime = %v, want %v", got, want)
	}

	if epochToTime(0).IsZero() {
		t.Error("missing timestamp should fall back to now")
	}
}
