package api

import (
	"encoding/json"
	"net/http"

	"github.com/V1vekW/OPTIC-SHIELD/internal/ingest"
	"github.com/V1vekW/OPTIC-SHIELD/internal/storage"
)

// HandlePostDetection ingests a single detection report
func (s *RESTServer) HandlePostDetection(w http.ResponseWriter, r *http.Request) {
	var payload ingest.DetectionPayload

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Header fallback keeps single-field payloads from older firmware
	// working
	if payload.DeviceID == "" {
		payload.DeviceID = r.Header.Get("X-Device-ID")
	}

	result, err := s.ingest.IngestDetection(r.Context(), &payload)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"event_id":     result.EventID,
		"detection_id": result.DetectionID,
	})
}

// HandlePostDetectionBatch ingests a batch of detection reports. Items
// are admitted independently; the response carries both counts.
func (s *RESTServer) HandlePostDetectionBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID   string                    `json:"device_id"`
		Detections []ingest.DetectionPayload `json:"detections" validate:"required,min=1"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.DeviceID == "" {
		req.DeviceID = r.Header.Get("X-Device-ID")
	}

	result, err := s.ingest.IngestBatch(r.Context(), req.DeviceID, req.Detections)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"count":    result.Accepted,
		"rejected": result.Rejected,
	})
}

// HandleListDetections lists stored detections, most recent first
func (s *RESTServer) HandleListDetections(w http.ResponseWriter, r *http.Request) {
	filters := storage.DetectionFilters{
		DeviceID: r.URL.Query().Get("device_id"),
		Species:  r.URL.Query().Get("species"),
		Limit:    s.queryLimit(r),
	}

	detections, err := s.store.ListDetections(r.Context(), filters)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"detections": detections,
		"count":      len(detections),
	})
}
