package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/V1vekW/OPTIC-SHIELD/internal/ingest"
	"github.com/V1vekW/OPTIC-SHIELD/internal/models"
	"github.com/V1vekW/OPTIC-SHIELD/internal/storage"
)

// HandleRegisterDevice registers a device
func (s *RESTServer) HandleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID      string           `json:"device_id" validate:"required,min=1,max=128"`
		Name          string           `json:"name"`
		Location      *models.Location `json:"location"`
		Version       string           `json:"version"`
		HardwareModel string           `json:"hardware_model"`
		Environment   string           `json:"environment"`
		Tags          []string         `json:"tags"`
		Cameras       []models.Camera  `json:"cameras"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	info := &models.DeviceInfo{
		Name:          req.Name,
		Location:      req.Location,
		Version:       req.Version,
		HardwareModel: req.HardwareModel,
		Environment:   req.Environment,
		Tags:          req.Tags,
		Cameras:       req.Cameras,
	}

	device, err := s.ingest.Register(r.Context(), req.DeviceID, info)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"device_id": device.DeviceID,
		"status":    "registered",
	})
}

// HandleHeartbeat processes a device heartbeat
func (s *RESTServer) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var payload ingest.HeartbeatPayload

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	device, err := s.ingest.Heartbeat(r.Context(), &payload)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"device_id": device.DeviceID,
		"status":    device.Status,
	})
}

// HandleListDevices lists devices with their derived liveness status
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := time.Now()
	for _, device := range devices {
		if device.Status != models.DeviceStatusError {
			device.Status = device.DerivedStatus(now, s.config.Storage.OfflineAfter)
		}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"devices": devices,
		"count":   len(devices),
	})
}

// HandleGetDevice gets a single device
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	device, err := s.store.GetDevice(r.Context(), deviceID)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if device.Status != models.DeviceStatusError {
		device.Status = device.DerivedStatus(time.Now(), s.config.Storage.OfflineAfter)
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"device":  device,
	})
}
