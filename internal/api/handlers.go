package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/V1vekW/OPTIC-SHIELD/internal/ingest"
	"github.com/V1vekW/OPTIC-SHIELD/internal/stats"
	"github.com/V1vekW/OPTIC-SHIELD/internal/storage"
)

// ========== Service handlers ==========

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": s.config.Server.Name,
		"version": s.config.Server.Version,
		"health":  "/api/health",
	})
}

// HandleDeviceToken exchanges a valid API key for a short-lived bearer
// token
func (s *RESTServer) HandleDeviceToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" || !s.verifier.VerifyAPIKey(apiKey) {
		s.respondError(w, http.StatusUnauthorized, "invalid API key")
		return
	}

	token, err := s.tokens.GenerateDeviceToken(req.DeviceID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"expires_in":   int(s.config.Auth.TokenTTL.Seconds()),
		"token_type":   "Bearer",
	})
}

// HandleStats returns the dashboard statistics snapshot
func (s *RESTServer) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	detections, err := s.store.SnapshotDetections(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	snapshot := stats.Compute(devices, detections, time.Now(), s.config.Storage.OfflineAfter)
	s.respondJSON(w, http.StatusOK, snapshot)
}

// HandleListAuditLogs lists detection audit entries, rejections included
func (s *RESTServer) HandleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filters := storage.AuditFilters{
		DeviceID: r.URL.Query().Get("device_id"),
		Limit:    s.queryLimit(r),
	}

	entries, err := s.store.ListAudit(ctx, filters)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"logs":    entries,
		"count":   len(entries),
	})
}

// queryLimit parses the limit query parameter. The configured default
// applies only when the parameter is absent or unparseable; an explicit
// non-positive limit passes through and yields an empty result.
func (s *RESTServer) queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return s.config.Storage.DefaultQueryLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return s.config.Storage.DefaultQueryLimit
	}
	return limit
}

// respondServiceError maps ingestion and storage errors to HTTP status
// codes
func (s *RESTServer) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrMalformedPayload),
		errors.Is(err, ingest.ErrSpeciesRejected):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "not found")
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
