package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (API key in, token out)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/token", s.HandleDeviceToken)
	})

	// Dashboard read endpoints (no device credentials)
	r.Get("/stats", s.HandleStats)
	r.Get("/detections", s.HandleListDetections)
	r.Get("/stream", s.HandleStream)

	// Device telemetry
	r.Route("/devices", func(r chi.Router) {
		r.Get("/", s.HandleListDevices)

		// Audit log reads; registered before {device_id} so the
		// literal path wins
		r.Get("/detections", s.HandleListAuditLogs)

		// Write endpoints require device credentials
		r.Group(func(r chi.Router) {
			r.Use(s.deviceAuthMiddleware)
			r.Post("/", s.HandleRegisterDevice)
			r.Post("/heartbeat", s.HandleHeartbeat)
			r.Post("/detections", s.HandlePostDetection)
			r.Post("/detections/batch", s.HandlePostDetectionBatch)
		})

		r.Get("/{device_id}", s.HandleGetDevice)
	})

	// Ingestion alias used by newer device firmware
	r.Group(func(r chi.Router) {
		r.Use(s.deviceAuthMiddleware)
		r.Post("/detections", s.HandlePostDetection)
	})
}
