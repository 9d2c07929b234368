package models

import (
	"time"
)

// AuditAction labels what happened to one ingestion attempt
type AuditAction string

const (
	AuditDetectionStored   AuditAction = "detection_stored"
	AuditDetectionRejected AuditAction = "detection_rejected"
)

// AuditEntry records the outcome of one ingestion attempt, accepted or
// rejected. The audit log is independent of the detection store: it also
// contains the attempts the species gate turned away.
type AuditEntry struct {
	EventID   string      `json:"event_id"`
	DeviceID  string      `json:"device_id"`
	Timestamp time.Time   `json:"timestamp"`
	Action    AuditAction `json:"action"`
	Details   Variables   `json:"details,omitempty"`
}
