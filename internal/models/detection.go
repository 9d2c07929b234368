package models

import (
	"time"
)

// Detection represents one accepted wildlife-sighting event.
// Records are immutable once created; only capacity eviction removes them.
type Detection struct {
	EventID     string    `json:"event_id"`
	DetectionID int64     `json:"detection_id"`
	DeviceID    string    `json:"device_id"`
	DeviceName  string    `json:"device_name,omitempty"`
	CameraID    string    `json:"camera_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	ClassName   string    `json:"class_name"`
	Confidence  float64   `json:"confidence"`

	// BBox holds 0 or 4 numbers: [x1, y1, x2, y2]
	BBox []float64 `json:"bbox,omitempty"`

	ImageBase64 string    `json:"image_base64,omitempty"`
	Location    *Location `json:"location,omitempty"`
	Metadata    Variables `json:"metadata,omitempty"`
}

// HasImage reports whether the detection carries image data
func (d *Detection) HasImage() bool {
	return d.ImageBase64 != ""
}

// Priority returns the metadata priority label, empty when unset
func (d *Detection) Priority() string {
	if d.Metadata == nil {
		return ""
	}
	if p, ok := d.Metadata["priority"].(string); ok {
		return p
	}
	return ""
}
