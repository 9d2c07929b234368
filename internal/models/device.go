package models

import (
	"time"
)

// DeviceStatus represents the liveness state shown on the dashboard
type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
	DeviceStatusError   DeviceStatus = "error"
)

// Camera describes one camera attached to an edge device
type Camera struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Model      string `json:"model,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Status     string `json:"status,omitempty"`
}

// DeviceInfo holds the metadata a device reports at registration
type DeviceInfo struct {
	Name          string    `json:"name,omitempty"`
	Location      *Location `json:"location,omitempty"`
	Version       string    `json:"version,omitempty"`
	HardwareModel string    `json:"hardware_model,omitempty"`
	Environment   string    `json:"environment,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	Cameras       []Camera  `json:"cameras,omitempty"`
}

// SystemStats is the system-resource portion of a heartbeat
type SystemStats struct {
	CPUPercent         float64 `json:"cpu_percent"`
	MemoryPercent      float64 `json:"memory_percent"`
	MemoryUsedMB       float64 `json:"memory_used_mb,omitempty"`
	MemoryTotalMB      float64 `json:"memory_total_mb,omitempty"`
	TemperatureCelsius float64 `json:"temperature_celsius,omitempty"`
	DiskPercent        float64 `json:"disk_percent,omitempty"`
	DiskUsedGB         float64 `json:"disk_used_gb,omitempty"`
	DiskTotalGB        float64 `json:"disk_total_gb,omitempty"`
}

// PowerStats is the power portion of a heartbeat
type PowerStats struct {
	ConsumptionWatts float64  `json:"consumption_watts,omitempty"`
	Source           string   `json:"source,omitempty"`
	BatteryPercent   *float64 `json:"battery_percent,omitempty"`
}

// NetworkStats is the network portion of a heartbeat
type NetworkStats struct {
	LatencyMS int `json:"latency_ms,omitempty"`
}

// HeartbeatStats is the telemetry snapshot a device reports on heartbeat
type HeartbeatStats struct {
	UptimeSeconds  int64         `json:"uptime_seconds,omitempty"`
	DetectionCount int64         `json:"detection_count,omitempty"`
	System         *SystemStats  `json:"system,omitempty"`
	Power          *PowerStats   `json:"power,omitempty"`
	Cameras        []Camera      `json:"cameras,omitempty"`
	Network        *NetworkStats `json:"network,omitempty"`
}

// Heartbeat is one heartbeat report from a device
type Heartbeat struct {
	Timestamp time.Time
	Status    DeviceStatus
	Name      string
	Info      *DeviceInfo
	Stats     *HeartbeatStats
}

// Device represents one edge device tracked by the registry.
// The registry owns the record; everything handed to callers is a copy.
type Device struct {
	DeviceID       string          `json:"device_id"`
	Name           string          `json:"name"`
	Status         DeviceStatus    `json:"status"`
	LastSeen       time.Time       `json:"last_seen"`
	RegisteredAt   time.Time       `json:"registered_at"`
	DetectionCount int64           `json:"detection_count"`
	LastDetection  *time.Time      `json:"last_detection,omitempty"`
	Info           *DeviceInfo     `json:"info,omitempty"`
	Stats          *HeartbeatStats `json:"stats,omitempty"`
}

// Online reports whether the device counts as online at the given instant.
// Staleness is computed, never stored.
func (d *Device) Online(now time.Time, offlineAfter time.Duration) bool {
	return now.Sub(d.LastSeen) < offlineAfter
}

// DerivedStatus returns the status as a pure function of time-since-last-seen
func (d *Device) DerivedStatus(now time.Time, offlineAfter time.Duration) DeviceStatus {
	if d.Online(now, offlineAfter) {
		return DeviceStatusOnline
	}
	return DeviceStatusOffline
}

// Clone returns a copy safe to hand outside the registry
func (d *Device) Clone() *Device {
	c := *d
	if d.LastDetection != nil {
		t := *d.LastDetection
		c.LastDetection = &t
	}
	return &c
}
