package models

import (
	"time"
)

// ClassCount is one entry of the class-distribution histogram
type ClassCount struct {
	ClassName string `json:"class_name"`
	Count     int    `json:"count"`
}

// HourlyBucket is one bucket of the 24-point hourly histogram.
// Hour is the clock hour at the bucket's end boundary.
type HourlyBucket struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// DashboardStats is the derived dashboard summary. It is computed fresh
// on every request and never stored.
type DashboardStats struct {
	TotalDevices      int            `json:"total_devices"`
	OnlineDevices     int            `json:"online_devices"`
	Detections24h     int            `json:"detections_24h"`
	DetectionsWeek    int            `json:"detections_week"`
	ClassDistribution []ClassCount   `json:"class_distribution"`
	HourlyDetections  []HourlyBucket `json:"hourly_detections"`
	GeneratedAt       time.Time      `json:"generated_at"`
}
