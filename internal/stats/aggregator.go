// Package stats derives the dashboard summary from raw facts on every
// read. Nothing here is cached or incrementally maintained: the recency
// windows slide continuously with wall-clock time, so the aggregate is
// recomputed over immutable snapshots of the two stores.
package stats

import (
	"sort"
	"time"

	"github.com/V1vekW/OPTIC-SHIELD/internal/models"
)

// Compute builds the dashboard summary for the given instant. The
// detection snapshot only ever contains allowed species (the gate runs
// before storage), so no species filter is re-applied here. The hourly
// histogram is computed over the full snapshot; entries older than 24
// hours fall outside every bucket by construction.
func Compute(devices []*models.Device, detections []*models.Detection, now time.Time, offlineAfter time.Duration) *models.DashboardStats {
	s := &models.DashboardStats{
		TotalDevices:     len(devices),
		HourlyDetections: make([]models.HourlyBucket, 24),
		GeneratedAt:      now,
	}

	for _, device := range devices {
		if device.Online(now, offlineAfter) {
			s.OnlineDevices++
		}
	}

	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)

	counts := make(map[string]int)
	var order []string

	for _, det := range detections {
		if det.Timestamp.After(weekAgo) {
			s.DetectionsWeek++
		}
		if det.Timestamp.After(dayAgo) {
			s.Detections24h++
			if counts[det.ClassName] == 0 {
				order = append(order, det.ClassName)
			}
			counts[det.ClassName]++
		}
	}

	// Descending by count; ties keep first-seen order.
	s.ClassDistribution = make([]models.ClassCount, 0, len(order))
	for _, name := range order {
		s.ClassDistribution = append(s.ClassDistribution, models.ClassCount{
			ClassName: name,
			Count:     counts[name],
		})
	}
	sort.SliceStable(s.ClassDistribution, func(i, j int) bool {
		return s.ClassDistribution[i].Count > s.ClassDistribution[j].Count
	})

	// Bucket i (oldest first) covers [now-(24-i)h, now-(23-i)h), labeled
	// by the clock hour at its end boundary.
	for i := 0; i < 24; i++ {
		end := now.Add(-time.Duration(23-i) * time.Hour)
		s.HourlyDetections[i].Hour = end.Hour()
	}
	for _, det := range detections {
		age := now.Sub(det.Timestamp)
		if age < 0 || age >= 24*time.Hour {
			continue
		}
		idx := 23 - int(age/time.Hour)
		s.HourlyDetections[idx].Count++
	}

	return s
}
