// api/analytics/engine.go
//
// Query-time rollups over visit segments, expressed as typed group-by and
// reduce functions instead of storage-side pipeline stages. Everything here
// operates on plain slices, so the engine works identically over the
// ClickHouse store and the in-memory one.
package analytics

import (
	"math"
	"sort"
	"time"

	"wandertrack/api/models"
)

// AnonymousBucket labels rollup rows for segments without a user id.
const AnonymousBucket = "Anonymous"

// DefaultLiveWindow bounds the "currently on site" approximation.
const DefaultLiveWindow = 60 * time.Second

type OverallStats struct {
	TotalVisits           int64   `json:"totalVisits"`
	TotalTimeSpentSeconds int64   `json:"totalTimeSpentSeconds"`
	AvgTimeSpentSeconds   float64 `json:"avgTimeSpentSeconds"`
}

type GroupRollup struct {
	Name                  string  `json:"name"`
	Count                 int64   `json:"count"`
	TotalTimeSpentSeconds int64   `json:"totalTimeSpentSeconds"`
	AvgTimeSpentSeconds   float64 `json:"avgTimeSpentSeconds"`
}

type LiveSession struct {
	SessionID string    `json:"sessionId"`
	User      string    `json:"user"`
	Place     string    `json:"place"`
	LastSeen  time.Time `json:"lastSeen"`
}

type LiveStats struct {
	Total    int           `json:"total"`
	Sessions []LiveSession `json:"sessions"`
}

type GeoVisit struct {
	SegmentID   string    `json:"segmentId"`
	Place       string    `json:"place"`
	District    string    `json:"district"`
	Coordinates []float64 `json:"coordinates"` // [lon, lat]
	CapturedAt  time.Time `json:"capturedAt"`
}

// Overall reduces all segments to count, total and mean dwell time.
func Overall(segments []models.VisitSegment) OverallStats {
	stats := OverallStats{}
	for _, seg := range segments {
		stats.TotalVisits++
		stats.TotalTimeSpentSeconds += seg.TimeSpentSeconds
	}
	if stats.TotalVisits > 0 {
		stats.AvgTimeSpentSeconds = round2(float64(stats.TotalTimeSpentSeconds) / float64(stats.TotalVisits))
	}
	return stats
}

// RollupByPlace groups segments by resolved place name.
func RollupByPlace(segments []models.VisitSegment) []GroupRollup {
	return rollupBy(segments, func(seg models.VisitSegment) string {
		return seg.Place
	})
}

// RollupByDistrict groups segments by parent district name.
func RollupByDistrict(segments []models.VisitSegment) []GroupRollup {
	return rollupBy(segments, func(seg models.VisitSegment) string {
		return seg.District
	})
}

// TopPages groups by raw page path, falling back to the place name for
// segments ingested without one.
func TopPages(segments []models.VisitSegment, limit int) []GroupRollup {
	rollups := rollupBy(segments, func(seg models.VisitSegment) string {
		if seg.PagePath != "" {
			return seg.PagePath
		}
		return seg.Place
	})
	return capRollups(rollups, limit)
}

// TopUsers groups by user id, with anonymous segments reported as one
// distinct bucket rather than dropped.
func TopUsers(segments []models.VisitSegment, limit int) []GroupRollup {
	rollups := rollupBy(segments, func(seg models.VisitSegment) string {
		if seg.Anonymous() {
			return AnonymousBucket
		}
		return seg.UserID
	})
	return capRollups(rollups, limit)
}

// Live counts distinct sessions whose most recent segment falls within the
// rolling window ending at now. Counting is per session: a user with two
// open tabs counts twice, and each session carries its user attribution.
func Live(segments []models.VisitSegment, now time.Time, window time.Duration, listCap int) LiveStats {
	if window <= 0 {
		window = DefaultLiveWindow
	}
	cutoff := now.Add(-window)

	latest := make(map[string]models.VisitSegment)
	for _, seg := range segments {
		if prev, ok := latest[seg.SessionID]; !ok || seg.CapturedAt.After(prev.CapturedAt) {
			latest[seg.SessionID] = seg
		}
	}

	var live []LiveSession
	for _, seg := range latest {
		if seg.CapturedAt.Before(cutoff) || seg.CapturedAt.After(now) {
			continue
		}
		user := seg.UserID
		if user == "" {
			user = AnonymousBucket
		}
		live = append(live, LiveSession{
			SessionID: seg.SessionID,
			User:      user,
			Place:     seg.Place,
			LastSeen:  seg.CapturedAt,
		})
	}

	sort.Slice(live, func(i, j int) bool {
		if !live[i].LastSeen.Equal(live[j].LastSeen) {
			return live[i].LastSeen.After(live[j].LastSeen)
		}
		return live[i].SessionID < live[j].SessionID
	})

	stats := LiveStats{Total: len(live)}
	if listCap > 0 && len(live) > listCap {
		live = live[:listCap]
	}
	stats.Sessions = live
	return stats
}

// GeoVisits extracts every geotagged segment for map plotting. Coordinates
// pass through untouched: marker jitter is a presentation concern.
func GeoVisits(segments []models.VisitSegment) []GeoVisit {
	var visits []GeoVisit
	for _, seg := range segments {
		if !seg.GeoLocation.Valid() {
			continue
		}
		visits = append(visits, GeoVisit{
			SegmentID:   seg.SegmentID,
			Place:       seg.Place,
			District:    seg.District,
			Coordinates: seg.GeoLocation.Coordinates,
			CapturedAt:  seg.CapturedAt,
		})
	}
	return visits
}

func rollupBy(segments []models.VisitSegment, keyOf func(models.VisitSegment) string) []GroupRollup {
	groups := make(map[string]*GroupRollup)
	for _, seg := range segments {
		key := keyOf(seg)
		group, ok := groups[key]
		if !ok {
			group = &GroupRollup{Name: key}
			groups[key] = group
		}
		group.Count++
		group.TotalTimeSpentSeconds += seg.TimeSpentSeconds
	}

	rollups := make([]GroupRollup, 0, len(groups))
	for _, group := range groups {
		group.AvgTimeSpentSeconds = round2(float64(group.TotalTimeSpentSeconds) / float64(group.Count))
		rollups = append(rollups, *group)
	}

	// Count descending; name ascending keeps re-queries deterministic.
	sort.Slice(rollups, func(i, j int) bool {
		if rollups[i].Count != rollups[j].Count {
			return rollups[i].Count > rollups[j].Count
		}
		return rollups[i].Name < rollups[j].Name
	})

	return rollups
}

func capRollups(rollups []GroupRollup, limit int) []GroupRollup {
	if limit > 0 && len(rollups) > limit {
		return rollups[:limit]
	}
	return rollups
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
