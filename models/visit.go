// api/models/visit.go
package models

import "time"

// ExitReason classifies why a visit segment ended.
type ExitReason string

const (
	ExitInternalNavigation ExitReason = "internal_navigation"
	ExitIdleTimeout        ExitReason = "idle_timeout"
	ExitTabHidden          ExitReason = "tab_hidden_exit"
	ExitTabClose           ExitReason = "tab_close_exit"
	ExitExternal           ExitReason = "external_exit"
	ExitUnknown            ExitReason = "unknown"
)

// ValidExitReason reports whether s is one of the known exit reasons.
func ValidExitReason(s string) bool {
	switch ExitReason(s) {
	case ExitInternalNavigation, ExitIdleTimeout, ExitTabHidden, ExitTabClose, ExitExternal, ExitUnknown:
		return true
	default:
		return false
	}
}

// GeoPoint is a GeoJSON point: coordinates are [longitude, latitude].
type GeoPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Valid checks the GeoJSON shape and coordinate ranges.
func (g *GeoPoint) Valid() bool {
	if g == nil || g.Type != "Point" || len(g.Coordinates) != 2 {
		return false
	}
	lon, lat := g.Coordinates[0], g.Coordinates[1]
	return lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90
}

// DeviceInfo holds the coarse browser/OS class of the visiting device.
type DeviceInfo struct {
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
	Mobile  bool   `json:"mobile,omitempty"`
}

// VisitSegment is one recorded dwell interval on a single place, bounded by
// two navigation or termination events. Rows are append-only: once stored
// they are never mutated, bad data is simply superseded by later segments.
type VisitSegment struct {
	SegmentID        string      `json:"segmentId"`
	SessionID        string      `json:"sessionId"`
	UserID           string      `json:"userId,omitempty"` // empty means anonymous
	Place            string      `json:"place"`
	District         string      `json:"district"`
	PagePath         string      `json:"pagePath,omitempty"`
	TimeSpentSeconds int64       `json:"timeSpentSeconds"`
	ExitReason       ExitReason  `json:"exitReason"`
	IsSiteExit       bool        `json:"isSiteExit"`
	GeoLocation      *GeoPoint   `json:"geoLocation,omitempty"`
	DeviceInfo       *DeviceInfo `json:"deviceInfo,omitempty"`
	CapturedAt       time.Time   `json:"capturedAt"`
}

// Anonymous reports whether the segment carries no authenticated identity.
func (v *VisitSegment) Anonymous() bool {
	return v.UserID == ""
}

// TrackVisitRequest is the ingestion payload. TimeSpentSeconds is a pointer
// so a missing field can be told apart from a legitimate zero.
type TrackVisitRequest struct {
	SessionID        string      `json:"sessionId" binding:"required"`
	UserID           string      `json:"userId"`
	Place            string      `json:"place"`
	PagePath         string      `json:"pagePath"`
	TimeSpentSeconds *int64      `json:"timeSpentSeconds" binding:"required,gte=0"`
	ExitReason       string      `json:"exitReason"`
	IsSiteExit       bool        `json:"isSiteExit"`
	GeoLocation      *GeoPoint   `json:"geoLocation"`
	DeviceInfo       *DeviceInfo `json:"deviceInfo"`
}

// Place is a visitable location belonging to a district.
type Place struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DistrictID   string `json:"districtId"`
	DistrictName string `json:"districtName"`
}

// District is the parent grouping of places.
type District struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ResolvedPath is the always-present result of path resolution.
type ResolvedPath struct {
	LocationName string `json:"locationName"`
	DistrictName string `json:"districtName"`
	// PlaceID is set only when the path resolved to a known place entity.
	PlaceID string `json:"-"`
}
