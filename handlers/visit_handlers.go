// api/handlers/visit_handlers.go
package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"wandertrack/api/analytics"
	"wandertrack/api/models"
	"wandertrack/api/store"
	"wandertrack/api/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mssola/useragent"
)

const (
	liveWindow   = 60 * time.Second
	liveListCap  = 50
	geoListCap   = 1000
	defaultTopN  = 10
	defaultLimit = 50
	maxPageLimit = 500
	writeTimeout = 15 * time.Second
	queryTimeout = 10 * time.Second
	dwellTimeout = 5 * time.Second
)

// DwellRecorder accumulates anonymous dwell time. Recording is best-effort:
// a failure never fails the ingestion that triggered it.
type DwellRecorder interface {
	Accumulate(ctx context.Context, anonSessionID, placeID string, seconds int64) error
}

type VisitHandlers struct {
	Visits store.VisitStore
	Places utils.PlaceDirectory
	Dwell  DwellRecorder
}

func NewVisitHandlers(visits store.VisitStore, places utils.PlaceDirectory, dwell DwellRecorder) *VisitHandlers {
	return &VisitHandlers{
		Visits: visits,
		Places: places,
		Dwell:  dwell,
	}
}

// TrackVisit ingests one visit segment. sessionId, a place or page path, and
// a non-negative timeSpentSeconds are the hard validation gate; everything
// else is defaulted.
func (h *VisitHandlers) TrackVisit(c *gin.Context) {
	var req models.TrackVisitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if req.Place == "" && req.PagePath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Either 'place' or 'pagePath' is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()

	raw := req.PagePath
	if raw == "" {
		raw = req.Place
	}
	resolved := utils.ResolvePath(ctx, h.Places, raw)

	place := req.Place
	if place == "" {
		place = resolved.LocationName
	}

	userID := req.UserID
	if id, ok := c.Get("user_id"); ok {
		if intID, isInt := id.(int); isInt {
			userID = strconv.Itoa(intID)
		}
	}

	exitReason := models.ExitUnknown
	if models.ValidExitReason(req.ExitReason) {
		exitReason = models.ExitReason(req.ExitReason)
	}

	geo := req.GeoLocation
	if geo != nil && !geo.Valid() {
		log.Printf("Dropping malformed geolocation on segment for session %s", req.SessionID)
		geo = nil
	}

	device := req.DeviceInfo
	if device == nil {
		device = deviceInfoFromUserAgent(c.Request.UserAgent())
	}

	seg := models.VisitSegment{
		SegmentID:        uuid.New().String(),
		SessionID:        req.SessionID,
		UserID:           userID,
		Place:            place,
		District:         resolved.DistrictName,
		PagePath:         req.PagePath,
		TimeSpentSeconds: *req.TimeSpentSeconds,
		ExitReason:       exitReason,
		IsSiteExit:       req.IsSiteExit,
		GeoLocation:      geo,
		DeviceInfo:       device,
		CapturedAt:       time.Now().UTC(),
	}

	if err := h.Visits.Insert(ctx, seg); err != nil {
		log.Printf("Error inserting visit segment for session %s: %v", seg.SessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record visit"})
		return
	}

	if seg.Anonymous() && resolved.PlaceID != "" && h.Dwell != nil {
		dwellCtx, dwellCancel := context.WithTimeout(context.Background(), dwellTimeout)
		defer dwellCancel()
		if err := h.Dwell.Accumulate(dwellCtx, seg.SessionID, resolved.PlaceID, seg.TimeSpentSeconds); err != nil {
			log.Printf("Error accumulating anonymous dwell time for session %s: %v", seg.SessionID, err)
		}
	}

	c.JSON(http.StatusCreated, seg)
}

// ResolvePath exposes path resolution to clients that want display names
// before ingestion. The response is always well-formed.
func (h *VisitHandlers) ResolvePath(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	resolved := utils.ResolvePath(ctx, h.Places, c.Param("id"))
	c.JSON(http.StatusOK, resolved)
}

func (h *VisitHandlers) GetOverallStats(c *gin.Context) {
	filter, ok := h.statsFilter(c)
	if !ok {
		c.JSON(http.StatusOK, analytics.OverallStats{})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	segments, err := h.Visits.List(ctx, filter)
	if err != nil {
		log.Printf("Error listing visit segments for overall stats: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve visit statistics"})
		return
	}

	c.JSON(http.StatusOK, analytics.Overall(segments))
}

func (h *VisitHandlers) GetStatsByLocation(c *gin.Context) {
	h.groupedStats(c, analytics.RollupByPlace)
}

func (h *VisitHandlers) GetStatsByDistrict(c *gin.Context) {
	h.groupedStats(c, analytics.RollupByDistrict)
}

func (h *VisitHandlers) groupedStats(c *gin.Context, rollup func([]models.VisitSegment) []analytics.GroupRollup) {
	filter, ok := h.statsFilter(c)
	if !ok {
		c.JSON(http.StatusOK, []analytics.GroupRollup{})
		return
	}
	page, limit := pagination(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	segments, err := h.Visits.List(ctx, store.VisitFilter{District: filter.District, Place: filter.Place})
	if err != nil {
		log.Printf("Error listing visit segments for grouped stats: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve visit statistics"})
		return
	}

	c.JSON(http.StatusOK, paginateRollups(rollup(segments), page, limit))
}

func (h *VisitHandlers) GetTopPages(c *gin.Context) {
	h.topStats(c, analytics.TopPages)
}

func (h *VisitHandlers) GetTopUsers(c *gin.Context) {
	h.topStats(c, analytics.TopUsers)
}

func (h *VisitHandlers) topStats(c *gin.Context, top func([]models.VisitSegment, int) []analytics.GroupRollup) {
	filter, ok := h.statsFilter(c)
	if !ok {
		c.JSON(http.StatusOK, []analytics.GroupRollup{})
		return
	}

	limit := defaultTopN
	if parsed, err := strconv.Atoi(c.Query("limit")); err == nil && parsed > 0 {
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	segments, err := h.Visits.List(ctx, store.VisitFilter{District: filter.District, Place: filter.Place})
	if err != nil {
		log.Printf("Error listing visit segments for top stats: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve visit statistics"})
		return
	}

	results := top(segments, limit)
	if results == nil {
		results = []analytics.GroupRollup{}
	}
	c.JSON(http.StatusOK, results)
}

// GetLiveUsers approximates "currently on site" from the rolling window of
// most recent segments. No persistent connection, no filters.
func (h *VisitHandlers) GetLiveUsers(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	now := time.Now().UTC()
	segments, err := h.Visits.ListRecent(ctx, now.Add(-liveWindow))
	if err != nil {
		log.Printf("Error listing recent visit segments: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve live user statistics"})
		return
	}

	stats := analytics.Live(segments, now, liveWindow, liveListCap)
	if stats.Sessions == nil {
		stats.Sessions = []analytics.LiveSession{}
	}
	c.JSON(http.StatusOK, stats)
}

func (h *VisitHandlers) GetGeoStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	segments, err := h.Visits.ListGeoTagged(ctx, geoListCap)
	if err != nil {
		log.Printf("Error listing geotagged visit segments: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve geo statistics"})
		return
	}

	visits := analytics.GeoVisits(segments)
	if visits == nil {
		visits = []analytics.GeoVisit{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(visits), "points": visits})
}

// statsFilter resolves districtId/locationId query params into the display
// names stored on the rows. Malformed or unknown ids report ok=false and the
// caller answers with an empty result set, never an error: dashboards must
// not block on attacker-controlled filter noise.
func (h *VisitHandlers) statsFilter(c *gin.Context) (store.VisitFilter, bool) {
	var filter store.VisitFilter

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	if districtID := c.Query("districtId"); districtID != "" {
		if _, err := uuid.Parse(districtID); err != nil {
			return filter, false
		}
		if h.Places == nil {
			return filter, false
		}
		district, err := h.Places.GetDistrict(ctx, districtID)
		if err != nil || district == nil {
			return filter, false
		}
		filter.District = district.Name
	}

	if locationID := c.Query("locationId"); locationID != "" {
		if _, err := uuid.Parse(locationID); err != nil {
			return filter, false
		}
		if h.Places == nil {
			return filter, false
		}
		place, err := h.Places.GetPlace(ctx, locationID)
		if err != nil || place == nil {
			return filter, false
		}
		filter.Place = place.Name
	}

	return filter, true
}

// pagination reads page/limit query params. Out-of-range values fall back to
// the defaults; limit is capped so a single request cannot demand an
// unbounded page.
func pagination(c *gin.Context) (page, limit int) {
	page, limit = 1, defaultLimit
	if parsed, err := strconv.Atoi(c.Query("page")); err == nil && parsed > 0 {
		page = parsed
	}
	if parsed, err := strconv.Atoi(c.Query("limit")); err == nil && parsed > 0 && parsed <= maxPageLimit {
		limit = parsed
	}
	return page, limit
}

func paginateRollups(rollups []analytics.GroupRollup, page, limit int) []analytics.GroupRollup {
	if page < 1 || limit < 1 {
		return []analytics.GroupRollup{}
	}
	// Compare by division first: (page-1)*limit overflows for huge page
	// values, and query params are attacker-controlled.
	if page-1 > (len(rollups)-1)/limit {
		return []analytics.GroupRollup{}
	}
	start := (page - 1) * limit
	end := start + limit
	if end > len(rollups) {
		end = len(rollups)
	}
	return rollups[start:end]
}

func deviceInfoFromUserAgent(rawUA string) *models.DeviceInfo {
	if rawUA == "" {
		return nil
	}
	ua := useragent.New(rawUA)
	browser, _ := ua.Browser()
	info := &models.DeviceInfo{
		Browser: browser,
		OS:      ua.OS(),
		Mobile:  ua.Mobile(),
	}
	if info.Browser == "" && info.OS == "" {
		return nil
	}
	return info
}
