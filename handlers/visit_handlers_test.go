package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"wandertrack/api/analytics"
	"wandertrack/api/models"
	"wandertrack/api/store"
)

const (
	testPlaceID    = "6f1f3f9e-8a1c-4c7b-9f2d-001122334455"
	testDistrictID = "aa1f3f9e-8a1c-4c7b-9f2d-667788990011"
)

type fakeDirectory struct{}

func (fakeDirectory) GetPlace(ctx context.Context, id string) (*models.Place, error) {
	if id == testPlaceID {
		return &models.Place{ID: testPlaceID, Name: "Beach A", DistrictID: testDistrictID, DistrictName: "North District"}, nil
	}
	return nil, store.ErrNotFound
}

func (fakeDirectory) GetDistrict(ctx context.Context, id string) (*models.District, error) {
	if id == testDistrictID {
		return &models.District{ID: testDistrictID, Name: "North District"}, nil
	}
	return nil, store.ErrNotFound
}

type fakeDwell struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (f *fakeDwell) Accumulate(ctx context.Context, anonSessionID, placeID string, seconds int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("dwell store down")
	}
	f.calls = append(f.calls, anonSessionID+"/"+placeID)
	return nil
}

func (f *fakeDwell) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func setupVisitRouter(t *testing.T) (*gin.Engine, *store.MemoryVisitStore, *fakeDwell) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	visits := store.NewMemoryVisitStore()
	dwell := &fakeDwell{}
	h := NewVisitHandlers(visits, fakeDirectory{}, dwell)

	r := gin.New()
	api := r.Group("/api")
	api.POST("/visits", h.TrackVisit)
	api.GET("/resolve/:id", h.ResolvePath)
	api.GET("/stats/overall", h.GetOverallStats)
	api.GET("/stats/by-location", h.GetStatsByLocation)
	api.GET("/stats/by-district", h.GetStatsByDistrict)
	api.GET("/stats/top-pages", h.GetTopPages)
	api.GET("/stats/top-users", h.GetTopUsers)
	api.GET("/stats/live", h.GetLiveUsers)
	api.GET("/stats/geo", h.GetGeoStats)
	return r, visits, dwell
}

func postJSON(t *testing.T, r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func getJSON(t *testing.T, r *gin.Engine, path string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if out != nil {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("unmarshal response %q: %v", w.Body.String(), err)
		}
	}
	return w
}

func spentPtr(v int64) *int64 { return &v }

func TestTrackVisitValidationGate(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing timeSpentSeconds", map[string]interface{}{
			"sessionId": "sess-1", "place": "Beach A",
		}},
		{"negative timeSpentSeconds", map[string]interface{}{
			"sessionId": "sess-1", "place": "Beach A", "timeSpentSeconds": -5,
		}},
		{"missing sessionId", map[string]interface{}{
			"place": "Beach A", "timeSpentSeconds": 10,
		}},
		{"missing place and pagePath", map[string]interface{}{
			"sessionId": "sess-1", "timeSpentSeconds": 10,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, visits, _ := setupVisitRouter(t)

			w := postJSON(t, r, "/api/visits", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if visits.Len() != 0 {
				t.Errorf("rejected request must not store a row, got %d", visits.Len())
			}
		})
	}
}

func TestTrackVisitStoresResolvedSegment(t *testing.T) {
	r, visits, dwell := setupVisitRouter(t)

	w := postJSON(t, r, "/api/visits", models.TrackVisitRequest{
		SessionID:        "sess-1",
		PagePath:         "/locations/" + testPlaceID,
		TimeSpentSeconds: spentPtr(42),
		ExitReason:       "internal_navigation",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var stored models.VisitSegment
	if err := json.Unmarshal(w.Body.Bytes(), &stored); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if stored.SegmentID == "" {
		t.Error("response missing server-assigned segment id")
	}
	if stored.CapturedAt.IsZero() {
		t.Error("response missing server-assigned capture timestamp")
	}
	if stored.Place != "Beach A" || stored.District != "North District" {
		t.Errorf("resolved to (%q, %q), want (Beach A, North District)", stored.Place, stored.District)
	}

	if visits.Len() != 1 {
		t.Fatalf("expected 1 stored row, got %d", visits.Len())
	}

	// Anonymous segment on a resolvable place accumulates dwell.
	if dwell.count() != 1 {
		t.Errorf("expected 1 dwell accumulation, got %d", dwell.count())
	}
}

func TestTrackVisitAuthenticatedSkipsAnonDwell(t *testing.T) {
	r, _, dwell := setupVisitRouter(t)

	w := postJSON(t, r, "/api/visits", models.TrackVisitRequest{
		SessionID:        "sess-1",
		UserID:           "7",
		PagePath:         "/locations/" + testPlaceID,
		TimeSpentSeconds: spentPtr(10),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if dwell.count() != 0 {
		t.Errorf("authenticated segment must not touch the anonymous dwell table")
	}
}

func TestTrackVisitDwellFailureDoesNotFailIngestion(t *testing.T) {
	r, visits, dwell := setupVisitRouter(t)
	dwell.fail = true

	w := postJSON(t, r, "/api/visits", models.TrackVisitRequest{
		SessionID:        "sess-1",
		PagePath:         "/locations/" + testPlaceID,
		TimeSpentSeconds: spentPtr(10),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 despite dwell failure", w.Code)
	}
	if visits.Len() != 1 {
		t.Errorf("segment must still be stored, got %d rows", visits.Len())
	}
}

func TestTrackVisitDropsMalformedGeo(t *testing.T) {
	r, _, _ := setupVisitRouter(t)

	w := postJSON(t, r, "/api/visits", models.TrackVisitRequest{
		SessionID:        "sess-1",
		Place:            "Beach A",
		TimeSpentSeconds: spentPtr(10),
		GeoLocation:      &models.GeoPoint{Type: "Point", Coordinates: []float64{500, 99}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}

	var stored models.VisitSegment
	if err := json.Unmarshal(w.Body.Bytes(), &stored); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if stored.GeoLocation != nil {
		t.Errorf("out-of-range coordinates must be dropped, got %+v", stored.GeoLocation)
	}
}

func seedSegments(t *testing.T, visits *store.MemoryVisitStore, segs ...models.VisitSegment) {
	t.Helper()
	if err := visits.Insert(context.Background(), segs...); err != nil {
		t.Fatalf("seed segments: %v", err)
	}
}

func TestOverallStatsEndpoint(t *testing.T) {
	r, visits, _ := setupVisitRouter(t)
	seedSegments(t, visits,
		models.VisitSegment{SessionID: "s1", Place: "Beach A", District: "North District", TimeSpentSeconds: 10},
		models.VisitSegment{SessionID: "s2", Place: "Beach A", District: "North District", TimeSpentSeconds: 20},
		models.VisitSegment{SessionID: "s3", Place: "Beach A", District: "North District", TimeSpentSeconds: 5},
	)

	var stats analytics.OverallStats
	w := getJSON(t, r, "/api/stats/overall", &stats)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if stats.TotalVisits != 3 || stats.TotalTimeSpentSeconds != 35 || stats.AvgTimeSpentSeconds != 11.67 {
		t.Errorf("overall stats = %+v, want count=3 total=35 avg=11.67", stats)
	}
}

func TestStatsByLocationEndpoint(t *testing.T) {
	r, visits, _ := setupVisitRouter(t)
	seedSegments(t, visits,
		models.VisitSegment{SessionID: "s1", Place: "Beach A", District: "North District", TimeSpentSeconds: 10},
		models.VisitSegment{SessionID: "s2", Place: "Beach A", District: "North District", TimeSpentSeconds: 20},
		models.VisitSegment{SessionID: "s3", Place: "Beach A", District: "North District", TimeSpentSeconds: 5},
		models.VisitSegment{SessionID: "s4", Place: "Old Town", District: "Central", TimeSpentSeconds: 100},
	)

	var rollups []analytics.GroupRollup
	w := getJSON(t, r, "/api/stats/by-location", &rollups)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(rollups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(rollups))
	}
	if rollups[0].Name != "Beach A" || rollups[0].Count != 3 || rollups[0].TotalTimeSpentSeconds != 35 || rollups[0].AvgTimeSpentSeconds != 11.67 {
		t.Errorf("Beach A rollup = %+v", rollups[0])
	}
}

func TestStatsDistrictFilter(t *testing.T) {
	r, visits, _ := setupVisitRouter(t)
	seedSegments(t, visits,
		models.VisitSegment{SessionID: "s1", Place: "Beach A", District: "North District", TimeSpentSeconds: 10},
		models.VisitSegment{SessionID: "s2", Place: "Old Town", District: "Central", TimeSpentSeconds: 100},
	)

	var rollups []analytics.GroupRollup
	w := getJSON(t, r, "/api/stats/by-location?districtId="+testDistrictID, &rollups)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(rollups) != 1 || rollups[0].Name != "Beach A" {
		t.Errorf("filtered rollups = %+v, want only Beach A", rollups)
	}
}

func TestMalformedFilterYieldsEmptyResult(t *testing.T) {
	r, visits, _ := setupVisitRouter(t)
	seedSegments(t, visits,
		models.VisitSegment{SessionID: "s1", Place: "Beach A", District: "North District", TimeSpentSeconds: 10},
	)

	for _, query := range []string{
		"districtId=not-a-uuid",
		"districtId=" + testPlaceID, // valid shape, unknown district
		"locationId=" + url.QueryEscape("'; DROP TABLE visit_segments; --"),
	} {
		var rollups []analytics.GroupRollup
		w := getJSON(t, r, "/api/stats/by-location?"+query, &rollups)
		if w.Code != http.StatusOK {
			t.Errorf("query %q: status = %d, want 200", query, w.Code)
		}
		if len(rollups) != 0 {
			t.Errorf("query %q: expected empty result, got %+v", query, rollups)
		}
	}
}

func TestPaginationOverflowYieldsEmptyResult(t *testing.T) {
	r, visits, _ := setupVisitRouter(t)
	seedSegments(t, visits,
		models.VisitSegment{SessionID: "s1", Place: "Beach A", District: "North District", TimeSpentSeconds: 10},
		models.VisitSegment{SessionID: "s2", Place: "Old Town", District: "Central", TimeSpentSeconds: 20},
	)

	// Page/limit values past the data, including products that overflow an
	// int64 offset, answer with an empty page, never a 5xx.
	for _, query := range []string{
		"page=4611686018427387905&limit=2",
		"page=9223372036854775807&limit=9223372036854775807",
		"page=2&limit=9223372036854775807",
		"page=1000000",
	} {
		var rollups []analytics.GroupRollup
		w := getJSON(t, r, "/api/stats/by-location?"+query, &rollups)
		if w.Code != http.StatusOK {
			t.Errorf("query %q: status = %d, want 200", query, w.Code)
		}
		if len(rollups) != 0 {
			t.Errorf("query %q: expected empty result, got %+v", query, rollups)
		}
	}

	// Sane pagination still pages.
	var rollups []analytics.GroupRollup
	w := getJSON(t, r, "/api/stats/by-location?page=2&limit=1", &rollups)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(rollups) != 1 {
		t.Fatalf("expected the second single-entry page, got %+v", rollups)
	}
}

func TestTopUsersEndpointAnonymousBucket(t *testing.T) {
	r, visits, _ := setupVisitRouter(t)
	seedSegments(t, visits,
		models.VisitSegment{SessionID: "s1", Place: "Beach A", District: "North District", TimeSpentSeconds: 10},
	)

	var rollups []analytics.GroupRollup
	w := getJSON(t, r, "/api/stats/top-users", &rollups)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(rollups) != 1 || rollups[0].Name != analytics.AnonymousBucket || rollups[0].Count != 1 {
		t.Errorf("rollups = %+v, want single Anonymous bucket with count 1", rollups)
	}
}

func TestLiveUsersEndpointWindow(t *testing.T) {
	r, visits, _ := setupVisitRouter(t)
	now := time.Now().UTC()
	seedSegments(t, visits,
		models.VisitSegment{SessionID: "fresh", Place: "Beach A", CapturedAt: now.Add(-30 * time.Second)},
		models.VisitSegment{SessionID: "stale", Place: "Beach A", CapturedAt: now.Add(-90 * time.Second)},
	)

	var stats analytics.LiveStats
	w := getJSON(t, r, "/api/stats/live", &stats)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if stats.Total != 1 {
		t.Errorf("live total = %d, want 1", stats.Total)
	}
	if len(stats.Sessions) != 1 || stats.Sessions[0].SessionID != "fresh" {
		t.Errorf("live sessions = %+v", stats.Sessions)
	}
}

func TestGeoStatsEndpoint(t *testing.T) {
	r, visits, _ := setupVisitRouter(t)
	seedSegments(t, visits,
		models.VisitSegment{
			SegmentID: "g1", SessionID: "s1", Place: "Beach A", District: "North District",
			GeoLocation: &models.GeoPoint{Type: "Point", Coordinates: []float64{108.22, 16.06}},
		},
		models.VisitSegment{SegmentID: "g2", SessionID: "s2", Place: "Old Town", District: "Central"},
	)

	var resp struct {
		Count  int                  `json:"count"`
		Points []analytics.GeoVisit `json:"points"`
	}
	w := getJSON(t, r, "/api/stats/geo", &resp)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resp.Count != 1 || len(resp.Points) != 1 {
		t.Fatalf("geo response = %+v, want exactly the tagged row", resp)
	}
	if resp.Points[0].Coordinates[0] != 108.22 || resp.Points[0].Coordinates[1] != 16.06 {
		t.Errorf("coordinates = %v, want [108.22 16.06]", resp.Points[0].Coordinates)
	}
}

func TestResolveEndpointAlwaysAnswers(t *testing.T) {
	r, _, _ := setupVisitRouter(t)

	var resolved models.ResolvedPath
	w := getJSON(t, r, "/api/resolve/"+testPlaceID, &resolved)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resolved.LocationName != "Beach A" || resolved.DistrictName != "North District" {
		t.Errorf("resolved = %+v", resolved)
	}

	w = getJSON(t, r, "/api/resolve/garbage-id", &resolved)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for garbage id", w.Code)
	}
	if resolved.LocationName == "" || resolved.DistrictName == "" {
		t.Errorf("resolver must always return both names, got %+v", resolved)
	}
}
