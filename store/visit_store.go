// api/store/visit_store.go
package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/paulmach/orb"

	"wandertrack/api/database"
	"wandertrack/api/models"
)

// VisitFilter narrows segment listings. Zero values mean "no constraint".
type VisitFilter struct {
	District string
	Place    string
	Limit    int
	Offset   int
}

// VisitStore is the append-only storage behind the aggregation engine.
// Rollups are computed over the returned rows, not inside the store, so the
// engine can be re-targeted at any backend.
type VisitStore interface {
	Insert(ctx context.Context, segments ...models.VisitSegment) error
	List(ctx context.Context, f VisitFilter) ([]models.VisitSegment, error)
	ListRecent(ctx context.Context, since time.Time) ([]models.VisitSegment, error)
	ListGeoTagged(ctx context.Context, limit int) ([]models.VisitSegment, error)
}

// ClickHouseVisitStore persists visit segments in a ClickHouse MergeTree table.
type ClickHouseVisitStore struct {
	DB *database.ClickHouseClient
}

func NewClickHouseVisitStore(ctx context.Context, chClient *database.ClickHouseClient) (*ClickHouseVisitStore, error) {
	s := &ClickHouseVisitStore{DB: chClient}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ClickHouseVisitStore) ensureSchema(ctx context.Context) error {
	err := s.DB.Conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS visit_segments (
			segment_id         String,
			session_id         String,
			user_id            String,
			place              String,
			district           String,
			page_path          String,
			time_spent_seconds Int64,
			exit_reason        LowCardinality(String),
			is_site_exit       UInt8,
			has_geo            UInt8,
			geo                Point,
			browser            String,
			os                 String,
			is_mobile          UInt8,
			captured_at        DateTime64(3, 'UTC')
		) ENGINE = MergeTree
		ORDER BY (captured_at, session_id)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure visit_segments table: %w", err)
	}
	return nil
}

func (s *ClickHouseVisitStore) Insert(ctx context.Context, segments ...models.VisitSegment) error {
	if len(segments) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO visit_segments (
			segment_id, session_id, user_id, place, district, page_path,
			time_spent_seconds, exit_reason, is_site_exit, has_geo, geo,
			browser, os, is_mobile, captured_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, seg := range segments {
		var (
			hasGeo uint8
			geo    orb.Point
		)
		if seg.GeoLocation.Valid() {
			hasGeo = 1
			geo = orb.Point{seg.GeoLocation.Coordinates[0], seg.GeoLocation.Coordinates[1]}
		}

		var browser, osName string
		var isMobile uint8
		if seg.DeviceInfo != nil {
			browser = seg.DeviceInfo.Browser
			osName = seg.DeviceInfo.OS
			if seg.DeviceInfo.Mobile {
				isMobile = 1
			}
		}

		err := batch.Append(
			seg.SegmentID,
			seg.SessionID,
			seg.UserID,
			seg.Place,
			seg.District,
			seg.PagePath,
			seg.TimeSpentSeconds,
			string(seg.ExitReason),
			boolToUInt8(seg.IsSiteExit),
			hasGeo,
			geo,
			browser,
			osName,
			isMobile,
			seg.CapturedAt,
		)
		if err != nil {
			log.Printf("Error appending visit segment to batch (SegmentID: %s): %v", seg.SegmentID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	return nil
}

const visitColumns = `
	segment_id, session_id, user_id, place, district, page_path,
	time_spent_seconds, exit_reason, is_site_exit, has_geo, geo,
	browser, os, is_mobile, captured_at
`

func (s *ClickHouseVisitStore) List(ctx context.Context, f VisitFilter) ([]models.VisitSegment, error) {
	query := `SELECT ` + visitColumns + ` FROM visit_segments WHERE 1 = 1`
	var args []interface{}

	if f.District != "" {
		query += " AND district = ?"
		args = append(args, f.District)
	}
	if f.Place != "" {
		query += " AND place = ?"
		args = append(args, f.Place)
	}
	query += " ORDER BY captured_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, uint64(f.Limit), uint64(f.Offset))
	}

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query visit segments: %w", err)
	}
	defer rows.Close()

	return scanVisitRows(rows)
}

func (s *ClickHouseVisitStore) ListRecent(ctx context.Context, since time.Time) ([]models.VisitSegment, error) {
	rows, err := s.DB.Conn.Query(ctx, `
		SELECT `+visitColumns+`
		FROM visit_segments
		WHERE captured_at >= ?
		ORDER BY captured_at DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent visit segments: %w", err)
	}
	defer rows.Close()

	return scanVisitRows(rows)
}

func (s *ClickHouseVisitStore) ListGeoTagged(ctx context.Context, limit int) ([]models.VisitSegment, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.DB.Conn.Query(ctx, `
		SELECT `+visitColumns+`
		FROM visit_segments
		WHERE has_geo = 1
		ORDER BY captured_at DESC
		LIMIT ?
	`, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query geotagged visit segments: %w", err)
	}
	defer rows.Close()

	return scanVisitRows(rows)
}

type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanVisitRows(rows chRows) ([]models.VisitSegment, error) {
	var results []models.VisitSegment
	for rows.Next() {
		var (
			seg        models.VisitSegment
			exitReason string
			isSiteExit uint8
			hasGeo     uint8
			geo        orb.Point
			browser    string
			osName     string
			isMobile   uint8
		)
		if err := rows.Scan(
			&seg.SegmentID,
			&seg.SessionID,
			&seg.UserID,
			&seg.Place,
			&seg.District,
			&seg.PagePath,
			&seg.TimeSpentSeconds,
			&exitReason,
			&isSiteExit,
			&hasGeo,
			&geo,
			&browser,
			&osName,
			&isMobile,
			&seg.CapturedAt,
		); err != nil {
			log.Printf("Error scanning visit segment row: %v", err)
			continue
		}

		seg.ExitReason = models.ExitReason(exitReason)
		seg.IsSiteExit = isSiteExit == 1
		if hasGeo == 1 {
			seg.GeoLocation = &models.GeoPoint{
				Type:        "Point",
				Coordinates: []float64{geo[0], geo[1]},
			}
		}
		if browser != "" || osName != "" || isMobile == 1 {
			seg.DeviceInfo = &models.DeviceInfo{
				Browser: browser,
				OS:      osName,
				Mobile:  isMobile == 1,
			}
		}
		results = append(results, seg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during visit segment query: %w", err)
	}

	return results, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
