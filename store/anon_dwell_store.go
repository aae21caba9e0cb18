// api/store/anon_dwell_store.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

// AnonDwellStore accumulates dwell time for non-authenticated sessions,
// keyed by (anonymous session id, place id). Repeated visits to the same
// place within one anonymous identity add up instead of creating new rows.
type AnonDwellStore struct {
	db *sql.DB
}

func NewAnonDwellStore(db *sql.DB) *AnonDwellStore {
	return &AnonDwellStore{db: db}
}

func (s *AnonDwellStore) Accumulate(ctx context.Context, anonSessionID, placeID string, seconds int64) error {
	if anonSessionID == "" || placeID == "" || seconds <= 0 {
		return nil
	}

	query := `
		INSERT INTO anonymous_dwell (anon_session_id, place_id, time_spent_seconds, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (anon_session_id, place_id)
		DO UPDATE SET
			time_spent_seconds = anonymous_dwell.time_spent_seconds + EXCLUDED.time_spent_seconds,
			updated_at = now();
	`
	if _, err := s.db.ExecContext(ctx, query, anonSessionID, placeID, seconds); err != nil {
		return fmt.Errorf("failed to accumulate anonymous dwell time: %w", err)
	}
	return nil
}

// GetDwell returns the accumulated seconds for one (session, place) key.
func (s *AnonDwellStore) GetDwell(ctx context.Context, anonSessionID, placeID string) (int64, error) {
	var seconds int64
	query := `
		SELECT time_spent_seconds
		FROM anonymous_dwell
		WHERE anon_session_id = $1 AND place_id = $2;
	`
	err := s.db.QueryRowContext(ctx, query, anonSessionID, placeID).Scan(&seconds)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to get anonymous dwell time: %w", err)
	}
	return seconds, nil
}

// Sweep deletes rows not touched within the retention window. Anonymous
// session ids are client-generated, so without eviction the table grows
// without bound.
func (s *AnonDwellStore) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM anonymous_dwell
		WHERE updated_at < now() - $1::interval;
	`, fmt.Sprintf("%d seconds", int64(retention.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep anonymous dwell rows: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept anonymous dwell rows: %w", err)
	}
	if deleted > 0 {
		log.Printf("Swept %d stale anonymous dwell rows.", deleted)
	}
	return deleted, nil
}
