// api/store/place_store.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wandertrack/api/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// PlaceStore reads place and district entities used for path resolution.
type PlaceStore struct {
	db *sql.DB
}

func NewPlaceStore(db *sql.DB) *PlaceStore {
	return &PlaceStore{db: db}
}

// GetPlace returns a place with its parent district's name joined in.
func (s *PlaceStore) GetPlace(ctx context.Context, id string) (*models.Place, error) {
	place := &models.Place{}
	query := `
		SELECT p.id, p.name, p.district_id, d.name
		FROM places p
		JOIN districts d ON d.id = p.district_id
		WHERE p.id = $1;
	`
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&place.ID,
		&place.Name,
		&place.DistrictID,
		&place.DistrictName,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get place %s: %w", id, err)
	}

	return place, nil
}

func (s *PlaceStore) GetDistrict(ctx context.Context, id string) (*models.District, error) {
	district := &models.District{}
	query := `
		SELECT id, name
		FROM districts
		WHERE id = $1;
	`
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&district.ID,
		&district.Name,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get district %s: %w", id, err)
	}

	return district, nil
}
