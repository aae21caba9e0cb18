// api/utils/resolver.go
package utils

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"wandertrack/api/models"
)

// Fallbacks when nothing in the path resolves to a known entity. Analytics
// must not block on classification noise, so resolution is total: any input,
// however malformed, yields a well-formed pair.
const (
	UnknownLocation = "Unknown Location"
	UnknownDistrict = "N/A"
)

// PlaceDirectory is the lookup side of path resolution.
type PlaceDirectory interface {
	GetPlace(ctx context.Context, id string) (*models.Place, error)
	GetDistrict(ctx context.Context, id string) (*models.District, error)
}

// ResolvePath maps an opaque route or entity id to display names.
//
// Resolution ladder:
//  1. no UUID-shaped trailing segment: the first meaningful path segment is
//     taken as a literal display name (static pages),
//  2. UUID that names a place: the place's name and its district's name,
//  3. UUID that names a district: the district's name for both fields,
//  4. otherwise ("Unknown Location", "N/A").
func ResolvePath(ctx context.Context, dir PlaceDirectory, raw string) models.ResolvedPath {
	segments := pathSegments(raw)
	if len(segments) == 0 {
		return models.ResolvedPath{LocationName: UnknownLocation, DistrictName: UnknownDistrict}
	}

	id := segments[len(segments)-1]
	if _, err := uuid.Parse(id); err != nil {
		return models.ResolvedPath{LocationName: segments[0], DistrictName: UnknownDistrict}
	}

	if dir != nil {
		if place, err := dir.GetPlace(ctx, id); err == nil && place != nil {
			return models.ResolvedPath{
				LocationName: place.Name,
				DistrictName: place.DistrictName,
				PlaceID:      place.ID,
			}
		}
		if district, err := dir.GetDistrict(ctx, id); err == nil && district != nil {
			return models.ResolvedPath{
				LocationName: district.Name,
				DistrictName: district.Name,
			}
		}
	}

	return models.ResolvedPath{LocationName: UnknownLocation, DistrictName: UnknownDistrict}
}

func pathSegments(raw string) []string {
	var segments []string
	for _, part := range strings.Split(raw, "/") {
		part = strings.TrimSpace(part)
		if part != "" && part != "." && part != ".." {
			segments = append(segments, part)
		}
	}
	return segments
}
