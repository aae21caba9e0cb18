// api/tracker/geo.go
package tracker

import (
	"context"
	"sync"

	"wandertrack/api/models"
)

// GeoSource supplies a previously cached device fix. Tracking never waits on
// a fresh location request, so implementations must answer from memory and
// honor the caller's (short) deadline.
type GeoSource interface {
	Fix(ctx context.Context) (*models.GeoPoint, error)
}

// CachedFix is the default GeoSource: the host app stores a fix whenever it
// obtains one, and the detector reads that value at emission time.
type CachedFix struct {
	mu    sync.RWMutex
	point *models.GeoPoint
}

func NewCachedFix() *CachedFix {
	return &CachedFix{}
}

func (c *CachedFix) Set(lon, lat float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.point = &models.GeoPoint{Type: "Point", Coordinates: []float64{lon, lat}}
}

func (c *CachedFix) Fix(ctx context.Context) (*models.GeoPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.point == nil {
		return nil, nil
	}
	point := *c.point
	point.Coordinates = append([]float64(nil), c.point.Coordinates...)
	return &point, nil
}
