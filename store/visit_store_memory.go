// api/store/visit_store_memory.go
package store

import (
	"context"
	"sync"
	"time"

	"wandertrack/api/models"
)

// MemoryVisitStore keeps segments in process memory. It backs handler and
// engine tests and lets the aggregation layer stay oblivious to ClickHouse.
type MemoryVisitStore struct {
	mu       sync.RWMutex
	segments []models.VisitSegment
}

func NewMemoryVisitStore() *MemoryVisitStore {
	return &MemoryVisitStore{}
}

func (s *MemoryVisitStore) Insert(ctx context.Context, segments ...models.VisitSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append(s.segments, segments...)
	return nil
}

func (s *MemoryVisitStore) List(ctx context.Context, f VisitFilter) ([]models.VisitSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []models.VisitSegment
	for _, seg := range s.segments {
		if f.District != "" && seg.District != f.District {
			continue
		}
		if f.Place != "" && seg.Place != f.Place {
			continue
		}
		results = append(results, seg)
	}

	if f.Limit > 0 {
		if f.Offset >= len(results) {
			return nil, nil
		}
		results = results[f.Offset:]
		if len(results) > f.Limit {
			results = results[:f.Limit]
		}
	}
	return results, nil
}

func (s *MemoryVisitStore) ListRecent(ctx context.Context, since time.Time) ([]models.VisitSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []models.VisitSegment
	for _, seg := range s.segments {
		if !seg.CapturedAt.Before(since) {
			results = append(results, seg)
		}
	}
	return results, nil
}

func (s *MemoryVisitStore) ListGeoTagged(ctx context.Context, limit int) ([]models.VisitSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []models.VisitSegment
	for _, seg := range s.segments {
		if seg.GeoLocation.Valid() {
			results = append(results, seg)
			if limit > 0 && len(results) == limit {
				break
			}
		}
	}
	return results, nil
}

// Len reports the number of stored segments.
func (s *MemoryVisitStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}
