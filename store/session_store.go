// api/store/session_store.go
package store

import (
	"context"
	"sync"
	"time"
)

// SessionStore maps a session id to an authenticated user id with a TTL.
// Callers never touch the backing storage directly, so the in-memory default
// can be swapped for Redis without changing them.
type SessionStore interface {
	Put(ctx context.Context, sessionID, userID string, ttl time.Duration) error
	// Get returns the user id and whether the session exists and is unexpired.
	Get(ctx context.Context, sessionID string) (string, bool, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

type sessionEntry struct {
	userID    string
	expiresAt time.Time
}

// MemorySessionStore is a mutex-guarded map with a janitor goroutine that
// evicts expired entries.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]sessionEntry
	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemorySessionStore(janitorInterval time.Duration) *MemorySessionStore {
	s := &MemorySessionStore{
		sessions: make(map[string]sessionEntry),
		stop:     make(chan struct{}),
	}
	if janitorInterval > 0 {
		go s.janitor(janitorInterval)
	}
	return s
}

func (s *MemorySessionStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for id, entry := range s.sessions {
				if now.After(entry.expiresAt) {
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

func (s *MemorySessionStore) Put(ctx context.Context, sessionID, userID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = sessionEntry{
		userID:    userID,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (s *MemorySessionStore) Get(ctx context.Context, sessionID string) (string, bool, error) {
	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false, nil
	}
	return entry.userID, true, nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemorySessionStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
