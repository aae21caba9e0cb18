// api/tracker/session.go
package tracker

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"
)

// TokenStorage persists the session token across tracker restarts, the same
// way a browser keeps it for the lifetime of the session.
type TokenStorage interface {
	Load() (string, error)
	Save(token string) error
}

// FileTokenStorage keeps the token in a single file.
type FileTokenStorage struct {
	Path string
}

func NewFileTokenStorage(path string) *FileTokenStorage {
	return &FileTokenStorage{Path: path}
}

func (s *FileTokenStorage) Load() (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FileTokenStorage) Save(token string) error {
	return os.WriteFile(s.Path, []byte(token), 0o600)
}

// SessionProvider issues one durable session token per client and carries
// the optional authenticated-user identity the host app resolves.
type SessionProvider struct {
	mu     sync.RWMutex
	token  string
	userID string
}

// NewSessionProvider loads an existing token from storage or generates and
// persists a fresh one. A nil storage yields an ephemeral session.
func NewSessionProvider(storage TokenStorage) (*SessionProvider, error) {
	p := &SessionProvider{}

	if storage != nil {
		if token, err := storage.Load(); err == nil && token != "" {
			p.token = token
			return p, nil
		}
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	p.token = token

	if storage != nil {
		if err := storage.Save(token); err != nil {
			return nil, fmt.Errorf("failed to persist session token: %w", err)
		}
	}
	return p, nil
}

func (p *SessionProvider) Token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

// SetUserID records the authenticated identity; an empty id marks the
// session anonymous again.
func (p *SessionProvider) SetUserID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userID = id
}

func (p *SessionProvider) UserID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.userID
}

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
