package spaauth

import (
	"context"
	"sync"
	"time"
)

// MemoryTokenStore is the session-mode token cache: tokens live for the
// process lifetime only.
type MemoryTokenStore struct {
	mu      sync.RWMutex
	access  map[string]TokenContainer
	id      TokenContainer
	refresh string
}

// NewMemoryTokenStore returns an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{access: make(map[string]TokenContainer)}
}

func (s *MemoryTokenStore) AccessToken(_ context.Context, resource string) (TokenContainer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tc, ok := s.access[resource]
	if !ok {
		return TokenContainer{}, ErrNotFound
	}
	if !tc.Valid(time.Now()) {
		delete(s.access, resource)
		return TokenContainer{}, ErrNotFound
	}
	return tc, nil
}

func (s *MemoryTokenStore) SetAccessToken(_ context.Context, resource string, tc TokenContainer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access[resource] = tc
	return nil
}

func (s *MemoryTokenStore) IDToken(_ context.Context) (TokenContainer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.id.Valid(time.Now()) {
		return TokenContainer{}, ErrNotFound
	}
	return s.id, nil
}

func (s *MemoryTokenStore) SetIDToken(_ context.Context, tc TokenContainer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = tc
	return nil
}

func (s *MemoryTokenStore) RefreshToken(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.refresh == "" {
		return "", ErrNotFound
	}
	return s.refresh, nil
}

func (s *MemoryTokenStore) SetRefreshToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = token
	return nil
}

func (s *MemoryTokenStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = make(map[string]TokenContainer)
	s.id = TokenContainer{}
	s.refresh = ""
	return nil
}

// MemoryPropertyStore holds in-flight flow state in memory.
type MemoryPropertyStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryPropertyStore returns an empty in-memory property store.
func NewMemoryPropertyStore() *MemoryPropertyStore {
	return &MemoryPropertyStore{values: make(map[string]string)}
}

func (s *MemoryPropertyStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryPropertyStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryPropertyStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// MemoryAuthHistory records the last successful authentication in memory.
// Use the bolt-backed history in real deployments so the silent path
// survives restarts.
type MemoryAuthHistory struct {
	mu   sync.RWMutex
	last time.Time
}

// NewMemoryAuthHistory returns an empty in-memory auth history.
func NewMemoryAuthHistory() *MemoryAuthHistory {
	return &MemoryAuthHistory{}
}

func (h *MemoryAuthHistory) LastSuccess(_ context.Context) (time.Time, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.last.IsZero() {
		return time.Time{}, ErrNotFound
	}
	return h.last, nil
}

func (h *MemoryAuthHistory) SetLastSuccess(_ context.Context, t time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = t.UTC()
	return nil
}
