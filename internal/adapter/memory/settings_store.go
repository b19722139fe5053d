// Package memory holds the in-process settings store used when no external
// backend is configured. Values do not survive a restart.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/pscheid92/streamdvr/internal/domain"
)

type SettingsStore struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ domain.SettingsStore = (*SettingsStore)(nil)

func NewSettingsStore() *SettingsStore {
	return &SettingsStore{values: make(map[string]string)}
}

func (s *SettingsStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", domain.ErrSettingNotFound
	}
	return v, nil
}

func (s *SettingsStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *SettingsStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Update runs fn under the write lock; fn must not call back into the store.
func (s *SettingsStore) Update(_ context.Context, key string, fn domain.UpdateFunc) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.values[key]
	next, ok := fn(current, exists)
	if !ok {
		return false, nil
	}
	s.values[key] = next
	return true, nil
}

func (s *SettingsStore) List(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values), nil
}
