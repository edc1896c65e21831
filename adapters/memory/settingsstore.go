package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/artpar/usagemeter/domain/settings"
	"github.com/artpar/usagemeter/ports"
)

// SettingsStore is an in-memory implementation of ports.SettingsStore.
type SettingsStore struct {
	mu   sync.RWMutex
	data map[string]settings.Setting
	now  func() time.Time
}

// NewSettingsStore creates a new in-memory settings store.
func NewSettingsStore() *SettingsStore {
	return &SettingsStore{
		data: make(map[string]settings.Setting),
		now:  time.Now,
	}
}

// Get retrieves a single setting.
func (s *SettingsStore) Get(ctx context.Context, key string) (settings.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return settings.Setting{}, ports.ErrNotFound
	}
	return v, nil
}

// GetAll retrieves all settings.
func (s *SettingsStore) GetAll(ctx context.Context) (settings.Settings, error) {
	return s.GetByPrefix(ctx, "")
}

// GetByPrefix retrieves settings whose key starts with prefix.
func (s *SettingsStore) GetByPrefix(ctx context.Context, prefix string) (settings.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(settings.Settings)
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = v.Value
		}
	}
	return out, nil
}

// Set stores or updates a setting.
func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = settings.Setting{Key: key, Value: value, UpdatedAt: s.now()}
	return nil
}

// SetBatch stores multiple settings under one lock.
func (s *SettingsStore) SetBatch(ctx context.Context, batch settings.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, v := range batch {
		s.data[k] = settings.Setting{Key: k, Value: v, UpdatedAt: now}
	}
	return nil
}

// Delete removes a setting.
func (s *SettingsStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Ensure interface compliance.
var _ ports.SettingsStore = (*SettingsStore)(nil)
