package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/usagemeter/domain/alert"
	"github.com/artpar/usagemeter/ports"
)

// AlertStore is an in-memory implementation of ports.AlertStore.
type AlertStore struct {
	mu     sync.RWMutex
	alerts []alert.Alert
	ids    map[string]struct{}
	last   map[string]time.Time // scope|type -> last raised
}

// NewAlertStore creates a new in-memory alert store.
func NewAlertStore() *AlertStore {
	return &AlertStore{
		ids:  make(map[string]struct{}),
		last: make(map[string]time.Time),
	}
}

func lastKey(scope string, t alert.Type) string {
	return scope + "|" + string(t)
}

// Append stores one alert.
func (s *AlertStore) Append(ctx context.Context, a alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[a.ID]; ok {
		return ports.ErrDuplicate
	}
	s.ids[a.ID] = struct{}{}
	s.alerts = append(s.alerts, a)
	k := lastKey(a.Scope(), a.Type)
	if a.Timestamp.After(s.last[k]) {
		s.last[k] = a.Timestamp
	}
	return nil
}

// List returns matching alerts, newest first.
func (s *AlertStore) List(ctx context.Context, f alert.Filter) ([]alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []alert.Alert
	for i := len(s.alerts) - 1; i >= 0; i-- {
		if !f.Matches(s.alerts[i]) {
			continue
		}
		out = append(out, s.alerts[i])
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// LastRaised returns the newest timestamp for scope and type.
func (s *AlertStore) LastRaised(ctx context.Context, scope string, t alert.Type) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last[lastKey(scope, t)], nil
}

// Resolve marks one alert resolved.
func (s *AlertStore) Resolve(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Resolved = true
			return nil
		}
	}
	return ports.ErrNotFound
}

// Ensure interface compliance.
var _ ports.AlertStore = (*AlertStore)(nil)
