package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/artpar/usagemeter/domain/usage"
	"github.com/artpar/usagemeter/ports"
)

// EventStore is an in-memory implementation of ports.EventStore.
type EventStore struct {
	mu     sync.RWMutex
	events []usage.Event
	fail   error
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		events: make([]usage.Event, 0),
	}
}

// Append stores one event.
func (s *EventStore) Append(ctx context.Context, e usage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, e)
	return nil
}

// Range returns events in [from, to), oldest first.
func (s *EventStore) Range(ctx context.Context, from, to time.Time, userID string) ([]usage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.fail != nil {
		return nil, s.fail
	}

	var out []usage.Event
	for _, e := range s.events {
		if userID != "" && e.UserID != userID {
			continue
		}
		if e.Timestamp.Before(from) || !e.Timestamp.Before(to) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// FailWith makes every subsequent call return err; nil restores normal operation (for testing).
func (s *EventStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// Len returns the number of stored events (for testing).
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Ensure interface compliance.
var _ ports.EventStore = (*EventStore)(nil)
