package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/artpar/usagemeter/domain/usage"
	"github.com/artpar/usagemeter/ports"
)

// aggregateShard is a single shard of the aggregate store.
type aggregateShard struct {
	mu     sync.RWMutex
	users  map[string]usage.UserSummary
	system map[string]usage.SystemStats
}

// AggregateStore is a sharded in-memory implementation of ports.AggregateStore.
// Each key maps to one shard, so updates to one user or day are serialized
// by that shard's lock while different keys proceed in parallel.
type AggregateStore struct {
	shards    []*aggregateShard
	numShards int
	retention time.Duration
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// AggregateStoreConfig configures the aggregate store.
type AggregateStoreConfig struct {
	NumShards       int           // Number of shards (default: 32)
	CleanupInterval time.Duration // How often to drop old system days (default: 1h)
	Retention       time.Duration // How long system days are kept (default: 90 days)
}

// NewAggregateStore creates a new sharded in-memory aggregate store.
func NewAggregateStore(cfg AggregateStoreConfig) *AggregateStore {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}

	s := &AggregateStore{
		shards:    make([]*aggregateShard, cfg.NumShards),
		numShards: cfg.NumShards,
		retention: cfg.Retention,
		done:      make(chan struct{}),
	}

	for i := range s.shards {
		s.shards[i] = &aggregateShard{
			users:  make(map[string]usage.UserSummary),
			system: make(map[string]usage.SystemStats),
		}
	}

	// Start background cleanup
	s.cleanup = time.NewTicker(cfg.CleanupInterval)
	go s.cleanupLoop()

	return s
}

// getShard returns the shard for a given key using consistent hashing.
func (s *AggregateStore) getShard(key string) *aggregateShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// GetUser retrieves a copy of a user's summary.
func (s *AggregateStore) GetUser(ctx context.Context, userID string) (usage.UserSummary, error) {
	shard := s.getShard("u:" + userID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	sum, ok := shard.users[userID]
	if !ok {
		return usage.UserSummary{}, ports.ErrNotFound
	}
	return sum.Clone(), nil
}

// UpdateUser applies fn under the shard lock.
func (s *AggregateStore) UpdateUser(ctx context.Context, userID string, fn ports.UserMutator) (usage.UserSummary, error) {
	if err := ctx.Err(); err != nil {
		return usage.UserSummary{}, err
	}

	shard := s.getShard("u:" + userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	current, ok := shard.users[userID]
	next, err := fn(current.Clone(), ok)
	if err != nil {
		return usage.UserSummary{}, err
	}
	next.UserID = userID
	shard.users[userID] = next.Clone()
	return next, nil
}

// GetSystem retrieves a copy of one day's system stats.
func (s *AggregateStore) GetSystem(ctx context.Context, day string) (usage.SystemStats, error) {
	shard := s.getShard("s:" + day)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	st, ok := shard.system[day]
	if !ok {
		return usage.SystemStats{}, ports.ErrNotFound
	}
	return st.Clone(), nil
}

// UpdateSystem applies fn under the shard lock.
func (s *AggregateStore) UpdateSystem(ctx context.Context, day string, fn ports.SystemMutator) (usage.SystemStats, error) {
	if err := ctx.Err(); err != nil {
		return usage.SystemStats{}, err
	}

	shard := s.getShard("s:" + day)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	current, ok := shard.system[day]
	next, err := fn(current.Clone(), ok)
	if err != nil {
		return usage.SystemStats{}, err
	}
	next.Date = day
	shard.system[day] = next.Clone()
	return next, nil
}

// cleanupLoop periodically removes old system days.
func (s *AggregateStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanup.C:
			s.doCleanup(time.Now())
		case <-s.done:
			return
		}
	}
}

// doCleanup removes system stats for days older than the retention window.
// User summaries live for the application lifetime and are never removed.
func (s *AggregateStore) doCleanup(now time.Time) {
	cutoff := now.Add(-s.retention).UTC().Format(usage.DayLayout)

	for _, shard := range s.shards {
		shard.mu.Lock()
		for day := range shard.system {
			if day < cutoff {
				delete(shard.system, day)
			}
		}
		shard.mu.Unlock()
	}
}

// Close stops the cleanup goroutine.
func (s *AggregateStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cleanup.Stop()
	})
	return nil
}

// Clear removes all state (for testing).
func (s *AggregateStore) Clear() {
	for _, shard := range s.shards {
		shard.mu.Lock()
		shard.users = make(map[string]usage.UserSummary)
		shard.system = make(map[string]usage.SystemStats)
		shard.mu.Unlock()
	}
}

// Len returns the number of user summaries and system days (for testing).
func (s *AggregateStore) Len() (users, days int) {
	for _, shard := range s.shards {
		shard.mu.RLock()
		users += len(shard.users)
		days += len(shard.system)
		shard.mu.RUnlock()
	}
	return users, days
}

// Ensure interface compliance.
var _ ports.AggregateStore = (*AggregateStore)(nil)
