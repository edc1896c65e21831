// Package redis provides a Redis implementation of the aggregate store.
// It lets several metering processes share one set of running totals.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/artpar/usagemeter/domain/usage"
	"github.com/artpar/usagemeter/ports"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultMaxRetries bounds optimistic transaction attempts per update.
const DefaultMaxRetries = 50

// Config configures the Redis aggregate store.
type Config struct {
	// Prefix namespaces every key, e.g. "usagemeter".
	Prefix string

	// Retention is the TTL of per-day system stats. Zero keeps them forever.
	// User summaries never expire.
	Retention time.Duration

	// MaxRetries bounds WATCH/EXEC attempts before ErrConflict.
	MaxRetries int
}

// AggregateStore implements ports.AggregateStore on Redis.
// Each document is a JSON string updated under WATCH/MULTI/EXEC.
type AggregateStore struct {
	client goredis.UniversalClient
	cfg    Config
}

// NewAggregateStore creates a store on client.
func NewAggregateStore(client goredis.UniversalClient, cfg Config) *AggregateStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "usagemeter"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &AggregateStore{client: client, cfg: cfg}
}

func (s *AggregateStore) keyUser(userID string) string {
	return fmt.Sprintf("%s:user_summary:%s", s.cfg.Prefix, userID)
}

func (s *AggregateStore) keySystem(day string) string {
	return fmt.Sprintf("%s:system_stats:%s", s.cfg.Prefix, day)
}

// GetUser returns the summary for userID.
func (s *AggregateStore) GetUser(ctx context.Context, userID string) (usage.UserSummary, error) {
	var out usage.UserSummary
	err := s.getJSON(ctx, s.client, s.keyUser(userID), &out)
	return out, err
}

// UpdateUser applies fn under an optimistic transaction.
func (s *AggregateStore) UpdateUser(ctx context.Context, userID string, fn ports.UserMutator) (usage.UserSummary, error) {
	return update(ctx, s, s.keyUser(userID), 0, fn)
}

// GetSystem returns the stats for day.
func (s *AggregateStore) GetSystem(ctx context.Context, day string) (usage.SystemStats, error) {
	var out usage.SystemStats
	err := s.getJSON(ctx, s.client, s.keySystem(day), &out)
	return out, err
}

// UpdateSystem applies fn under an optimistic transaction.
func (s *AggregateStore) UpdateSystem(ctx context.Context, day string, fn ports.SystemMutator) (usage.SystemStats, error) {
	return update(ctx, s, s.keySystem(day), s.cfg.Retention, fn)
}

func (s *AggregateStore) getJSON(ctx context.Context, c goredis.Cmdable, key string, out any) error {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return ports.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func update[T any](ctx context.Context, s *AggregateStore, key string, ttl time.Duration, fn func(T, bool) (T, error)) (T, error) {
	var result T

	txf := func(tx *goredis.Tx) error {
		var cur T
		err := s.getJSON(ctx, tx, key, &cur)
		found := err == nil
		if err != nil && !errors.Is(err, ports.ErrNotFound) {
			return err
		}

		next, err := fn(cur, found)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	}

	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, goredis.TxFailedErr) {
			var zero T
			return zero, err
		}
		if err := sleep(ctx, attempt); err != nil {
			var zero T
			return zero, err
		}
	}

	var zero T
	return zero, fmt.Errorf("%s: %w", key, ports.ErrConflict)
}

func sleep(ctx context.Context, attempt int) error {
	d := rand.N(time.Duration(min(attempt+1, 10)) * time.Millisecond)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Ping checks connectivity.
func (s *AggregateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Ensure interface compliance.
var _ ports.AggregateStore = (*AggregateStore)(nil)
