package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/artpar/usagemeter/domain/usage"
	"github.com/artpar/usagemeter/ports"
)

// DefaultMaxRetries bounds optimistic update attempts.
const DefaultMaxRetries = 50

// AggregateStore implements ports.AggregateStore using SQLite.
// Documents are JSON with a version column; writers retry when the version
// they read has moved on.
type AggregateStore struct {
	db         *DB
	maxRetries int
	now        func() time.Time
}

// NewAggregateStore creates a new SQLite aggregate store.
func NewAggregateStore(db *DB, maxRetries int) *AggregateStore {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &AggregateStore{db: db, maxRetries: maxRetries, now: time.Now}
}

// GetUser retrieves a user's summary.
func (s *AggregateStore) GetUser(ctx context.Context, userID string) (usage.UserSummary, error) {
	var sum usage.UserSummary
	_, err := s.load(ctx, "user_summaries", "user_id", userID, &sum)
	return sum, err
}

// UpdateUser applies fn with optimistic concurrency.
func (s *AggregateStore) UpdateUser(ctx context.Context, userID string, fn ports.UserMutator) (usage.UserSummary, error) {
	return updateDoc(ctx, s, "user_summaries", "user_id", userID, func(cur usage.UserSummary, found bool) (usage.UserSummary, error) {
		next, err := fn(cur, found)
		next.UserID = userID
		return next, err
	})
}

// GetSystem retrieves one day's system stats.
func (s *AggregateStore) GetSystem(ctx context.Context, day string) (usage.SystemStats, error) {
	var st usage.SystemStats
	_, err := s.load(ctx, "system_stats", "day", day, &st)
	return st, err
}

// UpdateSystem applies fn with optimistic concurrency.
func (s *AggregateStore) UpdateSystem(ctx context.Context, day string, fn ports.SystemMutator) (usage.SystemStats, error) {
	return updateDoc(ctx, s, "system_stats", "day", day, func(cur usage.SystemStats, found bool) (usage.SystemStats, error) {
		next, err := fn(cur, found)
		next.Date = day
		return next, err
	})
}

// load decodes the document for key into out and returns its version.
func (s *AggregateStore) load(ctx context.Context, table, keyCol, key string, out any) (int64, error) {
	var (
		doc     string
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT doc, version FROM `+table+` WHERE `+keyCol+` = ?`, key,
	).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ports.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("select %s: %w", table, err)
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return 0, fmt.Errorf("decode %s %s: %w", table, key, err)
	}
	return version, nil
}

// updateDoc runs read, mutate, compare-and-swap until the swap wins or
// retries run out.
func updateDoc[T any](ctx context.Context, s *AggregateStore, table, keyCol, key string, fn func(T, bool) (T, error)) (T, error) {
	var zero T
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		var cur T
		version, err := s.load(ctx, table, keyCol, key, &cur)
		found := err == nil
		if err != nil && !errors.Is(err, ports.ErrNotFound) {
			return zero, err
		}

		next, err := fn(cur, found)
		if err != nil {
			return zero, err
		}
		doc, err := json.Marshal(next)
		if err != nil {
			return zero, fmt.Errorf("encode %s %s: %w", table, key, err)
		}

		var res sql.Result
		if found {
			res, err = s.db.ExecContext(ctx,
				`UPDATE `+table+` SET doc = ?, version = version + 1, updated_at = ? WHERE `+keyCol+` = ? AND version = ?`,
				string(doc), nowText(s.now()), key, version,
			)
		} else {
			res, err = s.db.ExecContext(ctx,
				`INSERT INTO `+table+` (`+keyCol+`, doc, version, updated_at) VALUES (?, ?, 1, ?) ON CONFLICT(`+keyCol+`) DO NOTHING`,
				key, string(doc), nowText(s.now()),
			)
		}
		if err != nil {
			return zero, fmt.Errorf("write %s %s: %w", table, key, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return next, nil
		}

		if err := backoff(ctx, attempt); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%s %s: %w", table, key, ports.ErrConflict)
}

// backoff sleeps a short jittered delay that grows with attempt.
func backoff(ctx context.Context, attempt int) error {
	step := min(attempt+1, 10)
	d := rand.N(time.Duration(step) * time.Millisecond)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Ensure interface compliance.
var _ ports.AggregateStore = (*AggregateStore)(nil)
