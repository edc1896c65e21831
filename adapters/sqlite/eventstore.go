package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/usagemeter/domain/usage"
	"github.com/artpar/usagemeter/ports"
)

// EventStore implements ports.EventStore using SQLite.
// Timestamps are stored as UTC unix nanoseconds so range scans use the index.
type EventStore struct {
	db *DB
}

// NewEventStore creates a new SQLite event store.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// Append stores one event.
func (s *EventStore) Append(ctx context.Context, e usage.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events (
			id, user_id, endpoint, ts_ns, input_tokens, output_tokens, total_tokens,
			cost, duration_ms, success, error_code, cache_hit, request_id, user_agent, ip_address
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.UserID, e.Endpoint, e.Timestamp.UTC().UnixNano(), e.InputTokens, e.OutputTokens, e.TotalTokens,
		e.Cost, e.DurationMs, boolInt(e.Success), e.ErrorCode, boolInt(e.CacheHit), e.RequestID, e.UserAgent, e.IPAddress,
	)
	if err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}

// Range returns events in [from, to), oldest first.
func (s *EventStore) Range(ctx context.Context, from, to time.Time, userID string) ([]usage.Event, error) {
	query := `
		SELECT id, user_id, endpoint, ts_ns, input_tokens, output_tokens, total_tokens,
			cost, duration_ms, success, error_code, cache_hit, request_id, user_agent, ip_address
		FROM usage_events
		WHERE ts_ns >= ? AND ts_ns < ?`
	args := []any{from.UTC().UnixNano(), to.UTC().UnixNano()}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY ts_ns, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage events: %w", err)
	}
	defer rows.Close()

	var events []usage.Event
	for rows.Next() {
		var (
			e                 usage.Event
			tsNs              int64
			success, cacheHit int
		)
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Endpoint, &tsNs, &e.InputTokens, &e.OutputTokens, &e.TotalTokens,
			&e.Cost, &e.DurationMs, &success, &e.ErrorCode, &cacheHit, &e.RequestID, &e.UserAgent, &e.IPAddress,
		); err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		e.Timestamp = time.Unix(0, tsNs).UTC()
		e.Success = success == 1
		e.CacheHit = cacheHit == 1
		events = append(events, e)
	}
	return events, rows.Err()
}

// Ensure interface compliance.
var _ ports.EventStore = (*EventStore)(nil)
