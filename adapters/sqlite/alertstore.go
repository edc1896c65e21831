package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/usagemeter/domain/alert"
	"github.com/artpar/usagemeter/ports"
)

// AlertStore implements ports.AlertStore using SQLite.
type AlertStore struct {
	db *DB
}

// NewAlertStore creates a new SQLite alert store.
func NewAlertStore(db *DB) *AlertStore {
	return &AlertStore{db: db}
}

// Append stores one alert.
func (s *AlertStore) Append(ctx context.Context, a alert.Alert) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_alerts (id, type, scope, user_id, endpoint, message, threshold, current_value, ts_ns, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		a.ID, string(a.Type), a.Scope(), a.UserID, a.Endpoint, a.Message, a.Threshold, a.CurrentValue,
		a.Timestamp.UTC().UnixNano(), boolInt(a.Resolved),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ports.ErrDuplicate
	}
	return nil
}

// List returns matching alerts, newest first.
func (s *AlertStore) List(ctx context.Context, f alert.Filter) ([]alert.Alert, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Unresolved {
		where = append(where, "resolved = 0")
	}
	if !f.Since.IsZero() {
		where = append(where, "ts_ns >= ?")
		args = append(args, f.Since.UTC().UnixNano())
	}

	query := `SELECT id, type, user_id, endpoint, message, threshold, current_value, ts_ns, resolved FROM usage_alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts_ns DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []alert.Alert
	for rows.Next() {
		var (
			a        alert.Alert
			typ      string
			tsNs     int64
			resolved int
		)
		if err := rows.Scan(&a.ID, &typ, &a.UserID, &a.Endpoint, &a.Message, &a.Threshold, &a.CurrentValue, &tsNs, &resolved); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Type = alert.Type(typ)
		a.Timestamp = time.Unix(0, tsNs).UTC()
		a.Resolved = resolved == 1
		out = append(out, a)
	}
	return out, rows.Err()
}

// LastRaised returns the newest timestamp for scope and type.
func (s *AlertStore) LastRaised(ctx context.Context, scope string, t alert.Type) (time.Time, error) {
	var tsNs *int64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ts_ns) FROM usage_alerts WHERE scope = ? AND type = ?`,
		scope, string(t),
	).Scan(&tsNs)
	if err != nil {
		return time.Time{}, fmt.Errorf("query last alert: %w", err)
	}
	if tsNs == nil {
		return time.Time{}, nil
	}
	return time.Unix(0, *tsNs).UTC(), nil
}

// Resolve marks one alert resolved.
func (s *AlertStore) Resolve(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE usage_alerts SET resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// Ensure interface compliance.
var _ ports.AlertStore = (*AlertStore)(nil)
