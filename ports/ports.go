// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/usagemeter/domain/alert"
	"github.com/artpar/usagemeter/domain/settings"
	"github.com/artpar/usagemeter/domain/usage"
)

// Sentinel errors returned by stores.
var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an optimistic update kept losing races.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrDuplicate is returned when a record with the same id already exists.
	ErrDuplicate = errors.New("already exists")
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Hasher hashes and verifies secrets such as the admin token.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Compare(hash, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// EventStore is the append-only raw usage log.
type EventStore interface {
	// Append persists one event.
	Append(ctx context.Context, e usage.Event) error

	// Range returns events with from <= timestamp < to, optionally for one user.
	Range(ctx context.Context, from, to time.Time, userID string) ([]usage.Event, error)
}

// UserMutator transforms a user summary inside an atomic update.
// found is false when no summary exists yet.
type UserMutator func(current usage.UserSummary, found bool) (usage.UserSummary, error)

// SystemMutator transforms the stats of one day inside an atomic update.
type SystemMutator func(current usage.SystemStats, found bool) (usage.SystemStats, error)

// AggregateStore holds per-user summaries and per-day system stats.
//
// UpdateUser and UpdateSystem are atomic read-modify-write operations: the
// mutator may run more than once under optimistic implementations and must
// be free of side effects.
type AggregateStore interface {
	// GetUser returns ErrNotFound when the user has no summary.
	GetUser(ctx context.Context, userID string) (usage.UserSummary, error)

	// UpdateUser applies fn atomically and returns the stored result.
	UpdateUser(ctx context.Context, userID string, fn UserMutator) (usage.UserSummary, error)

	// GetSystem returns ErrNotFound when nothing was recorded on day.
	GetSystem(ctx context.Context, day string) (usage.SystemStats, error)

	// UpdateSystem applies fn atomically and returns the stored result.
	UpdateSystem(ctx context.Context, day string, fn SystemMutator) (usage.SystemStats, error)
}

// AlertStore is the append-only alert log.
type AlertStore interface {
	// Append persists one alert. Returns ErrDuplicate when the id is taken.
	Append(ctx context.Context, a alert.Alert) error

	// List returns alerts matching f, newest first.
	List(ctx context.Context, f alert.Filter) ([]alert.Alert, error)

	// LastRaised returns when an alert of type t was last raised for scope.
	// It returns the zero time when none was raised.
	LastRaised(ctx context.Context, scope string, t alert.Type) (time.Time, error)

	// Resolve marks an alert resolved. Returns ErrNotFound for unknown ids.
	Resolve(ctx context.Context, id string) error
}

// SettingsStore persists application settings.
type SettingsStore interface {
	// Get retrieves a single setting by key.
	Get(ctx context.Context, key string) (settings.Setting, error)

	// GetAll retrieves all settings as a map.
	GetAll(ctx context.Context) (settings.Settings, error)

	// GetByPrefix retrieves all settings with a given prefix.
	GetByPrefix(ctx context.Context, prefix string) (settings.Settings, error)

	// Set stores or updates a setting.
	Set(ctx context.Context, key, value string) error

	// SetBatch stores or updates multiple settings.
	SetBatch(ctx context.Context, s settings.Settings) error

	// Delete removes a setting.
	Delete(ctx context.Context, key string) error
}

// -----------------------------------------------------------------------------
// Service Ports
// -----------------------------------------------------------------------------

// Job is one unit of background aggregate work for an event.
type Job struct {
	Event usage.Event
}

// JobSubmitter accepts background jobs without blocking.
type JobSubmitter interface {
	// Submit enqueues j; it returns false when the job was dropped.
	Submit(j Job) bool
}

// Metrics records service-level measurements.
type Metrics interface {
	EventRecorded(endpoint string, cost float64, tokens int64, success bool)
	RecordFailed()
	Decision(allowed bool, reason string)
	AlertRaised(t alert.Type)
	JobDropped()
	StepFailed(step string)
	StepDuration(step string, d time.Duration)
	QueueDepth(n int)
}
