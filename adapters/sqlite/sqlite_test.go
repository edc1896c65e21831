package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/artpar/usagemeter/adapters/sqlite"
	"github.com/artpar/usagemeter/domain/alert"
	"github.com/artpar/usagemeter/domain/settings"
	"github.com/artpar/usagemeter/domain/usage"
	"github.com/artpar/usagemeter/ports"
)

func setupTestDB(t *testing.T) (*sqlite.DB, func()) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "usagemeter-test.db")
	db, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}

	cleanup := func() {
		db.Close()
	}

	return db, cleanup
}

var day = time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)

func TestMigrate_Idempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 4 {
		t.Errorf("applied migrations = %d, want 4", n)
	}
}

// -----------------------------------------------------------------------------
// EventStore Tests
// -----------------------------------------------------------------------------

func TestEventStore_AppendAndRange(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewEventStore(db)
	ctx := context.Background()

	in := usage.Event{
		ID: "evt-1", UserID: "u1", Endpoint: "chat", Timestamp: day.Add(9*time.Hour + 123*time.Nanosecond),
		InputTokens: 1000, OutputTokens: 400, TotalTokens: 1400, Cost: 0.00075,
		DurationMs: 250, Success: true, ErrorCode: "", CacheHit: true,
		RequestID: "req-1", UserAgent: "ua", IPAddress: "10.0.0.1",
	}
	others := []usage.Event{
		{ID: "evt-2", UserID: "u2", Endpoint: "chat", Timestamp: day.Add(10 * time.Hour), ErrorCode: "timeout"},
		{ID: "evt-3", UserID: "u1", Endpoint: "chat", Timestamp: day.AddDate(0, 0, 1)},
	}
	for _, e := range append([]usage.Event{in}, others...) {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := store.Range(ctx, day, day.AddDate(0, 0, 1), "")
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Range returned %d events, want 2", len(got))
	}
	if !got[0].Timestamp.Equal(in.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got[0].Timestamp, in.Timestamp)
	}
	got[0].Timestamp = in.Timestamp
	if got[0] != in {
		t.Errorf("round trip = %+v, want %+v", got[0], in)
	}
	if got[1].ErrorCode != "timeout" || got[1].Success {
		t.Errorf("second event = %+v", got[1])
	}

	mine, _ := store.Range(ctx, day, day.AddDate(0, 0, 2), "u1")
	if len(mine) != 2 {
		t.Errorf("Range(u1) = %d events, want 2", len(mine))
	}
}

func TestEventStore_DuplicateID(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewEventStore(db)
	ctx := context.Background()

	e := usage.Event{ID: "dup", UserID: "u1", Endpoint: "chat", Timestamp: day}
	if err := store.Append(ctx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, e); err == nil {
		t.Error("expected error for duplicate id")
	}
}

// -----------------------------------------------------------------------------
// AggregateStore Tests
// -----------------------------------------------------------------------------

func applyUser(e usage.Event) ports.UserMutator {
	return func(cur usage.UserSummary, _ bool) (usage.UserSummary, error) {
		return usage.ApplyUserEvent(cur, e, usage.ApplyOptions{Location: time.UTC, Now: e.Timestamp, DefaultDailyLimit: 10}), nil
	}
}

func TestAggregateStore_User(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewAggregateStore(db, 0)
	ctx := context.Background()

	if _, err := store.GetUser(ctx, "u1"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("GetUser before insert = %v, want ErrNotFound", err)
	}

	e := usage.Event{UserID: "u1", Endpoint: "chat", Timestamp: day.Add(time.Hour), Cost: 0.5, Success: true, DurationMs: 100}
	for i := 0; i < 3; i++ {
		if _, err := store.UpdateUser(ctx, "u1", applyUser(e)); err != nil {
			t.Fatalf("UpdateUser: %v", err)
		}
	}

	got, err := store.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.UserID != "u1" || got.Daily.Requests != 3 || got.TotalCost != 1.5 {
		t.Errorf("summary = %+v", got)
	}
	if got.Daily.Endpoints["chat"] != 3 || got.Daily.SuccessCount != 3 {
		t.Errorf("daily = %+v", got.Daily)
	}
}

func TestAggregateStore_System(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewAggregateStore(db, 0)
	ctx := context.Background()

	e := usage.Event{UserID: "u1", Endpoint: "chat", Timestamp: day.Add(14 * time.Hour), Cost: 0.25}
	for i := 0; i < 2; i++ {
		_, err := store.UpdateSystem(ctx, "2024-03-12", func(cur usage.SystemStats, _ bool) (usage.SystemStats, error) {
			return usage.ApplySystemEvent(cur, "2024-03-12", e, usage.ApplyOptions{Location: time.UTC, Now: e.Timestamp}), nil
		})
		if err != nil {
			t.Fatalf("UpdateSystem: %v", err)
		}
	}

	got, err := store.GetSystem(ctx, "2024-03-12")
	if err != nil {
		t.Fatalf("GetSystem: %v", err)
	}
	if got.TotalRequests != 2 || got.TotalCost != 0.5 || got.HourlyDistribution[14] != 2 || got.TotalUsers != 1 {
		t.Errorf("stats = %+v", got)
	}
	if _, err := store.GetSystem(ctx, "2024-03-13"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("GetSystem(other day) = %v, want ErrNotFound", err)
	}
}

func TestAggregateStore_MutatorError(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewAggregateStore(db, 0)
	boom := errors.New("boom")

	_, err := store.UpdateUser(context.Background(), "u1", func(usage.UserSummary, bool) (usage.UserSummary, error) {
		return usage.UserSummary{}, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestAggregateStore_ConcurrentUpdates(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewAggregateStore(db, 500)
	ctx := context.Background()

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := usage.Event{UserID: "u1", Endpoint: "chat", Timestamp: day.Add(time.Hour), Success: true}
			if _, err := store.UpdateUser(ctx, "u1", applyUser(e)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("UpdateUser: %v", err)
	}

	got, err := store.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Daily.Requests != n {
		t.Errorf("Daily.Requests = %d, want %d", got.Daily.Requests, n)
	}
}

// -----------------------------------------------------------------------------
// AlertStore Tests
// -----------------------------------------------------------------------------

func TestAlertStore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewAlertStore(db)
	ctx := context.Background()
	base := day.Add(10 * time.Hour)

	alerts := []alert.Alert{
		{ID: "a1", Type: alert.TypeBudgetWarning, Message: "m1", Threshold: 75, CurrentValue: 80, Timestamp: base},
		{ID: "a2", Type: alert.TypeUserLimit, Message: "m2", Threshold: 80, CurrentValue: 90, Timestamp: base.Add(time.Minute), UserID: "u1", Endpoint: "chat"},
		{ID: "a3", Type: alert.TypeBudgetWarning, Message: "m3", Threshold: 75, CurrentValue: 85, Timestamp: base.Add(2 * time.Minute)},
	}
	for _, a := range alerts {
		if err := store.Append(ctx, a); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := store.Append(ctx, alerts[0]); !errors.Is(err, ports.ErrDuplicate) {
		t.Errorf("Append(duplicate id) = %v, want ErrDuplicate", err)
	}

	all, err := store.List(ctx, alert.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].ID != "a3" || all[2].ID != "a1" {
		t.Errorf("List order = %+v", all)
	}

	user, _ := store.List(ctx, alert.Filter{UserID: "u1"})
	if len(user) != 1 || user[0].Endpoint != "chat" || user[0].CurrentValue != 90 {
		t.Errorf("List(u1) = %+v", user)
	}

	limited, _ := store.List(ctx, alert.Filter{Type: alert.TypeBudgetWarning, Limit: 1})
	if len(limited) != 1 || limited[0].ID != "a3" {
		t.Errorf("limited = %+v", limited)
	}

	since, _ := store.List(ctx, alert.Filter{Since: base.Add(30 * time.Second)})
	if len(since) != 2 {
		t.Errorf("since = %d alerts, want 2", len(since))
	}

	last, err := store.LastRaised(ctx, alert.SystemScope, alert.TypeBudgetWarning)
	if err != nil || !last.Equal(base.Add(2*time.Minute)) {
		t.Errorf("LastRaised = %v, %v", last, err)
	}
	none, err := store.LastRaised(ctx, "u9", alert.TypeUserLimit)
	if err != nil || !none.IsZero() {
		t.Errorf("LastRaised(unknown) = %v, %v", none, err)
	}

	if err := store.Resolve(ctx, "a1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	open, _ := store.List(ctx, alert.Filter{Unresolved: true})
	if len(open) != 2 {
		t.Errorf("unresolved = %d, want 2", len(open))
	}
	if err := store.Resolve(ctx, "nope"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Resolve(nope) = %v, want ErrNotFound", err)
	}
}

// -----------------------------------------------------------------------------
// SettingsStore Tests
// -----------------------------------------------------------------------------

func TestSettingsStore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewSettingsStore(db)
	ctx := context.Background()

	if _, err := store.Get(ctx, settings.KeyBudgetDaily); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}

	if err := store.Set(ctx, settings.KeyBudgetDaily, "5"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, settings.KeyBudgetDaily, "8"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	if err := store.SetBatch(ctx, settings.Settings{
		settings.KeyBudgetUserDailyLimit: "20",
		"budgetary.note":                 "not a budget key",
		"server.port":                    "9000",
	}); err != nil {
		t.Fatalf("SetBatch: %v", err)
	}

	got, err := store.Get(ctx, settings.KeyBudgetDaily)
	if err != nil || got.Value != "8" || got.UpdatedAt.IsZero() {
		t.Errorf("Get = %+v, %v", got, err)
	}

	budget, _ := store.GetByPrefix(ctx, settings.PrefixBudget)
	if len(budget) != 2 || budget[settings.KeyBudgetUserDailyLimit] != "20" {
		t.Errorf("GetByPrefix = %v", budget)
	}

	all, _ := store.GetAll(ctx)
	if len(all) != 4 {
		t.Errorf("GetAll = %v", all)
	}

	if err := store.Delete(ctx, "server.port"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	all, _ = store.GetAll(ctx)
	if len(all) != 3 {
		t.Errorf("after Delete = %v", all)
	}
}
