package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/artpar/usagemeter/config"
	"github.com/rs/zerolog"
)

func TestHolder_Get(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	got := h.Get()
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Budget.DailyBudget != 5 {
		t.Errorf("Budget.DailyBudget = %v, want 5", got.Budget.DailyBudget)
	}
}

func TestHolder_Reload(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	if got := h.Get().Pricing.InputPerMillion; got != 0.25 {
		t.Errorf("initial InputPerMillion = %v, want 0.25", got)
	}

	newContent := `
database:
  driver: memory
pricing:
  input_per_million: 0.5
  output_per_million: 2
budget:
  daily_budget: 8
`
	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	cfg := h.Get()
	if cfg.Pricing.InputPerMillion != 0.5 || cfg.Pricing.OutputPerMillion != 2 {
		t.Errorf("reloaded pricing = %+v", cfg.Pricing)
	}
	if cfg.Budget.DailyBudget != 8 {
		t.Errorf("reloaded DailyBudget = %v, want 8", cfg.Budget.DailyBudget)
	}
}

func TestHolder_OnChange(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var mu sync.Mutex
	var receivedCfg *config.Config

	h.OnChange(func(cfg *config.Config) {
		mu.Lock()
		receivedCfg = cfg
		mu.Unlock()
	})

	newContent := `
database:
  driver: memory
alerts:
  cooldown: 0s
`
	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if receivedCfg == nil {
		t.Fatal("OnChange callback was not called")
	}
	if got := receivedCfg.Alerts.CooldownOrDefault(); got != 0 {
		t.Errorf("callback received cooldown = %v, want 0", got)
	}
}

func TestHolder_ReloadInvalidConfig(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var rejected error
	h.OnReloadError(func(err error) { rejected = err })

	invalidContent := `
database:
  driver: memory
budget:
  warning_pct: -1
`
	if err := os.WriteFile(path, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}

	if err := h.Reload(); err == nil {
		t.Error("Reload should fail for invalid config")
	}
	if rejected == nil {
		t.Error("OnReloadError callback was not called")
	}

	if got := h.Get().Budget.DailyBudget; got != 5 {
		t.Errorf("should keep old config, got DailyBudget = %v", got)
	}
}

func TestHolder_WatchFile(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	changed := make(chan *config.Config, 8)
	h.OnChange(func(cfg *config.Config) {
		changed <- cfg
	})

	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}

	newContent := `
database:
  driver: memory
budget:
  daily_budget: 7
`
	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("file watcher did not trigger reload")
	}

	if got := h.Get().Budget.DailyBudget; got != 7 {
		t.Errorf("after file watch, DailyBudget = %v, want 7", got)
	}
}

func TestHolder_ReloadUnchangedSkipsCallbacks(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	calls := 0
	h.OnChange(func(*config.Config) { calls++ })

	before := h.Get()
	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if calls != 0 {
		t.Errorf("OnChange called %d times for unchanged file, want 0", calls)
	}
	if h.Get() != before {
		t.Error("unchanged reload should keep the same config value")
	}
}

func TestHolder_ReloadAfterRejectedEdit(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	if err := os.WriteFile(path, []byte("database: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := h.Reload(); err == nil {
		t.Fatal("Reload should fail for invalid YAML")
	}

	// A corrected file is still applied.
	fixed := validConfig() + "\nalerts:\n  cooldown: 1m\n"
	if err := os.WriteFile(path, []byte(fixed), 0644); err != nil {
		t.Fatal(err)
	}
	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if got := h.Get().Alerts.CooldownOrDefault(); got != time.Minute {
		t.Errorf("cooldown = %v, want 1m", got)
	}
}

func TestHolder_WatchFileCoalescesWrites(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()
	h.SetDebounce(50 * time.Millisecond)

	changed := make(chan *config.Config, 8)
	h.OnChange(func(cfg *config.Config) { changed <- cfg })

	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}

	content := []byte("database:\n  driver: memory\nbudget:\n  daily_budget: 3\n")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, content, 0644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case cfg := <-changed:
		if cfg.Budget.DailyBudget != 3 {
			t.Errorf("DailyBudget = %v, want 3", cfg.Budget.DailyBudget)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("file watcher did not trigger reload")
	}

	select {
	case <-changed:
		t.Error("identical writes should produce a single change")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestHolder_StopTwice(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}
	h.WatchSignals()

	h.Stop()
	h.Stop()
}

func TestNewHolder_MissingFile(t *testing.T) {
	if _, err := config.NewHolder(filepath.Join(t.TempDir(), "absent.yaml"), zerolog.Nop()); err == nil {
		t.Error("NewHolder should fail for a missing file")
	}
}

func TestDiff(t *testing.T) {
	prev, err := config.Parse([]byte(validConfig()))
	if err != nil {
		t.Fatal(err)
	}
	next, err := config.Parse([]byte(validConfig() + "\nserver:\n  port: 9999\n"))
	if err != nil {
		t.Fatal(err)
	}
	next.Pricing.InputPerMillion = 3

	got := config.Diff(prev, next)
	if len(got) != 2 || got[0] != "pricing" || got[1] != "server.port" {
		t.Errorf("Diff = %v, want [pricing server.port]", got)
	}
	if d := config.Diff(prev, prev); len(d) != 0 {
		t.Errorf("Diff of identical configs = %v", d)
	}
}

func TestHolder_ConcurrentAccess(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if h.Get() == nil {
					t.Error("concurrent Get returned nil")
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Reload()
		}()
	}

	wg.Wait()
}

func TestReloadableFields(t *testing.T) {
	fields := config.ReloadableFields()
	for _, e := range []string{"pricing", "budget", "alerts.cooldown", "logging.level"} {
		if !contains(fields, e) {
			t.Errorf("%s not in ReloadableFields", e)
		}
	}
}

func TestNonReloadableFields(t *testing.T) {
	fields := config.NonReloadableFields()
	for _, e := range []string{"server.port", "database.dsn", "aggregates.backend", "timezone"} {
		if !contains(fields, e) {
			t.Errorf("%s not in NonReloadableFields", e)
		}
	}
}

// Helpers

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func validConfig() string {
	return `
database:
  driver: memory

pricing:
  input_per_million: 0.25
  output_per_million: 1.25

budget:
  daily_budget: 5
  user_daily_limit: 10
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
