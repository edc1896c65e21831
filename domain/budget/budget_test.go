package budget_test

import (
	"testing"

	"github.com/artpar/usagemeter/domain/budget"
	"github.com/artpar/usagemeter/domain/settings"
)

func TestCheckThresholds(t *testing.T) {
	cfg := budget.Defaults()

	tests := []struct {
		name          string
		cost, limit   float64
		wantPct       float64
		wantWarning   bool
		wantCritical  bool
		wantEmergency bool
	}{
		{"80 percent", 4.00, 5.00, 80, true, false, false},
		{"under warning", 1.00, 5.00, 20, false, false, false},
		{"critical", 4.60, 5.00, 92, true, true, false},
		{"emergency", 8.00, 5.00, 160, true, true, true},
		{"zero budget", 3.00, 0, 0, false, false, false},
		{"negative budget", 3.00, -1, 0, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := budget.CheckThresholds(tt.cost, tt.limit, cfg)
			if diff := got.Percentage - tt.wantPct; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Percentage = %f, want %f", got.Percentage, tt.wantPct)
			}
			if got.IsWarning != tt.wantWarning {
				t.Errorf("IsWarning = %v, want %v", got.IsWarning, tt.wantWarning)
			}
			if got.IsCritical != tt.wantCritical {
				t.Errorf("IsCritical = %v, want %v", got.IsCritical, tt.wantCritical)
			}
			if got.IsEmergency != tt.wantEmergency {
				t.Errorf("IsEmergency = %v, want %v", got.IsEmergency, tt.wantEmergency)
			}
		})
	}
}

func TestCheckThresholds_NonMonotonicConfig(t *testing.T) {
	// Emergency below warning: flags still evaluate independently.
	cfg := budget.Config{WarningPct: 90, CriticalPct: 95, EmergencyShutoffPct: 50}

	got := budget.CheckThresholds(3, 5, cfg)
	if got.IsWarning || got.IsCritical {
		t.Errorf("expected no warning/critical at 60%%, got %+v", got)
	}
	if !got.IsEmergency {
		t.Errorf("expected emergency at 60%% with 50%% shutoff, got %+v", got)
	}
}

func TestDefaults(t *testing.T) {
	d := budget.Defaults()
	if d.DailyBudget != 5 || d.WeeklyBudget != 30 || d.MonthlyBudget != 100 {
		t.Errorf("unexpected budgets: %+v", d)
	}
	if d.UserDailyLimit != 10 {
		t.Errorf("UserDailyLimit = %d, want 10", d.UserDailyLimit)
	}
	if d.EmergencyShutoffPct != 150 || d.WarningPct != 75 || d.CriticalPct != 90 {
		t.Errorf("unexpected thresholds: %+v", d)
	}
	if err := d.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidate_Negative(t *testing.T) {
	cfg := budget.Defaults()
	cfg.DailyBudget = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative daily budget")
	}

	cfg = budget.Defaults()
	cfg.UserDailyLimit = -3
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative user limit")
	}
}

func TestFromSettings(t *testing.T) {
	s := settings.Settings{
		settings.KeyBudgetDaily:          "12.5",
		settings.KeyBudgetUserDailyLimit: "25",
		settings.KeyBudgetWarningPct:     "not-a-number",
	}

	cfg := budget.FromSettings(s, budget.Defaults())

	if cfg.DailyBudget != 12.5 {
		t.Errorf("DailyBudget = %f, want 12.5", cfg.DailyBudget)
	}
	if cfg.UserDailyLimit != 25 {
		t.Errorf("UserDailyLimit = %d, want 25", cfg.UserDailyLimit)
	}
	if cfg.WarningPct != 75 {
		t.Errorf("invalid value should fall back, WarningPct = %f", cfg.WarningPct)
	}
	if cfg.MonthlyBudget != 100 {
		t.Errorf("missing key should fall back, MonthlyBudget = %f", cfg.MonthlyBudget)
	}
}

func TestToSettings_RoundTrip(t *testing.T) {
	in := budget.Config{
		DailyBudget: 7.25, WeeklyBudget: 40, MonthlyBudget: 150,
		UserDailyLimit: 3, EmergencyShutoffPct: 120, WarningPct: 60, CriticalPct: 80,
	}

	out := budget.FromSettings(in.ToSettings(), budget.Defaults())
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := budget.Config{DailyBudget: 9}.WithDefaults(budget.Defaults())
	if cfg.DailyBudget != 9 {
		t.Errorf("DailyBudget = %f, want 9", cfg.DailyBudget)
	}
	if cfg.UserDailyLimit != 10 {
		t.Errorf("UserDailyLimit = %d, want 10", cfg.UserDailyLimit)
	}
}
