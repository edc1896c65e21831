package alert_test

import (
	"testing"
	"time"

	"github.com/artpar/usagemeter/domain/alert"
	"github.com/artpar/usagemeter/domain/budget"
)

func types(alerts []alert.Alert) map[alert.Type]alert.Alert {
	m := make(map[alert.Type]alert.Alert, len(alerts))
	for _, a := range alerts {
		m[a.Type] = a
	}
	return m
}

func TestEvaluate(t *testing.T) {
	cfg := budget.Defaults()

	tests := []struct {
		name string
		in   alert.Input
		want []alert.Type
	}{
		{"quiet", alert.Input{SystemCost: 1, UserID: "u1", UserRequests: 2, UserDailyLimit: 10}, nil},
		{"warning", alert.Input{SystemCost: 4, UserID: "u1", UserRequests: 2, UserDailyLimit: 10}, []alert.Type{alert.TypeBudgetWarning}},
		{"critical", alert.Input{SystemCost: 4.6}, []alert.Type{alert.TypeBudgetWarning, alert.TypeBudgetCritical}},
		{"emergency", alert.Input{SystemCost: 8}, []alert.Type{alert.TypeBudgetWarning, alert.TypeBudgetCritical, alert.TypeSystemLimit}},
		{"user at 80 percent", alert.Input{SystemCost: 0, UserID: "u1", UserRequests: 8, UserDailyLimit: 10}, []alert.Type{alert.TypeUserLimit}},
		{"user without limit", alert.Input{UserID: "u1", UserRequests: 8}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := alert.Evaluate(tt.in, cfg)
			if len(got) != len(tt.want) {
				t.Fatalf("Evaluate = %+v, want types %v", got, tt.want)
			}
			m := types(got)
			for _, w := range tt.want {
				if _, ok := m[w]; !ok {
					t.Errorf("missing %s in %+v", w, got)
				}
			}
		})
	}
}

func TestEvaluate_Fields(t *testing.T) {
	cfg := budget.Defaults()
	got := types(alert.Evaluate(alert.Input{SystemCost: 4, UserID: "u1", Endpoint: "chat", UserRequests: 9, UserDailyLimit: 10}, cfg))

	w := got[alert.TypeBudgetWarning]
	if w.Threshold != 75 || w.CurrentValue != 80 || w.UserID != "" || w.Endpoint != "chat" {
		t.Errorf("warning = %+v", w)
	}
	if w.Scope() != alert.SystemScope {
		t.Errorf("Scope = %q, want system", w.Scope())
	}

	u := got[alert.TypeUserLimit]
	if u.UserID != "u1" || u.CurrentValue != 90 || u.Scope() != "u1" {
		t.Errorf("user_limit = %+v", u)
	}
}

func TestEvaluate_ZeroBudget(t *testing.T) {
	cfg := budget.Defaults()
	cfg.DailyBudget = 0
	if got := alert.Evaluate(alert.Input{SystemCost: 100}, cfg); len(got) != 0 {
		t.Errorf("zero budget should raise nothing, got %+v", got)
	}
}

func TestInCooldown(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		last     time.Time
		cooldown time.Duration
		want     bool
	}{
		{"never raised", time.Time{}, time.Hour, false},
		{"recent", now.Add(-10 * time.Minute), time.Hour, true},
		{"expired", now.Add(-2 * time.Hour), time.Hour, false},
		{"boundary", now.Add(-time.Hour), time.Hour, false},
		{"disabled", now.Add(-time.Second), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := alert.InCooldown(tt.last, now, tt.cooldown); got != tt.want {
				t.Errorf("InCooldown = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter_Matches(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	a := alert.Alert{Type: alert.TypeUserLimit, UserID: "u1", Timestamp: ts, Resolved: true}

	tests := []struct {
		name string
		f    alert.Filter
		want bool
	}{
		{"empty", alert.Filter{}, true},
		{"user match", alert.Filter{UserID: "u1"}, true},
		{"user mismatch", alert.Filter{UserID: "u2"}, false},
		{"type mismatch", alert.Filter{Type: alert.TypeBudgetWarning}, false},
		{"unresolved only", alert.Filter{Unresolved: true}, false},
		{"since before", alert.Filter{Since: ts.Add(-time.Minute)}, true},
		{"since after", alert.Filter{Since: ts.Add(time.Minute)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Matches(a); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestType_Valid(t *testing.T) {
	for _, typ := range []alert.Type{alert.TypeBudgetWarning, alert.TypeBudgetCritical, alert.TypeSystemLimit, alert.TypeUserLimit} {
		if !typ.Valid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	if alert.Type("bogus").Valid() {
		t.Error("bogus should be invalid")
	}
}
