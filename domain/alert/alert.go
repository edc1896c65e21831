// Package alert provides alert records and threshold evaluation.
// All functions are pure - no side effects.
package alert

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/usagemeter/domain/budget"
	"github.com/artpar/usagemeter/domain/quota"
)

// Type classifies an alert.
type Type string

const (
	TypeBudgetWarning  Type = "budget_warning"
	TypeBudgetCritical Type = "budget_critical"
	TypeSystemLimit    Type = "system_limit"
	TypeUserLimit      Type = "user_limit"
)

// Valid reports whether t is a known alert type.
func (t Type) Valid() bool {
	switch t {
	case TypeBudgetWarning, TypeBudgetCritical, TypeSystemLimit, TypeUserLimit:
		return true
	}
	return false
}

// SystemScope is the scope key of alerts without a user.
const SystemScope = "system"

// Alert is one threshold crossing (immutable, append-only).
type Alert struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	Message      string    `json:"message"`
	Threshold    float64   `json:"threshold"`
	CurrentValue float64   `json:"current_value"`
	Timestamp    time.Time `json:"timestamp"`
	Resolved     bool      `json:"resolved"`
	UserID       string    `json:"user_id,omitempty"`
	Endpoint     string    `json:"endpoint,omitempty"`
}

// Scope returns the cooldown scope: the user id, or SystemScope.
func (a Alert) Scope() string {
	if a.UserID == "" {
		return SystemScope
	}
	return a.UserID
}

// Filter selects alerts when listing.
type Filter struct {
	UserID     string
	Type       Type
	Unresolved bool
	Since      time.Time
	Limit      int
}

// Matches reports whether a passes the filter (Limit is not applied).
func (f Filter) Matches(a Alert) bool {
	if f.UserID != "" && a.UserID != f.UserID {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Unresolved && a.Resolved {
		return false
	}
	if !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// eventNamespace scopes the ids derived by EventAlertID.
var eventNamespace = uuid.MustParse("6f1c3a52-7d0e-4b8e-9a51-2c4f0d9e8b17")

// EventAlertID is the id of the alert of type t raised after event eventID.
// Re-evaluating the same event yields the same id.
func EventAlertID(eventID string, t Type) string {
	return uuid.NewSHA1(eventNamespace, []byte(eventID+"/"+string(t))).String()
}

// Input is the state read after an event for evaluation.
type Input struct {
	UserID         string
	Endpoint       string
	EventCost      float64
	SystemCost     float64 // today's system-wide cost
	UserRequests   int64   // user's requests today
	UserDailyLimit int64   // effective limit for the user
}

// Evaluate returns the alerts raised by the current state, without ids or timestamps.
// Each class is an independent comparison: a single event can raise several.
// This is a PURE function.
func Evaluate(in Input, cfg budget.Config) []Alert {
	var out []Alert

	status := budget.CheckThresholds(in.SystemCost, cfg.DailyBudget, cfg)
	if status.IsWarning {
		out = append(out, Alert{
			Type:         TypeBudgetWarning,
			Message:      fmt.Sprintf("daily spend $%.2f reached %.0f%% of $%.2f budget", in.SystemCost, status.Percentage, cfg.DailyBudget),
			Threshold:    cfg.WarningPct,
			CurrentValue: status.Percentage,
			Endpoint:     in.Endpoint,
		})
	}
	if status.IsCritical {
		out = append(out, Alert{
			Type:         TypeBudgetCritical,
			Message:      fmt.Sprintf("daily spend $%.2f reached %.0f%% of $%.2f budget", in.SystemCost, status.Percentage, cfg.DailyBudget),
			Threshold:    cfg.CriticalPct,
			CurrentValue: status.Percentage,
			Endpoint:     in.Endpoint,
		})
	}
	if status.IsEmergency {
		out = append(out, Alert{
			Type:         TypeSystemLimit,
			Message:      fmt.Sprintf("daily spend $%.2f passed emergency shutoff at %.0f%% of budget", in.SystemCost, cfg.EmergencyShutoffPct),
			Threshold:    cfg.EmergencyShutoffPct,
			CurrentValue: status.Percentage,
			Endpoint:     in.Endpoint,
		})
	}

	if in.UserDailyLimit > 0 && in.UserID != "" {
		pct := float64(in.UserRequests) / float64(in.UserDailyLimit) * 100
		if pct >= quota.ApproachingPct {
			out = append(out, Alert{
				Type:         TypeUserLimit,
				Message:      fmt.Sprintf("user %s used %d of %d daily requests", in.UserID, in.UserRequests, in.UserDailyLimit),
				Threshold:    quota.ApproachingPct,
				CurrentValue: pct,
				UserID:       in.UserID,
				Endpoint:     in.Endpoint,
			})
		}
	}
	return out
}

// InCooldown reports whether an alert raised at last suppresses a new one at now.
// A zero cooldown never suppresses.
func InCooldown(last, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 || last.IsZero() {
		return false
	}
	return now.Sub(last) < cooldown
}
