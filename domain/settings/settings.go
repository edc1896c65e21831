// Package settings provides value types for runtime settings.
// Settings are stored in the config store and read at runtime; the budget
// keys are the externally managed BudgetConfig.
package settings

import (
	"strconv"
	"strings"
	"time"
)

// Setting represents a single stored setting (immutable value type).
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Settings is a collection of settings with helper methods.
type Settings map[string]string

// Get returns a setting value or empty string if not found.
func (s Settings) Get(key string) string {
	return s[key]
}

// GetOrDefault returns a setting value or the default if not found.
func (s Settings) GetOrDefault(key, defaultValue string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return defaultValue
}

// GetBool returns a setting as bool (true if "true", "1", "yes", "on").
func (s Settings) GetBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(s[key]))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

// GetInt returns a setting as int or default if not found/invalid.
func (s Settings) GetInt(key string, defaultValue int) int {
	v := s[key]
	if v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return defaultValue
	}
	return i
}

// GetFloat returns a setting as float64 or default if not found/invalid.
func (s Settings) GetFloat(key string, defaultValue float64) float64 {
	v := s[key]
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// GetDuration returns a setting as duration or default if not found/invalid.
func (s Settings) GetDuration(key string, defaultValue time.Duration) time.Duration {
	v := s[key]
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

// WithPrefix returns the subset of settings whose key starts with prefix.
func (s Settings) WithPrefix(prefix string) Settings {
	out := make(Settings)
	for k, v := range s {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out
}

// Known setting keys (namespaced by category).
const (
	PrefixBudget = "budget."

	KeyBudgetDaily               = "budget.daily"
	KeyBudgetWeekly              = "budget.weekly"
	KeyBudgetMonthly             = "budget.monthly"
	KeyBudgetUserDailyLimit      = "budget.user_daily_limit"
	KeyBudgetEmergencyShutoffPct = "budget.emergency_shutoff_pct"
	KeyBudgetWarningPct          = "budget.alert_warning_pct"
	KeyBudgetCriticalPct         = "budget.alert_critical_pct"
)

// BudgetKeys returns every key that belongs to the budget config.
func BudgetKeys() []string {
	return []string{
		KeyBudgetDaily,
		KeyBudgetWeekly,
		KeyBudgetMonthly,
		KeyBudgetUserDailyLimit,
		KeyBudgetEmergencyShutoffPct,
		KeyBudgetWarningPct,
		KeyBudgetCriticalPct,
	}
}

// IsBudgetKey reports whether key is a known budget key.
func IsBudgetKey(key string) bool {
	for _, k := range BudgetKeys() {
		if k == key {
			return true
		}
	}
	return false
}

// Merge overlays loaded on base, preferring loaded values.
func Merge(base, loaded Settings) Settings {
	result := make(Settings, len(base)+len(loaded))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range loaded {
		result[k] = v
	}
	return result
}
