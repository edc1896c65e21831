// Package budget provides the budget configuration value type and threshold math.
// All functions are pure - no side effects.
package budget

import (
	"fmt"
	"strconv"

	"github.com/artpar/usagemeter/domain/settings"
)

// Config holds spend ceilings and alert thresholds (value type).
// Percentages are expressed as 0-100+ (150 = 150%).
type Config struct {
	DailyBudget         float64 `yaml:"daily_budget" json:"daily_budget"`
	WeeklyBudget        float64 `yaml:"weekly_budget" json:"weekly_budget"`
	MonthlyBudget       float64 `yaml:"monthly_budget" json:"monthly_budget"`
	UserDailyLimit      int64   `yaml:"user_daily_limit" json:"user_daily_limit"`
	EmergencyShutoffPct float64 `yaml:"emergency_shutoff_pct" json:"emergency_shutoff_pct"`
	WarningPct          float64 `yaml:"warning_pct" json:"warning_pct"`
	CriticalPct         float64 `yaml:"critical_pct" json:"critical_pct"`
}

// Defaults returns the built-in budget used when the config store has nothing.
func Defaults() Config {
	return Config{
		DailyBudget:         5,
		WeeklyBudget:        30,
		MonthlyBudget:       100,
		UserDailyLimit:      10,
		EmergencyShutoffPct: 150,
		WarningPct:          75,
		CriticalPct:         90,
	}
}

// WithDefaults fills zero fields from fallback.
func (c Config) WithDefaults(fallback Config) Config {
	if c.DailyBudget == 0 {
		c.DailyBudget = fallback.DailyBudget
	}
	if c.WeeklyBudget == 0 {
		c.WeeklyBudget = fallback.WeeklyBudget
	}
	if c.MonthlyBudget == 0 {
		c.MonthlyBudget = fallback.MonthlyBudget
	}
	if c.UserDailyLimit == 0 {
		c.UserDailyLimit = fallback.UserDailyLimit
	}
	if c.EmergencyShutoffPct == 0 {
		c.EmergencyShutoffPct = fallback.EmergencyShutoffPct
	}
	if c.WarningPct == 0 {
		c.WarningPct = fallback.WarningPct
	}
	if c.CriticalPct == 0 {
		c.CriticalPct = fallback.CriticalPct
	}
	return c
}

// Validate rejects negative values.
// Non-monotonic thresholds are allowed; flags are evaluated independently.
func (c Config) Validate() error {
	switch {
	case c.DailyBudget < 0:
		return fmt.Errorf("daily_budget must be >= 0, got %v", c.DailyBudget)
	case c.WeeklyBudget < 0:
		return fmt.Errorf("weekly_budget must be >= 0, got %v", c.WeeklyBudget)
	case c.MonthlyBudget < 0:
		return fmt.Errorf("monthly_budget must be >= 0, got %v", c.MonthlyBudget)
	case c.UserDailyLimit < 0:
		return fmt.Errorf("user_daily_limit must be >= 0, got %d", c.UserDailyLimit)
	case c.EmergencyShutoffPct < 0, c.WarningPct < 0, c.CriticalPct < 0:
		return fmt.Errorf("threshold percentages must be >= 0")
	}
	return nil
}

// ThresholdStatus is the outcome of comparing spend against a budget (value type).
type ThresholdStatus struct {
	Percentage  float64 `json:"percentage"`
	IsWarning   bool    `json:"is_warning"`
	IsCritical  bool    `json:"is_critical"`
	IsEmergency bool    `json:"is_emergency"`
}

// CheckThresholds compares cost against limit.
// Each flag is an independent comparison; a zero or negative limit yields no flags.
// This is a PURE function.
func CheckThresholds(cost, limit float64, cfg Config) ThresholdStatus {
	if limit <= 0 {
		return ThresholdStatus{}
	}
	pct := cost / limit * 100
	return ThresholdStatus{
		Percentage:  pct,
		IsWarning:   pct >= cfg.WarningPct,
		IsCritical:  pct >= cfg.CriticalPct,
		IsEmergency: pct >= cfg.EmergencyShutoffPct,
	}
}

// FromSettings reads budget keys from the settings store, falling back per key.
// Unparseable values are ignored.
func FromSettings(s settings.Settings, fallback Config) Config {
	cfg := fallback
	if v, ok := parseFloat(s, settings.KeyBudgetDaily); ok {
		cfg.DailyBudget = v
	}
	if v, ok := parseFloat(s, settings.KeyBudgetWeekly); ok {
		cfg.WeeklyBudget = v
	}
	if v, ok := parseFloat(s, settings.KeyBudgetMonthly); ok {
		cfg.MonthlyBudget = v
	}
	if v, ok := parseFloat(s, settings.KeyBudgetUserDailyLimit); ok && v >= 0 {
		cfg.UserDailyLimit = int64(v)
	}
	if v, ok := parseFloat(s, settings.KeyBudgetEmergencyShutoffPct); ok {
		cfg.EmergencyShutoffPct = v
	}
	if v, ok := parseFloat(s, settings.KeyBudgetWarningPct); ok {
		cfg.WarningPct = v
	}
	if v, ok := parseFloat(s, settings.KeyBudgetCriticalPct); ok {
		cfg.CriticalPct = v
	}
	return cfg
}

// ToSettings renders the config as settings entries.
func (c Config) ToSettings() settings.Settings {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return settings.Settings{
		settings.KeyBudgetDaily:               f(c.DailyBudget),
		settings.KeyBudgetWeekly:              f(c.WeeklyBudget),
		settings.KeyBudgetMonthly:             f(c.MonthlyBudget),
		settings.KeyBudgetUserDailyLimit:      strconv.FormatInt(c.UserDailyLimit, 10),
		settings.KeyBudgetEmergencyShutoffPct: f(c.EmergencyShutoffPct),
		settings.KeyBudgetWarningPct:          f(c.WarningPct),
		settings.KeyBudgetCriticalPct:         f(c.CriticalPct),
	}
}

func parseFloat(s settings.Settings, key string) (float64, bool) {
	raw := s.Get(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
