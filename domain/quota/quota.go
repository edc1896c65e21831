// Package quota provides pure functions for admission decisions.
// All functions are deterministic with no side effects.
package quota

import (
	"fmt"
	"time"

	"github.com/artpar/usagemeter/domain/budget"
	"github.com/artpar/usagemeter/domain/usage"
)

// Denial and degradation reasons.
const (
	ReasonDailyLimitExceeded   = "daily_limit_exceeded"
	ReasonSystemBudgetExceeded = "system_budget_exceeded"
	ReasonCheckUnavailable     = "limit_check_unavailable"
)

// WarningLevel indicates how close to the daily quota the user is.
type WarningLevel int

const (
	WarningNone        WarningLevel = iota // < 80%
	WarningApproaching                     // >= 80%
	WarningCritical                        // >= 95%
	WarningExceeded                        // >= 100%
)

// ApproachingPct is the share of the daily quota at which a user is "approaching".
const ApproachingPct = 80

// Decision is the outcome of an admission check (value type).
type Decision struct {
	CanProceed        bool         `json:"can_proceed"`
	Reason            string       `json:"reason,omitempty"`
	RemainingRequests int64        `json:"remaining_requests"`
	DailyLimit        int64        `json:"daily_limit"`
	ResetTime         time.Time    `json:"reset_time"`
	PercentUsed       float64      `json:"percent_used"`
	WarningLevel      WarningLevel `json:"warning_level"`
}

// State is what the admission check reads from the aggregate stores.
type State struct {
	Summary    usage.UserSummary
	HasSummary bool
	SystemCost float64 // today's system-wide cost
}

// Check decides whether a user may make another metered call.
//
// A missing summary or one whose daily window is not today counts as zero
// requests. The per-user quota is checked first. The system daily budget then
// acts as a breaker for every user when DailyBudget > 0.
// This is a PURE function - no side effects.
func Check(st State, cfg budget.Config, now time.Time, loc *time.Location) Decision {
	limit := cfg.UserDailyLimit
	var used int64
	if st.HasSummary {
		limit = st.Summary.EffectiveLimit(cfg.UserDailyLimit)
		if st.Summary.Daily.Key == usage.DayKey(now, loc) {
			used = st.Summary.Daily.Requests
		}
	}

	d := Decision{
		DailyLimit: limit,
		ResetTime:  usage.NextMidnight(now, loc),
	}
	if limit > 0 {
		d.PercentUsed = float64(used) / float64(limit) * 100
	}
	d.WarningLevel = levelFor(d.PercentUsed)

	if limit > 0 && used >= limit {
		d.Reason = ReasonDailyLimitExceeded
		return d
	}

	if cfg.DailyBudget > 0 && st.SystemCost >= cfg.DailyBudget {
		d.Reason = ReasonSystemBudgetExceeded
		return d
	}

	d.CanProceed = true
	if limit > 0 {
		d.RemainingRequests = limit - used
	}
	return d
}

// FailOpen is the decision returned when state could not be read.
// This is a PURE function.
func FailOpen(cfg budget.Config, now time.Time, loc *time.Location, cause error) Decision {
	reason := ReasonCheckUnavailable
	if cause != nil {
		reason += ": " + cause.Error()
	}
	return Decision{
		CanProceed:        true,
		Reason:            reason,
		RemainingRequests: cfg.UserDailyLimit,
		DailyLimit:        cfg.UserDailyLimit,
		ResetTime:         usage.NextMidnight(now, loc),
	}
}

func levelFor(pct float64) WarningLevel {
	switch {
	case pct >= 100:
		return WarningExceeded
	case pct >= 95:
		return WarningCritical
	case pct >= ApproachingPct:
		return WarningApproaching
	default:
		return WarningNone
	}
}

// String returns the string representation of a warning level.
func (w WarningLevel) String() string {
	switch w {
	case WarningNone:
		return "none"
	case WarningApproaching:
		return "approaching"
	case WarningCritical:
		return "critical"
	case WarningExceeded:
		return "exceeded"
	default:
		return "unknown"
	}
}

// MarshalText renders the level by name.
func (w WarningLevel) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

// UnmarshalText parses a level name written by MarshalText.
func (w *WarningLevel) UnmarshalText(b []byte) error {
	for _, l := range []WarningLevel{WarningNone, WarningApproaching, WarningCritical, WarningExceeded} {
		if l.String() == string(b) {
			*w = l
			return nil
		}
	}
	return fmt.Errorf("unknown warning level %q", b)
}
