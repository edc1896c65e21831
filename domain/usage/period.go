package usage

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDay is returned for malformed day keys.
var ErrInvalidDay = errors.New("invalid date")

// Key layouts.
const (
	DayLayout   = "2006-01-02"
	MonthLayout = "2006-01"
)

// Keys holds the period keys of one instant.
type Keys struct {
	Day   string
	Week  string
	Month string
}

// KeysFor computes the day, week and month keys of t in loc.
// Keys compare lexicographically in chronological order.
// This is a PURE function.
func KeysFor(t time.Time, loc *time.Location) Keys {
	return Keys{
		Day:   DayKey(t, loc),
		Week:  WeekKey(t, loc),
		Month: MonthKey(t, loc),
	}
}

// DayKey returns the local calendar date of t.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(orUTC(loc)).Format(DayLayout)
}

// WeekKey returns the date of the Monday that starts t's ISO week.
func WeekKey(t time.Time, loc *time.Location) string {
	local := t.In(orUTC(loc))
	offset := (int(local.Weekday()) + 6) % 7
	monday := time.Date(local.Year(), local.Month(), local.Day()-offset, 0, 0, 0, 0, local.Location())
	return monday.Format(DayLayout)
}

// MonthKey returns the local year and month of t.
func MonthKey(t time.Time, loc *time.Location) string {
	return t.In(orUTC(loc)).Format(MonthLayout)
}

// StartOfDay returns local midnight at the start of t's day.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(orUTC(loc))
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}

// NextMidnight returns the local midnight that ends t's day.
func NextMidnight(t time.Time, loc *time.Location) time.Time {
	start := StartOfDay(t, loc)
	return time.Date(start.Year(), start.Month(), start.Day()+1, 0, 0, 0, 0, start.Location())
}

// ParseDay parses a day key in loc.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, s, orUTC(loc))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q, want YYYY-MM-DD: %v", ErrInvalidDay, s, err)
	}
	return t, nil
}

// DaysInMonth returns the length of t's month in loc.
func DaysInMonth(t time.Time, loc *time.Location) int {
	local := t.In(orUTC(loc))
	return time.Date(local.Year(), local.Month()+1, 0, 0, 0, 0, 0, local.Location()).Day()
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
