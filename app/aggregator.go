// Package app contains the Aggregator that maintains rolling usage summaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/usagemeter/domain/usage"
	"github.com/artpar/usagemeter/ports"
	"github.com/rs/zerolog"
)

// Aggregator merges events into per-user summaries and per-day system stats.
type Aggregator struct {
	store  ports.AggregateStore
	budget BudgetSource
	clock  ports.Clock
	loc    *time.Location
	logger zerolog.Logger
}

// NewAggregator creates an aggregator. A nil loc means UTC.
func NewAggregator(store ports.AggregateStore, budget BudgetSource, clock ports.Clock, loc *time.Location, logger zerolog.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{store: store, budget: budget, clock: clock, loc: loc, logger: logger}
}

// Steps returns the dispatcher steps that keep the aggregates current.
func (a *Aggregator) Steps() []Step {
	return []Step{
		{Name: StepUserAggregate, Run: a.ApplyUser},
		{Name: StepSystemAggregate, Run: a.ApplySystem},
	}
}

func (a *Aggregator) options(ctx context.Context) usage.ApplyOptions {
	return usage.ApplyOptions{
		Location:          a.loc,
		Now:               a.clock.Now(),
		DefaultDailyLimit: a.budget.Current(ctx).UserDailyLimit,
	}
}

// ApplyUser merges e into the user's summary.
func (a *Aggregator) ApplyUser(ctx context.Context, e usage.Event) error {
	opts := a.options(ctx)
	s, err := a.store.UpdateUser(ctx, e.UserID, func(cur usage.UserSummary, found bool) (usage.UserSummary, error) {
		if !found {
			cur = usage.UserSummary{UserID: e.UserID}
		}
		return usage.ApplyUserEvent(cur, e, opts), nil
	})
	if err != nil {
		return fmt.Errorf("update user %s: %w", e.UserID, err)
	}

	if s.IsLimitExceeded {
		a.logger.Debug().
			Str("user_id", e.UserID).
			Int64("requests", s.Daily.Requests).
			Msg("user reached daily limit")
	}
	return nil
}

// ApplySystem merges e into the stats of the event's local day.
func (a *Aggregator) ApplySystem(ctx context.Context, e usage.Event) error {
	opts := a.options(ctx)
	day := usage.DayKey(e.Timestamp, a.loc)
	_, err := a.store.UpdateSystem(ctx, day, func(cur usage.SystemStats, _ bool) (usage.SystemStats, error) {
		return usage.ApplySystemEvent(cur, day, e, opts), nil
	})
	if err != nil {
		return fmt.Errorf("update system %s: %w", day, err)
	}
	return nil
}

// GetUserUsage returns the user's summary or ports.ErrNotFound.
func (a *Aggregator) GetUserUsage(ctx context.Context, userID string) (usage.UserSummary, error) {
	return a.store.GetUser(ctx, userID)
}

// GetSystemUsage returns the stats of the local day containing t.
func (a *Aggregator) GetSystemUsage(ctx context.Context, t time.Time) (usage.SystemStats, error) {
	return a.store.GetSystem(ctx, usage.DayKey(t, a.loc))
}

// SystemCostBetween sums system cost over the local days in [from, to].
// Days without stats count as zero.
func (a *Aggregator) SystemCostBetween(ctx context.Context, from, to time.Time) (float64, error) {
	var total float64
	for d := usage.StartOfDay(from, a.loc); !d.After(to); d = d.AddDate(0, 0, 1) {
		s, err := a.store.GetSystem(ctx, usage.DayKey(d, a.loc))
		if errors.Is(err, ports.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		total += s.TotalCost
	}
	return total, nil
}

// SetUserLimit overrides the user's daily request quota.
// A zero limit restores the configured default.
func (a *Aggregator) SetUserLimit(ctx context.Context, userID string, limit int64) (usage.UserSummary, error) {
	if limit < 0 {
		return usage.UserSummary{}, fmt.Errorf("daily limit must be >= 0, got %d", limit)
	}

	now := a.clock.Now()
	def := a.budget.Current(ctx).UserDailyLimit
	s, err := a.store.UpdateUser(ctx, userID, func(cur usage.UserSummary, found bool) (usage.UserSummary, error) {
		if !found {
			cur = usage.UserSummary{UserID: userID, NextResetTime: usage.NextMidnight(now, a.loc)}
		}
		cur.DailyLimit = limit
		eff := cur.EffectiveLimit(def)
		cur.IsLimitExceeded = eff > 0 && cur.Daily.Key == usage.DayKey(now, a.loc) && cur.Daily.Requests >= eff
		cur.LastUpdated = now
		return cur, nil
	})
	if err != nil {
		return usage.UserSummary{}, fmt.Errorf("set limit for %s: %w", userID, err)
	}

	a.logger.Info().Str("user_id", userID).Int64("daily_limit", limit).Msg("user daily limit set")
	return s, nil
}

// Location returns the calendar location of period keys.
func (a *Aggregator) Location() *time.Location {
	return a.loc
}
