// Package app contains the LimitService that guards metered calls.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/usagemeter/domain/quota"
	"github.com/artpar/usagemeter/domain/usage"
	"github.com/artpar/usagemeter/ports"
	"github.com/rs/zerolog"
)

// LimitService answers whether a user may make another metered call.
type LimitService struct {
	store   ports.AggregateStore
	budget  BudgetSource
	clock   ports.Clock
	loc     *time.Location
	metrics ports.Metrics
	logger  zerolog.Logger
}

// NewLimitService creates a limit service. A nil loc means UTC.
func NewLimitService(store ports.AggregateStore, budget BudgetSource, clock ports.Clock, loc *time.Location, metrics ports.Metrics, logger zerolog.Logger) *LimitService {
	if loc == nil {
		loc = time.UTC
	}
	return &LimitService{
		store:   store,
		budget:  budget,
		clock:   clock,
		loc:     loc,
		metrics: orNop(metrics),
		logger:  logger,
	}
}

// Check returns the admission decision for userID. It never fails: when the
// aggregates cannot be read the call is allowed with the default quota.
func (s *LimitService) Check(ctx context.Context, userID string) quota.Decision {
	now := s.clock.Now()
	cfg := s.budget.Current(ctx)

	state, err := s.state(ctx, userID, now)
	var d quota.Decision
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("limit check failed, allowing request")
		d = quota.FailOpen(cfg, now, s.loc, err)
	} else {
		d = quota.Check(state, cfg, now, s.loc)
	}

	s.metrics.Decision(d.CanProceed, d.Reason)
	if !d.CanProceed {
		s.logger.Info().
			Str("user_id", userID).
			Str("reason", d.Reason).
			Time("reset_time", d.ResetTime).
			Msg("request denied")
	}
	return d
}

func (s *LimitService) state(ctx context.Context, userID string, now time.Time) (quota.State, error) {
	var st quota.State

	summary, err := s.store.GetUser(ctx, userID)
	switch {
	case err == nil:
		st.Summary, st.HasSummary = summary, true
	case !errors.Is(err, ports.ErrNotFound):
		return st, err
	}

	sys, err := s.store.GetSystem(ctx, usage.DayKey(now, s.loc))
	switch {
	case err == nil:
		st.SystemCost = sys.TotalCost
	case !errors.Is(err, ports.ErrNotFound):
		return st, err
	}
	return st, nil
}
