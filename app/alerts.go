// Package app contains the AlertService for budget and quota alerts.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/artpar/usagemeter/domain/alert"
	"github.com/artpar/usagemeter/domain/usage"
	"github.com/artpar/usagemeter/ports"
	"github.com/rs/zerolog"
)

// DefaultAlertCooldown suppresses repeats of one alert type per scope.
const DefaultAlertCooldown = time.Hour

// AlertService evaluates thresholds after each event and keeps the alert log.
type AlertService struct {
	alerts  ports.AlertStore
	store   ports.AggregateStore
	budget  BudgetSource
	clock   ports.Clock
	ids     ports.IDGenerator
	loc     *time.Location
	metrics ports.Metrics
	logger  zerolog.Logger

	// raiseMu serializes the cooldown check and the append.
	raiseMu  sync.Mutex
	mu       sync.RWMutex
	cooldown time.Duration
}

// NewAlertService creates an alert service. A zero cooldown raises on every crossing.
func NewAlertService(
	alerts ports.AlertStore,
	store ports.AggregateStore,
	budget BudgetSource,
	clock ports.Clock,
	ids ports.IDGenerator,
	loc *time.Location,
	cooldown time.Duration,
	metrics ports.Metrics,
	logger zerolog.Logger,
) *AlertService {
	if loc == nil {
		loc = time.UTC
	}
	return &AlertService{
		alerts:   alerts,
		store:    store,
		budget:   budget,
		clock:    clock,
		ids:      ids,
		loc:      loc,
		cooldown: cooldown,
		metrics:  orNop(metrics),
		logger:   logger,
	}
}

// SetCooldown changes the cooldown (hot reload).
func (s *AlertService) SetCooldown(d time.Duration) {
	s.mu.Lock()
	s.cooldown = d
	s.mu.Unlock()
}

func (s *AlertService) cooldownFor() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cooldown
}

// Step returns the dispatcher step that evaluates alerts for an event.
func (s *AlertService) Step() Step {
	return Step{
		Name: StepAlerts,
		Run: func(ctx context.Context, e usage.Event) error {
			_, err := s.EvaluateEvent(ctx, e)
			return err
		},
	}
}

// Evaluate reads today's aggregates and appends an alert for each threshold
// crossed outside its cooldown. It returns the alerts raised.
func (s *AlertService) Evaluate(ctx context.Context, userID string, eventCost float64, endpoint string) ([]alert.Alert, error) {
	return s.evaluate(ctx, userID, eventCost, endpoint, "")
}

// EvaluateEvent is Evaluate for the state after event e. Alert ids derive
// from the event id, so evaluating the same event again never stores an alert
// twice.
func (s *AlertService) EvaluateEvent(ctx context.Context, e usage.Event) ([]alert.Alert, error) {
	return s.evaluate(ctx, e.UserID, e.Cost, e.Endpoint, e.ID)
}

func (s *AlertService) evaluate(ctx context.Context, userID string, eventCost float64, endpoint, eventID string) ([]alert.Alert, error) {
	now := s.clock.Now()
	today := usage.DayKey(now, s.loc)
	cfg := s.budget.Current(ctx)

	in := alert.Input{UserID: userID, Endpoint: endpoint, EventCost: eventCost}

	sys, err := s.store.GetSystem(ctx, today)
	switch {
	case err == nil:
		in.SystemCost = sys.TotalCost
	case !errors.Is(err, ports.ErrNotFound):
		return nil, fmt.Errorf("read system stats: %w", err)
	}

	if userID != "" {
		summary, err := s.store.GetUser(ctx, userID)
		switch {
		case err == nil:
			in.UserDailyLimit = summary.EffectiveLimit(cfg.UserDailyLimit)
			if summary.Daily.Key == today {
				in.UserRequests = summary.Daily.Requests
			}
		case errors.Is(err, ports.ErrNotFound):
			in.UserDailyLimit = cfg.UserDailyLimit
		default:
			return nil, fmt.Errorf("read user summary: %w", err)
		}
	}

	candidates := alert.Evaluate(in, cfg)
	if len(candidates) == 0 {
		return nil, nil
	}

	cooldown := s.cooldownFor()

	s.raiseMu.Lock()
	defer s.raiseMu.Unlock()

	var (
		raised []alert.Alert
		errs   []error
	)
	for _, a := range candidates {
		last, err := s.alerts.LastRaised(ctx, a.Scope(), a.Type)
		if err != nil {
			errs = append(errs, fmt.Errorf("read last %s alert: %w", a.Type, err))
			continue
		}
		if alert.InCooldown(last, now, cooldown) {
			continue
		}

		if eventID != "" {
			a.ID = alert.EventAlertID(eventID, a.Type)
		} else {
			a.ID = s.ids.New()
		}
		a.Timestamp = now
		if err := s.alerts.Append(ctx, a); err != nil {
			// Raised by an earlier attempt for the same event.
			if errors.Is(err, ports.ErrDuplicate) {
				continue
			}
			errs = append(errs, fmt.Errorf("append %s alert: %w", a.Type, err))
			continue
		}

		s.metrics.AlertRaised(a.Type)
		s.logger.Warn().
			Str("alert_id", a.ID).
			Str("type", string(a.Type)).
			Str("user_id", a.UserID).
			Float64("threshold", a.Threshold).
			Float64("current_value", a.CurrentValue).
			Msg(a.Message)
		raised = append(raised, a)
	}
	return raised, errors.Join(errs...)
}

// List returns alerts matching f, newest first.
func (s *AlertService) List(ctx context.Context, f alert.Filter) ([]alert.Alert, error) {
	return s.alerts.List(ctx, f)
}

// Resolve marks an alert resolved.
func (s *AlertService) Resolve(ctx context.Context, id string) error {
	if err := s.alerts.Resolve(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("alert_id", id).Msg("alert resolved")
	return nil
}
