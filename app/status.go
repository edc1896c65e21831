package app

import (
	"context"
	"time"

	"github.com/artpar/usagemeter/domain/budget"
	"github.com/artpar/usagemeter/domain/cost"
	"github.com/artpar/usagemeter/domain/usage"
)

// PeriodStatus is spend against one budget period.
type PeriodStatus struct {
	Period    string                 `json:"period"`
	Cost      float64                `json:"cost"`
	Budget    float64                `json:"budget"`
	Projected float64                `json:"projected"`
	Status    budget.ThresholdStatus `json:"status"`
}

// BudgetStatus is the full spend overview served by the budget status endpoint.
type BudgetStatus struct {
	AsOf    time.Time     `json:"as_of"`
	Config  budget.Config `json:"config"`
	Daily   PeriodStatus  `json:"daily"`
	Weekly  PeriodStatus  `json:"weekly"`
	Monthly PeriodStatus  `json:"monthly"`
	Runway  cost.Runway   `json:"runway"`
}

// BudgetStatusAt computes thresholds, projections and runway for the day,
// week and month containing now.
func BudgetStatusAt(ctx context.Context, agg *Aggregator, src BudgetSource, now time.Time) (BudgetStatus, error) {
	loc := agg.Location()
	cfg := src.Current(ctx)
	local := now.In(loc)

	dayStart := usage.StartOfDay(local, loc)
	weekday := (int(local.Weekday()) + 6) % 7 // Monday = 0
	weekStart := dayStart.AddDate(0, 0, -weekday)
	monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)

	daily, err := agg.SystemCostBetween(ctx, dayStart, local)
	if err != nil {
		return BudgetStatus{}, err
	}
	weekly, err := agg.SystemCostBetween(ctx, weekStart, local)
	if err != nil {
		return BudgetStatus{}, err
	}
	monthly, err := agg.SystemCostBetween(ctx, monthStart, local)
	if err != nil {
		return BudgetStatus{}, err
	}

	daysInMonth := usage.DaysInMonth(local, loc)
	return BudgetStatus{
		AsOf:   now,
		Config: cfg,
		Daily: PeriodStatus{
			Period:    usage.DayKey(local, loc),
			Cost:      cost.Round6(daily),
			Budget:    cfg.DailyBudget,
			Projected: cost.Round6(cost.CalculateDailyProjection(local.Hour(), daily)),
			Status:    budget.CheckThresholds(daily, cfg.DailyBudget, cfg),
		},
		Weekly: PeriodStatus{
			Period:    usage.WeekKey(local, loc),
			Cost:      cost.Round6(weekly),
			Budget:    cfg.WeeklyBudget,
			Projected: cost.Round6(cost.CalculateWeeklyProjection(weekday, weekly)),
			Status:    budget.CheckThresholds(weekly, cfg.WeeklyBudget, cfg),
		},
		Monthly: PeriodStatus{
			Period:    usage.MonthKey(local, loc),
			Cost:      cost.Round6(monthly),
			Budget:    cfg.MonthlyBudget,
			Projected: cost.Round6(cost.CalculateMonthlyProjection(local.Day(), daysInMonth, monthly)),
			Status:    budget.CheckThresholds(monthly, cfg.MonthlyBudget, cfg),
		},
		Runway: cost.CalculateBudgetRunway(monthly, cfg.MonthlyBudget, local.Day(), daysInMonth),
	}, nil
}
