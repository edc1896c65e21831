// Package cost provides pure functions for token pricing and spend projection.
// All functions are deterministic with no side effects.
package cost

import "math"

// Default per-million-token prices in USD.
const (
	DefaultInputPerMillion  = 0.25
	DefaultOutputPerMillion = 1.25
)

// DaysPerMonth is the fallback month length for projections.
const DaysPerMonth = 30

// Pricing holds per-million-token prices (value type).
type Pricing struct {
	InputPerMillion  float64 `yaml:"input_per_million" json:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million" json:"output_per_million"`
}

// DefaultPricing returns the built-in model prices.
func DefaultPricing() Pricing {
	return Pricing{
		InputPerMillion:  DefaultInputPerMillion,
		OutputPerMillion: DefaultOutputPerMillion,
	}
}

// CalculateCost converts token counts into a USD cost rounded to 6 decimals.
// Negative counts are treated as zero.
// This is a PURE function.
func CalculateCost(p Pricing, inputTokens, outputTokens int64) float64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	c := float64(inputTokens)/1e6*p.InputPerMillion + float64(outputTokens)/1e6*p.OutputPerMillion
	return Round6(c)
}

// EstimateCost is CalculateCost under the name used by pre-flight checks.
func EstimateCost(p Pricing, inputTokens, outputTokens int64) float64 {
	return CalculateCost(p, inputTokens, outputTokens)
}

// Round6 rounds to 6 decimal places.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// project extrapolates linearly from elapsed units to the full period.
func project(elapsed, total int, costSoFar float64) float64 {
	if elapsed <= 0 {
		return costSoFar * float64(total)
	}
	if elapsed > total {
		elapsed = total
	}
	perUnit := costSoFar / float64(elapsed)
	return costSoFar + perUnit*float64(total-elapsed)
}

// CalculateDailyProjection projects end-of-day spend from the hours elapsed.
func CalculateDailyProjection(hourOfDay int, costSoFar float64) float64 {
	return project(hourOfDay, 24, costSoFar)
}

// CalculateWeeklyProjection projects end-of-week spend from the days elapsed.
func CalculateWeeklyProjection(dayOfWeek int, costSoFar float64) float64 {
	return project(dayOfWeek, 7, costSoFar)
}

// CalculateMonthlyProjection projects end-of-month spend from the days elapsed.
func CalculateMonthlyProjection(dayOfMonth, daysInMonth int, costSoFar float64) float64 {
	if daysInMonth <= 0 {
		daysInMonth = DaysPerMonth
	}
	return project(dayOfMonth, daysInMonth, costSoFar)
}

// Runway describes how long the monthly budget lasts at the current burn rate.
type Runway struct {
	DaysRemaining    float64 `json:"days_remaining"`
	BudgetRemaining  float64 `json:"budget_remaining"`
	DailyBurnRate    float64 `json:"daily_burn_rate"`
	ProjectedTotal   float64 `json:"projected_total"`
	ProjectedOverage float64 `json:"projected_overage"`
}

// CalculateBudgetRunway computes burn rate and overage for the current month.
// daysInMonth is the length of that month; zero or less means DaysPerMonth.
// This is a PURE function.
func CalculateBudgetRunway(monthlyCostSoFar, monthlyBudget float64, daysIntoMonth, daysInMonth int) Runway {
	if daysInMonth <= 0 {
		daysInMonth = DaysPerMonth
	}
	days := daysIntoMonth
	if days < 1 {
		days = 1
	}
	if days > daysInMonth {
		days = daysInMonth
	}

	burn := monthlyCostSoFar / float64(days)
	projected := burn * float64(daysInMonth)

	r := Runway{
		BudgetRemaining:  math.Max(0, monthlyBudget-monthlyCostSoFar),
		DailyBurnRate:    Round6(burn),
		ProjectedTotal:   Round6(projected),
		ProjectedOverage: Round6(math.Max(0, projected-monthlyBudget)),
	}

	if burn > 0 {
		r.DaysRemaining = r.BudgetRemaining / burn
	} else {
		r.DaysRemaining = float64(daysInMonth - days)
	}
	r.BudgetRemaining = Round6(r.BudgetRemaining)
	return r
}
