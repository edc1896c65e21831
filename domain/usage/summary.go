package usage

import (
	"sort"
	"time"

	"github.com/artpar/usagemeter/domain/cost"
)

// History bounds for closed windows kept on a user summary.
const (
	MaxDailyHistory   = 31
	MaxWeeklyHistory  = 12
	MaxMonthlyHistory = 12
)

// MaxTopEndpoints bounds SystemStats.TopEndpoints.
const MaxTopEndpoints = 10

// UserSummary is the rolling per-user aggregate.
type UserSummary struct {
	UserID          string    `json:"user_id"`
	Daily           Window    `json:"daily"`
	Weekly          Window    `json:"weekly"`
	Monthly         Window    `json:"monthly"`
	TotalCost       float64   `json:"total_cost"`
	TotalRequests   int64     `json:"total_requests"`
	DailyLimit      int64     `json:"daily_limit"` // 0 = use configured default
	IsLimitExceeded bool      `json:"is_limit_exceeded"`
	NextResetTime   time.Time `json:"next_reset_time"`
	LastUpdated     time.Time `json:"last_updated"`
	DailyHistory    []Window  `json:"daily_history,omitempty"`
	WeeklyHistory   []Window  `json:"weekly_history,omitempty"`
	MonthlyHistory  []Window  `json:"monthly_history,omitempty"`
}

// ApplyOptions carries the environment of a merge.
type ApplyOptions struct {
	Location          *time.Location
	Now               time.Time
	DefaultDailyLimit int64
}

// EffectiveLimit returns the summary's own limit when positive, else def.
func (s UserSummary) EffectiveLimit(def int64) int64 {
	if s.DailyLimit > 0 {
		return s.DailyLimit
	}
	return def
}

// ApplyUserEvent merges e into s.
// This is a PURE function.
func ApplyUserEvent(s UserSummary, e Event, opts ApplyOptions) UserSummary {
	keys := KeysFor(e.Timestamp, opts.Location)

	out := s
	if out.UserID == "" {
		out.UserID = e.UserID
	}
	out.Daily, out.DailyHistory = roll(s.Daily, s.DailyHistory, keys.Day, e, MaxDailyHistory)
	out.Weekly, out.WeeklyHistory = roll(s.Weekly, s.WeeklyHistory, keys.Week, e, MaxWeeklyHistory)
	out.Monthly, out.MonthlyHistory = roll(s.Monthly, s.MonthlyHistory, keys.Month, e, MaxMonthlyHistory)
	out.TotalCost = cost.Round6(s.TotalCost + e.Cost)
	out.TotalRequests = s.TotalRequests + 1

	limit := out.EffectiveLimit(opts.DefaultDailyLimit)
	out.IsLimitExceeded = limit > 0 && out.Daily.Key == DayKey(opts.Now, opts.Location) && out.Daily.Requests >= limit
	out.NextResetTime = NextMidnight(opts.Now, opts.Location)
	out.LastUpdated = opts.Now
	return out
}

// Clone returns a deep copy.
func (s UserSummary) Clone() UserSummary {
	s.Daily = s.Daily.Clone()
	s.Weekly = s.Weekly.Clone()
	s.Monthly = s.Monthly.Clone()
	s.DailyHistory = cloneHistory(s.DailyHistory)
	s.WeeklyHistory = cloneHistory(s.WeeklyHistory)
	s.MonthlyHistory = cloneHistory(s.MonthlyHistory)
	return s
}

// EndpointCount is one entry of the top-endpoints list.
type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Requests int64  `json:"requests"`
}

// SystemStats is the system-wide aggregate for one calendar day.
type SystemStats struct {
	Date               string           `json:"date"`
	TotalUsers         int64            `json:"total_users"`
	TotalRequests      int64            `json:"total_requests"`
	TotalTokens        int64            `json:"total_tokens"`
	TotalCost          float64          `json:"total_cost"`
	AvgCostPerRequest  float64          `json:"avg_cost_per_request"`
	SuccessCount       int64            `json:"success_count"`
	SuccessRate        float64          `json:"success_rate"`
	AvgResponseTime    float64          `json:"avg_response_time_ms"`
	EndpointCounts     map[string]int64 `json:"endpoint_counts"`
	TopEndpoints       []EndpointCount  `json:"top_endpoints"`
	HourlyDistribution [24]int64        `json:"hourly_distribution"`
	Users              map[string]int64 `json:"users"`
	LastUpdated        time.Time        `json:"last_updated"`
}

// ApplySystemEvent merges e into the stats for day.
// Stats for a different date are replaced by a fresh day.
// This is a PURE function.
func ApplySystemEvent(s SystemStats, day string, e Event, opts ApplyOptions) SystemStats {
	out := s.Clone()
	if out.Date != day {
		out = SystemStats{Date: day}
	}

	prev := out.TotalRequests
	out.TotalRequests++
	out.TotalTokens += e.TotalTokens
	out.TotalCost = cost.Round6(out.TotalCost + e.Cost)
	if e.Success {
		out.SuccessCount++
	}
	out.AvgCostPerRequest = cost.Round6(out.TotalCost / float64(out.TotalRequests))
	out.SuccessRate = float64(out.SuccessCount) / float64(out.TotalRequests) * 100
	out.AvgResponseTime = (out.AvgResponseTime*float64(prev) + float64(e.DurationMs)) / float64(out.TotalRequests)

	if out.EndpointCounts == nil {
		out.EndpointCounts = make(map[string]int64)
	}
	out.EndpointCounts[e.Endpoint]++
	out.TopEndpoints = TopEndpoints(out.EndpointCounts, MaxTopEndpoints)

	if out.Users == nil {
		out.Users = make(map[string]int64)
	}
	out.Users[e.UserID]++
	out.TotalUsers = int64(len(out.Users))

	out.HourlyDistribution[e.Timestamp.In(orUTC(opts.Location)).Hour()]++
	out.LastUpdated = opts.Now
	return out
}

// TopEndpoints returns the n endpoints with most requests, ties ordered by name.
// This is a PURE function.
func TopEndpoints(counts map[string]int64, n int) []EndpointCount {
	list := make([]EndpointCount, 0, len(counts))
	for k, v := range counts {
		list = append(list, EndpointCount{Endpoint: k, Requests: v})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Requests != list[j].Requests {
			return list[i].Requests > list[j].Requests
		}
		return list[i].Endpoint < list[j].Endpoint
	})
	if n > 0 && len(list) > n {
		list = list[:n]
	}
	return list
}

// Clone returns a deep copy.
func (s SystemStats) Clone() SystemStats {
	s.EndpointCounts = cloneCounts(s.EndpointCounts)
	s.Users = cloneCounts(s.Users)
	if s.TopEndpoints != nil {
		s.TopEndpoints = append([]EndpointCount(nil), s.TopEndpoints...)
	}
	return s
}

func cloneCounts(m map[string]int64) map[string]int64 {
	if m == nil {
		return nil
	}
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
