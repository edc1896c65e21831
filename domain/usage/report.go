package usage

import (
	"sort"
	"time"

	"github.com/artpar/usagemeter/domain/cost"
)

// Report is the result of a range scan over the raw event log.
type Report struct {
	StartDate         string                   `json:"start_date"`
	EndDate           string                   `json:"end_date"`
	UserID            string                   `json:"user_id,omitempty"`
	Records           []Event                  `json:"records"`
	TotalCost         float64                  `json:"total_cost"`
	TotalRequests     int64                    `json:"total_requests"`
	TotalTokens       int64                    `json:"total_tokens"`
	SuccessRate       float64                  `json:"success_rate"`
	AvgResponseTime   float64                  `json:"avg_response_time_ms"`
	EndpointBreakdown map[string]EndpointStats `json:"endpoint_breakdown"`
}

// EndpointStats is the per-endpoint section of a report.
type EndpointStats struct {
	Requests            int64     `json:"requests"`
	Successes           int64     `json:"successes"`
	Failures            int64     `json:"failures"`
	TotalCost           float64   `json:"total_cost"`
	AvgCost             float64   `json:"avg_cost"`
	AvgResponseTime     float64   `json:"avg_response_time_ms"`
	AvgTokensPerRequest float64   `json:"avg_tokens_per_request"`
	CacheHitRate        float64   `json:"cache_hit_rate"`
	HourlyDistribution  [24]int64 `json:"hourly_distribution"`
	LastUsed            time.Time `json:"last_used"`
}

// BuildReport aggregates events into a report.
// Records are ordered by timestamp then id so equal inputs give equal reports.
// This is a PURE function.
func BuildReport(events []Event, startDate, endDate, userID string, loc *time.Location) Report {
	records := append([]Event(nil), events...)
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.Before(records[j].Timestamp)
		}
		return records[i].ID < records[j].ID
	})

	r := Report{
		StartDate:         startDate,
		EndDate:           endDate,
		UserID:            userID,
		Records:           records,
		EndpointBreakdown: make(map[string]EndpointStats),
	}
	if len(records) == 0 {
		return r
	}

	type acc struct {
		stats    EndpointStats
		duration int64
		tokens   int64
		hits     int64
	}
	per := make(map[string]*acc)

	var successes, duration int64
	var total float64
	for _, e := range records {
		r.TotalRequests++
		r.TotalTokens += e.TotalTokens
		total += e.Cost
		duration += e.DurationMs
		if e.Success {
			successes++
		}

		a, ok := per[e.Endpoint]
		if !ok {
			a = &acc{}
			per[e.Endpoint] = a
		}
		a.stats.Requests++
		if e.Success {
			a.stats.Successes++
		} else {
			a.stats.Failures++
		}
		a.stats.TotalCost += e.Cost
		a.duration += e.DurationMs
		a.tokens += e.TotalTokens
		if e.CacheHit {
			a.hits++
		}
		a.stats.HourlyDistribution[e.Timestamp.In(orUTC(loc)).Hour()]++
		if e.Timestamp.After(a.stats.LastUsed) {
			a.stats.LastUsed = e.Timestamp
		}
	}

	n := float64(r.TotalRequests)
	r.TotalCost = cost.Round6(total)
	r.SuccessRate = float64(successes) / n * 100
	r.AvgResponseTime = float64(duration) / n

	for name, a := range per {
		s := a.stats
		c := float64(s.Requests)
		s.TotalCost = cost.Round6(s.TotalCost)
		s.AvgCost = cost.Round6(s.TotalCost / c)
		s.AvgResponseTime = float64(a.duration) / c
		s.AvgTokensPerRequest = float64(a.tokens) / c
		s.CacheHitRate = float64(a.hits) / c * 100
		r.EndpointBreakdown[name] = s
	}
	return r
}
