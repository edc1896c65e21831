// Package app contains the ReportService for range reports over the event log.
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

// ErrInvalidRange is returned when the end date precedes the start date.
var ErrInvalidRange = errors.New("end date before start date")

// ReportService builds reports straight from raw events, independent of aggregates.
type ReportService struct {
	events ports.EventStore
	loc    *time.Location
	logger zerolog.Logger
}

// NewReportService creates a report service. A nil loc means UTC.
func NewReportService(events ports.EventStore, loc *time.Location, logger zerolog.Logger) *ReportService {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportService{events: events, loc: loc, logger: logger}
}

// Generate reports on the local days from startDate through endDate inclusive,
// for one user or for everyone when userID is empty.
func (s *ReportService) Generate(ctx context.Context, startDate, endDate time.Time, userID string) (usage.Report, error) {
	from := usage.StartOfDay(startDate, s.loc)
	last := usage.StartOfDay(endDate, s.loc)
	if last.Before(from) {
		return usage.Report{}, ErrInvalidRange
	}
	to := last.AddDate(0, 0, 1)

	events, err := s.events.Range(ctx, from, to, userID)
	if err != nil {
		return usage.Report{}, fmt.Errorf("scan usage events: %w", err)
	}

	r := usage.BuildReport(events, usage.DayKey(from, s.loc), usage.DayKey(last, s.loc), userID, s.loc)
	s.logger.Debug().
		Str("start", r.StartDate).
		Str("end", r.EndDate).
		Str("user_id", userID).
		Int("records", len(r.Records)).
		Msg("report generated")
	return r, nil
}

// GenerateDays parses YYYY-MM-DD dates in the service location and calls Generate.
func (s *ReportService) GenerateDays(ctx context.Context, start, end, userID string) (usage.Report, error) {
	from, err := usage.ParseDay(start, s.loc)
	if err != nil {
		return usage.Report{}, fmt.Errorf("parse start date: %w", err)
	}
	to, err := usage.ParseDay(end, s.loc)
	if err != nil {
		return usage.Report{}, fmt.Errorf("parse end date: %w", err)
	}
	return s.Generate(ctx, from, to, userID)
}
