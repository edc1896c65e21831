// Package app contains the Recorder, the synchronous entry point of metering.
package app

import (
	"context"
	"sync"

	"github.com/artpar/usagemeter/domain/cost"
	"github.com/artpar/usagemeter/domain/usage"
	"github.com/artpar/usagemeter/ports"
	"github.com/rs/zerolog"
)

// Recorder turns one metered call into one persisted event and a background job.
type Recorder struct {
	events  ports.EventStore
	jobs    ports.JobSubmitter
	clock   ports.Clock
	ids     ports.IDGenerator
	metrics ports.Metrics
	logger  zerolog.Logger

	mu      sync.RWMutex
	pricing cost.Pricing
}

// NewRecorder creates a recorder.
func NewRecorder(
	events ports.EventStore,
	jobs ports.JobSubmitter,
	clock ports.Clock,
	ids ports.IDGenerator,
	pricing cost.Pricing,
	metrics ports.Metrics,
	logger zerolog.Logger,
) *Recorder {
	return &Recorder{
		events:  events,
		jobs:    jobs,
		clock:   clock,
		ids:     ids,
		metrics: orNop(metrics),
		logger:  logger,
		pricing: pricing,
	}
}

// SetPricing swaps the price table (hot reload).
func (r *Recorder) SetPricing(p cost.Pricing) {
	r.mu.Lock()
	r.pricing = p
	r.mu.Unlock()
}

// Pricing returns the price table in force.
func (r *Recorder) Pricing() cost.Pricing {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pricing
}

// Estimate returns the cost a call with these token counts would be billed.
func (r *Recorder) Estimate(inputTokens, outputTokens int64) float64 {
	return cost.EstimateCost(r.Pricing(), inputTokens, outputTokens)
}

// Record meters one call and returns the event id.
// It never fails: when the event cannot be persisted the failure is logged
// and usage.UnrecordedEventID is returned.
func (r *Recorder) Record(ctx context.Context, in usage.Input) string {
	e, ok := r.RecordEvent(ctx, in)
	if !ok {
		return usage.UnrecordedEventID
	}
	return e.ID
}

// RecordEvent is Record returning the full event. ok is false when the event
// was not persisted.
func (r *Recorder) RecordEvent(ctx context.Context, in usage.Input) (usage.Event, bool) {
	in = in.Normalize()
	c := cost.CalculateCost(r.Pricing(), in.InputTokens, in.OutputTokens)
	e := usage.NewEvent(r.ids.New(), in, c, r.clock.Now())

	if err := r.events.Append(ctx, e); err != nil {
		r.metrics.RecordFailed()
		r.logger.Error().Err(err).
			Str("user_id", e.UserID).
			Str("endpoint", e.Endpoint).
			Float64("cost", e.Cost).
			Msg("failed to persist usage event")
		return e, false
	}

	r.metrics.EventRecorded(e.Endpoint, e.Cost, e.TotalTokens, e.Success)
	r.jobs.Submit(ports.Job{Event: e})

	r.logger.Debug().
		Str("event_id", e.ID).
		Str("user_id", e.UserID).
		Str("endpoint", e.Endpoint).
		Float64("cost", e.Cost).
		Msg("usage recorded")
	return e, true
}
