package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/artpar/usagemeter/adapters/clock"
	"github.com/artpar/usagemeter/adapters/idgen"
	"github.com/artpar/usagemeter/adapters/memory"
	"github.com/artpar/usagemeter/app"
	"github.com/artpar/usagemeter/domain/alert"
	"github.com/artpar/usagemeter/domain/budget"
	"github.com/artpar/usagemeter/domain/cost"
	"github.com/artpar/usagemeter/domain/usage"
	"github.com/artpar/usagemeter/ports"
	"github.com/rs/zerolog"
)

var baseTime = time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)

// centPricing bills one input token as one cent.
var centPricing = cost.Pricing{InputPerMillion: 10_000, OutputPerMillion: 10_000}

// countingMetrics implements ports.Metrics for assertions.
type countingMetrics struct {
	mu          sync.Mutex
	recorded    int
	failed      int
	dropped     int
	stepFailed  map[string]int
	decisions   map[string]int
	alertsByTyp map[alert.Type]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		stepFailed:  make(map[string]int),
		decisions:   make(map[string]int),
		alertsByTyp: make(map[alert.Type]int),
	}
}

func (m *countingMetrics) EventRecorded(string, float64, int64, bool) {
	m.mu.Lock()
	m.recorded++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordFailed() {
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
}

func (m *countingMetrics) Decision(allowed bool, reason string) {
	m.mu.Lock()
	if allowed {
		m.decisions["allowed"]++
	} else {
		m.decisions[reason]++
	}
	m.mu.Unlock()
}

func (m *countingMetrics) AlertRaised(t alert.Type) {
	m.mu.Lock()
	m.alertsByTyp[t]++
	m.mu.Unlock()
}

func (m *countingMetrics) JobDropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

func (m *countingMetrics) StepFailed(step string) {
	m.mu.Lock()
	m.stepFailed[step]++
	m.mu.Unlock()
}

func (m *countingMetrics) StepDuration(string, time.Duration) {}
func (m *countingMetrics) QueueDepth(int)                     {}

func (m *countingMetrics) snapshot() countingMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return countingMetrics{recorded: m.recorded, failed: m.failed, dropped: m.dropped}
}

// harness wires the full metering pipeline on memory stores.
type harness struct {
	clock      *clock.Fake
	events     *memory.EventStore
	aggregates *memory.AggregateStore
	alertStore *memory.AlertStore
	metrics    *countingMetrics

	budget     app.BudgetSource
	recorder   *app.Recorder
	dispatcher *app.Dispatcher
	aggregator *app.Aggregator
	limits     *app.LimitService
	alerts     *app.AlertService
	reports    *app.ReportService
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	budget     budget.Config
	pricing    cost.Pricing
	cooldown   time.Duration
	aggregates ports.AggregateStore
	alerts     ports.AlertStore
}

func withBudget(cfg budget.Config) harnessOption {
	return func(h *harnessConfig) { h.budget = cfg }
}

func withCooldown(d time.Duration) harnessOption {
	return func(h *harnessConfig) { h.cooldown = d }
}

func withAggregates(s ports.AggregateStore) harnessOption {
	return func(h *harnessConfig) { h.aggregates = s }
}

func withAlertStore(s ports.AlertStore) harnessOption {
	return func(h *harnessConfig) { h.alerts = s }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	hc := harnessConfig{
		budget:   budget.Defaults(),
		pricing:  centPricing,
		cooldown: app.DefaultAlertCooldown,
	}
	for _, o := range opts {
		o(&hc)
	}

	h := &harness{
		clock:      clock.NewFake(baseTime),
		events:     memory.NewEventStore(),
		aggregates: memory.NewAggregateStore(memory.AggregateStoreConfig{}),
		alertStore: memory.NewAlertStore(),
		metrics:    newCountingMetrics(),
		budget:     app.StaticBudget(hc.budget),
	}
	t.Cleanup(func() { h.aggregates.Close() })

	var aggStore ports.AggregateStore = h.aggregates
	if hc.aggregates != nil {
		aggStore = hc.aggregates
	}

	var alertStore ports.AlertStore = h.alertStore
	if hc.alerts != nil {
		alertStore = hc.alerts
	}

	logger := zerolog.Nop()
	h.aggregator = app.NewAggregator(aggStore, h.budget, h.clock, time.UTC, logger)
	h.limits = app.NewLimitService(aggStore, h.budget, h.clock, time.UTC, h.metrics, logger)
	h.alerts = app.NewAlertService(alertStore, aggStore, h.budget, h.clock, idgen.NewSequential("alert_"), time.UTC, hc.cooldown, h.metrics, logger)
	h.reports = app.NewReportService(h.events, time.UTC, logger)

	steps := append(h.aggregator.Steps(), h.alerts.Step())
	h.dispatcher = app.NewDispatcher(app.DispatcherConfig{
		Workers:        4,
		QueueSize:      4096,
		JobTimeout:     time.Second,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  2 * time.Millisecond,
	}, steps, h.metrics, logger)
	t.Cleanup(func() { _ = h.dispatcher.Close(context.Background()) })

	h.recorder = app.NewRecorder(h.events, h.dispatcher, h.clock, idgen.NewSequential("evt_"), hc.pricing, h.metrics, logger)
	return h
}

// record meters one call with inputTokens cents of cost.
func (h *harness) record(t *testing.T, userID string, inputTokens int64) string {
	t.Helper()
	return h.recorder.Record(context.Background(), usage.Input{
		UserID:      userID,
		Endpoint:    "habit_suggestions",
		InputTokens: inputTokens,
		DurationMs:  120,
		Success:     true,
	})
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.dispatcher.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

// flakyAggregates fails reads while fail is set.
type flakyAggregates struct {
	ports.AggregateStore
	mu   sync.Mutex
	fail error
}

func (f *flakyAggregates) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func (f *flakyAggregates) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func (f *flakyAggregates) GetUser(ctx context.Context, userID string) (usage.UserSummary, error) {
	if err := f.err(); err != nil {
		return usage.UserSummary{}, err
	}
	return f.AggregateStore.GetUser(ctx, userID)
}

func (f *flakyAggregates) GetSystem(ctx context.Context, day string) (usage.SystemStats, error) {
	if err := f.err(); err != nil {
		return usage.SystemStats{}, err
	}
	return f.AggregateStore.GetSystem(ctx, day)
}

// flakyAlerts fails the nth Append once.
type flakyAlerts struct {
	*memory.AlertStore
	mu     sync.Mutex
	calls  int
	failAt int
}

func (f *flakyAlerts) Append(ctx context.Context, a alert.Alert) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls == f.failAt
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.AlertStore.Append(ctx, a)
}
