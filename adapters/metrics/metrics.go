// Package metrics provides Prometheus metrics collection for usagemeter.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/artpar/usagemeter/domain/alert"
)

const namespace = "usagemeter"

// Collector holds all Prometheus metrics for usagemeter.
// It implements ports.Metrics.
type Collector struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Metering metrics
	EventsRecorded *prometheus.CounterVec
	RecordFailures prometheus.Counter
	CostTotal      *prometheus.CounterVec
	TokensTotal    *prometheus.CounterVec

	// Admission metrics
	Decisions *prometheus.CounterVec

	// Alert metrics
	Alerts *prometheus.CounterVec

	// Dispatch metrics
	QueueDepthGauge prometheus.Gauge
	DroppedJobs     prometheus.Counter
	StepFailures    *prometheus.CounterVec
	StepSeconds     *prometheus.HistogramVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),

		EventsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_recorded_total",
				Help:      "Total usage events persisted",
			},
			[]string{"endpoint", "success"},
		),
		RecordFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "record_failures_total",
				Help:      "Usage events that could not be persisted",
			},
		),
		CostTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cost_usd_total",
				Help:      "Metered cost in USD",
			},
			[]string{"endpoint"},
		),
		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Metered tokens",
			},
			[]string{"endpoint"},
		),

		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admission_decisions_total",
				Help:      "Admission decisions by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),

		Alerts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Alerts raised by type",
			},
			[]string{"type"},
		),

		QueueDepthGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dispatch_queue_depth",
				Help:      "Jobs waiting in the aggregate dispatch queue",
			},
		),
		DroppedJobs: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_dropped_total",
				Help:      "Jobs dropped because the dispatch queue was full",
			},
		),
		StepFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_step_failures_total",
				Help:      "Background steps that failed after retries",
			},
			[]string{"step"},
		),
		StepSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_step_duration_seconds",
				Help:      "Background step duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
			},
			[]string{"step"},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// EventRecorded counts a persisted event.
func (c *Collector) EventRecorded(endpoint string, cost float64, tokens int64, success bool) {
	endpoint = NormalizeEndpoint(endpoint)
	c.EventsRecorded.WithLabelValues(endpoint, strconv.FormatBool(success)).Inc()
	c.CostTotal.WithLabelValues(endpoint).Add(cost)
	c.TokensTotal.WithLabelValues(endpoint).Add(float64(tokens))
}

// RecordFailed counts an event that could not be persisted.
func (c *Collector) RecordFailed() {
	c.RecordFailures.Inc()
}

// Decision counts an admission decision.
func (c *Collector) Decision(allowed bool, reason string) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	c.Decisions.WithLabelValues(outcome, reasonLabel(reason)).Inc()
}

// AlertRaised counts an alert.
func (c *Collector) AlertRaised(t alert.Type) {
	c.Alerts.WithLabelValues(string(t)).Inc()
}

// JobDropped counts a job rejected by a full queue.
func (c *Collector) JobDropped() {
	c.DroppedJobs.Inc()
}

// StepFailed counts a background step that exhausted its retries.
func (c *Collector) StepFailed(step string) {
	c.StepFailures.WithLabelValues(step).Inc()
}

// StepDuration observes how long a background step took.
func (c *Collector) StepDuration(step string, d time.Duration) {
	c.StepSeconds.WithLabelValues(step).Observe(d.Seconds())
}

// QueueDepth sets the current queue depth.
func (c *Collector) QueueDepth(n int) {
	c.QueueDepthGauge.Set(float64(n))
}

// NormalizeEndpoint bounds label cardinality for caller-supplied endpoint names.
func NormalizeEndpoint(endpoint string) string {
	if len(endpoint) > 50 {
		return endpoint[:50] + "..."
	}
	return endpoint
}

// reasonLabel drops the free-form suffix of fail-open reasons.
func reasonLabel(reason string) string {
	for i := 0; i < len(reason); i++ {
		if reason[i] == ':' {
			return reason[:i]
		}
	}
	if reason == "" {
		return "none"
	}
	return reason
}
