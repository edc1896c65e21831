// Package app contains the Dispatcher for background aggregate work.
package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/artpar/usagemeter/domain/usage"
	"github.com/artpar/usagemeter/ports"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/rs/zerolog"
)

// Step names used in logs and metrics.
const (
	StepUserAggregate   = "user_aggregate"
	StepSystemAggregate = "system_aggregate"
	StepAlerts          = "alerts"
)

// Step is one independent unit of work run for each event.
type Step struct {
	Name string
	Run  func(ctx context.Context, e usage.Event) error
}

// DispatcherConfig configures the worker pool.
type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	JobTimeout     time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// DefaultDispatcherConfig returns the production defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:        4,
		QueueSize:      1024,
		JobTimeout:     5 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 50 * time.Millisecond,
		RetryMaxDelay:  time.Second,
	}
}

func (c DispatcherConfig) normalize() DispatcherConfig {
	d := DefaultDispatcherConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		c.RetryMaxDelay = c.RetryBaseDelay
	}
	return c
}

// ErrDispatcherClosed is returned by Close when called twice.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher runs Steps for submitted jobs on a bounded pool of workers.
// Workers start on construction. Each job gets its own timeout derived from
// a background context, so callers' cancellations never abort aggregate work.
type Dispatcher struct {
	cfg     DispatcherConfig
	steps   []Step
	retry   failsafe.Executor[any]
	metrics ports.Metrics
	logger  zerolog.Logger

	queue   chan ports.Job
	pending atomic.Int64

	mu     sync.RWMutex
	closed bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher and starts its workers.
func NewDispatcher(cfg DispatcherConfig, steps []Step, metrics ports.Metrics, logger zerolog.Logger) *Dispatcher {
	cfg = cfg.normalize()

	policy := retrypolicy.NewBuilder[any]().
		WithBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}).
		Build()

	baseCtx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:     cfg,
		steps:   steps,
		retry:   failsafe.With[any](policy),
		metrics: orNop(metrics),
		logger:  logger,
		queue:   make(chan ports.Job, cfg.QueueSize),
		baseCtx: baseCtx,
		cancel:  cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Submit enqueues j without blocking. It returns false, logging the event as
// dead-lettered, when the queue is full or the dispatcher is closed.
func (d *Dispatcher) Submit(j ports.Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(j, "dispatcher closed")
		return false
	}

	d.pending.Add(1)
	select {
	case d.queue <- j:
		d.metrics.QueueDepth(len(d.queue))
		return true
	default:
		d.pending.Add(-1)
		d.drop(j, "queue full")
		return false
	}
}

func (d *Dispatcher) drop(j ports.Job, reason string) {
	d.metrics.JobDropped()
	d.logger.Error().
		Str("event_id", j.Event.ID).
		Str("user_id", j.Event.UserID).
		Str("reason", reason).
		Msg("aggregate job dropped")
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.process(j)
		d.pending.Add(-1)
		d.metrics.QueueDepth(len(d.queue))
	}
}

// process runs every step; a failing step does not stop the others.
func (d *Dispatcher) process(j ports.Job) {
	ctx, cancel := context.WithTimeout(d.baseCtx, d.cfg.JobTimeout)
	defer cancel()

	for _, s := range d.steps {
		start := time.Now()
		err := d.retry.WithContext(ctx).Run(func() error {
			return s.Run(ctx, j.Event)
		})
		d.metrics.StepDuration(s.Name, time.Since(start))
		if err != nil {
			d.metrics.StepFailed(s.Name)
			d.logger.Error().Err(err).
				Str("step", s.Name).
				Str("event_id", j.Event.ID).
				Str("user_id", j.Event.UserID).
				Msg("aggregate step failed")
		}
	}
}

// Pending returns the number of queued and running jobs.
func (d *Dispatcher) Pending() int64 {
	return d.pending.Load()
}

// Drain waits until every submitted job has finished.
func (d *Dispatcher) Drain(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for d.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops intake and waits for queued jobs to finish.
// When ctx expires first, in-flight jobs are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info().Msg("dispatcher drained")
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// Ensure interface compliance.
var _ ports.JobSubmitter = (*Dispatcher)(nil)
