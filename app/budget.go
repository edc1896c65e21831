// Package app contains the BudgetProvider for reading the externally managed budget.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/usagemeter/domain/budget"
	"github.com/artpar/usagemeter/domain/settings"
	"github.com/artpar/usagemeter/ports"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// BudgetSource yields the budget config in force.
type BudgetSource interface {
	Current(ctx context.Context) budget.Config
}

// StaticBudget is a fixed BudgetSource.
type StaticBudget budget.Config

// Current returns the fixed config.
func (s StaticBudget) Current(context.Context) budget.Config {
	return budget.Config(s)
}

// DefaultBudgetTTL is how long a loaded budget is served from cache.
const DefaultBudgetTTL = 30 * time.Second

// BudgetProvider reads budget.* keys from the settings store.
// Missing or invalid keys fall back to the configured section, then to
// budget.Defaults. Concurrent reloads collapse into one store read.
type BudgetProvider struct {
	store  ports.SettingsStore
	clock  ports.Clock
	logger zerolog.Logger
	ttl    time.Duration
	group  singleflight.Group

	mu       sync.RWMutex
	fallback budget.Config
	cache    budget.Config
	loadedAt time.Time
	loaded   bool
}

// NewBudgetProvider creates a provider. A zero ttl uses DefaultBudgetTTL.
func NewBudgetProvider(store ports.SettingsStore, fallback budget.Config, ttl time.Duration, clock ports.Clock, logger zerolog.Logger) *BudgetProvider {
	if ttl <= 0 {
		ttl = DefaultBudgetTTL
	}
	fallback = fallback.WithDefaults(budget.Defaults())
	return &BudgetProvider{
		store:    store,
		clock:    clock,
		logger:   logger,
		ttl:      ttl,
		fallback: fallback,
		cache:    fallback,
	}
}

// Current returns the cached config, reloading it when stale.
// Store failures are logged and the last known config is served for another
// TTL before the store is tried again.
func (p *BudgetProvider) Current(ctx context.Context) budget.Config {
	p.mu.RLock()
	cfg, fresh := p.cache, p.loaded && p.clock.Now().Sub(p.loadedAt) < p.ttl
	p.mu.RUnlock()
	if fresh {
		return cfg
	}

	loaded, err := p.Load(ctx)
	if err != nil {
		p.mu.Lock()
		cfg = p.cache
		p.loadedAt = p.clock.Now()
		p.loaded = true
		p.mu.Unlock()

		p.logger.Warn().Err(err).Dur("retry_in", p.ttl).Msg("budget reload failed, serving last known config")
		return cfg
	}
	return loaded
}

// Load reads the settings store now.
func (p *BudgetProvider) Load(ctx context.Context) (budget.Config, error) {
	v, err, _ := p.group.Do("budget", func() (any, error) {
		stored, err := p.store.GetByPrefix(ctx, settings.PrefixBudget)
		if err != nil {
			return budget.Config{}, err
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		cfg := budget.FromSettings(stored, p.fallback)
		if err := cfg.Validate(); err != nil {
			p.logger.Warn().Err(err).Msg("stored budget invalid, using configured budget")
			cfg = p.fallback
		}
		p.cache = cfg
		p.loadedAt = p.clock.Now()
		p.loaded = true

		p.logger.Debug().Int("keys", len(stored)).Msg("budget loaded from settings")
		return cfg, nil
	})
	if err != nil {
		return budget.Config{}, err
	}
	return v.(budget.Config), nil
}

// Update validates cfg and writes every budget key.
func (p *BudgetProvider) Update(ctx context.Context, cfg budget.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := p.store.SetBatch(ctx, cfg.ToSettings()); err != nil {
		return err
	}

	p.mu.Lock()
	p.cache = cfg
	p.loadedAt = p.clock.Now()
	p.loaded = true
	p.mu.Unlock()

	p.logger.Info().
		Float64("daily_budget", cfg.DailyBudget).
		Int64("user_daily_limit", cfg.UserDailyLimit).
		Msg("budget updated")
	return nil
}

// SetFallback replaces the configured section (hot reload) and invalidates the cache.
func (p *BudgetProvider) SetFallback(cfg budget.Config) {
	p.mu.Lock()
	p.fallback = cfg.WithDefaults(budget.Defaults())
	p.loaded = false
	p.mu.Unlock()
}

// Invalidate forces the next Current to reload.
func (p *BudgetProvider) Invalidate() {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()
}
