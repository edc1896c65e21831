// Package bootstrap wires all dependencies and starts the application.
// Configuration comes from a YAML file when one exists, otherwise from
// USAGEMETER_* environment variables.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/artpar/usagemeter/adapters/clock"
	"github.com/artpar/usagemeter/adapters/hasher"
	apihttp "github.com/artpar/usagemeter/adapters/http"
	"github.com/artpar/usagemeter/adapters/idgen"
	"github.com/artpar/usagemeter/adapters/memory"
	"github.com/artpar/usagemeter/adapters/metrics"
	"github.com/artpar/usagemeter/adapters/redis"
	"github.com/artpar/usagemeter/adapters/sqlite"
	"github.com/artpar/usagemeter/app"
	"github.com/artpar/usagemeter/config"
	"github.com/artpar/usagemeter/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Options controls application initialization.
type Options struct {
	// ConfigPath is loaded when the file exists; otherwise the environment is used.
	ConfigPath string

	// Watch enables fsnotify and SIGHUP reloads of ConfigPath.
	Watch bool

	// Config is used as-is when set; ConfigPath is then ignored.
	Config *config.Config

	// Clock defaults to the wall clock.
	Clock ports.Clock

	// Version is reported by /version.
	Version string

	// LogOutput defaults to stdout.
	LogOutput io.Writer
}

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	DB         *sqlite.DB
	Redis      goredis.UniversalClient
	HTTPServer *http.Server
	Metrics    *metrics.Collector
	Registry   *prometheus.Registry

	// Services
	Recorder   *app.Recorder
	Aggregator *app.Aggregator
	Limits     *app.LimitService
	Alerts     *app.AlertService
	Reports    *app.ReportService
	Budget     *app.BudgetProvider
	Dispatcher *app.Dispatcher

	holder  *config.Holder
	clock   ports.Clock
	health  map[string]apihttp.HealthChecker
	closers []func() error

	shutdownOnce sync.Once
	shutdownErr  error
}

// stores groups the storage ports chosen by configuration.
type stores struct {
	events     ports.EventStore
	aggregates ports.AggregateStore
	alerts     ports.AlertStore
	settings   ports.SettingsStore
}

// New creates and initializes the application.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.LoadWithFallback(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	logger := NewLogger(cfg.Logging, out)

	a := &App{
		Logger: logger,
		Config: cfg,
		clock:  opts.Clock,
		health: make(map[string]apihttp.HealthChecker),
	}
	if a.clock == nil {
		a.clock = clock.Real{}
	}

	if opts.Config == nil && opts.Watch && fileExists(opts.ConfigPath) {
		holder, err := config.NewHolder(opts.ConfigPath, logger)
		if err != nil {
			return nil, err
		}
		a.holder = holder
		a.Config = holder.Get()
		cfg = a.Config
	}

	logger.Info().
		Str("database", cfg.Database.Driver).
		Str("aggregates", cfg.Aggregates.Backend).
		Str("timezone", cfg.Timezone).
		Msg("initializing usagemeter")

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.NewWithRegistry(a.Registry)

	ctx := context.Background()
	st, err := a.initStores(ctx)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("init stores: %w", err)
	}

	a.initServices(st)
	a.initHTTPServer(opts.Version)

	if a.holder != nil {
		a.watchConfig()
	}

	return a, nil
}

func (a *App) initStores(ctx context.Context) (stores, error) {
	cfg := a.Config
	var st stores

	switch cfg.Database.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return st, err
		}
		a.closers = append(a.closers, db.Close)

		if err := db.Migrate(ctx); err != nil {
			return st, fmt.Errorf("migrate: %w", err)
		}
		a.DB = db
		a.health["database"] = apihttp.HealthCheckFunc(db.PingContext)

		st.events = sqlite.NewEventStore(db)
		st.alerts = sqlite.NewAlertStore(db)
		st.settings = sqlite.NewSettingsStore(db)
		a.Logger.Info().Str("dsn", cfg.Database.DSN).Msg("database initialized")

	default:
		st.events = memory.NewEventStore()
		st.alerts = memory.NewAlertStore()
		st.settings = memory.NewSettingsStore()
		a.Logger.Warn().Msg("using in-memory storage, data is lost on restart")
	}

	switch cfg.Aggregates.Backend {
	case "sqlite":
		st.aggregates = sqlite.NewAggregateStore(a.DB, cfg.Aggregates.MaxRetries)

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Aggregates.Redis.Addr,
			Password: cfg.Aggregates.Redis.Password,
			DB:       cfg.Aggregates.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		a.Redis = client

		store := redis.NewAggregateStore(client, redis.Config{
			Prefix:     cfg.Aggregates.Redis.Prefix,
			Retention:  cfg.Aggregates.Retention,
			MaxRetries: cfg.Aggregates.MaxRetries,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			return st, fmt.Errorf("connect redis %s: %w", cfg.Aggregates.Redis.Addr, err)
		}
		a.health["redis"] = apihttp.HealthCheckFunc(store.Ping)
		st.aggregates = store
		a.Logger.Info().Str("addr", cfg.Aggregates.Redis.Addr).Msg("redis aggregate store connected")

	default:
		store := memory.NewAggregateStore(memory.AggregateStoreConfig{
			NumShards: cfg.Aggregates.Shards,
			Retention: cfg.Aggregates.Retention,
		})
		a.closers = append(a.closers, store.Close)
		st.aggregates = store
	}

	return st, nil
}

func (a *App) initServices(st stores) {
	cfg := a.Config
	loc := cfg.Location()
	logger := a.Logger

	a.Budget = app.NewBudgetProvider(st.settings, cfg.Budget, cfg.Settings.CacheTTL, a.clock,
		logger.With().Str("component", "budget").Logger())
	a.Aggregator = app.NewAggregator(st.aggregates, a.Budget, a.clock, loc,
		logger.With().Str("component", "aggregator").Logger())
	a.Limits = app.NewLimitService(st.aggregates, a.Budget, a.clock, loc, a.Metrics,
		logger.With().Str("component", "limits").Logger())
	a.Alerts = app.NewAlertService(st.alerts, st.aggregates, a.Budget, a.clock, idgen.UUID{}, loc,
		cfg.Alerts.CooldownOrDefault(), a.Metrics, logger.With().Str("component", "alerts").Logger())
	a.Reports = app.NewReportService(st.events, loc,
		logger.With().Str("component", "reports").Logger())

	steps := append(a.Aggregator.Steps(), a.Alerts.Step())
	a.Dispatcher = app.NewDispatcher(app.DispatcherConfig{
		Workers:        cfg.Dispatch.Workers,
		QueueSize:      cfg.Dispatch.QueueSize,
		JobTimeout:     cfg.Dispatch.JobTimeout,
		MaxRetries:     cfg.Dispatch.MaxRetries,
		RetryBaseDelay: cfg.Dispatch.RetryBaseDelay,
		RetryMaxDelay:  cfg.Dispatch.RetryMaxDelay,
	}, steps, a.Metrics, logger.With().Str("component", "dispatcher").Logger())

	a.Recorder = app.NewRecorder(st.events, a.Dispatcher, a.clock, idgen.UUID{}, cfg.Pricing, a.Metrics,
		logger.With().Str("component", "recorder").Logger())
}

func (a *App) initHTTPServer(version string) {
	cfg := a.Config

	if cfg.Admin.TokenHash == "" {
		a.Logger.Warn().Msg("admin.token_hash not set, write endpoints are disabled")
	}

	api := apihttp.NewAPIHandler(apihttp.Deps{
		Recorder:   a.Recorder,
		Aggregator: a.Aggregator,
		Limits:     a.Limits,
		Reports:    a.Reports,
		Alerts:     a.Alerts,
		Budget:     a.Budget,
		Clock:      a.clock,
		Admin:      apihttp.NewAdminAuth(hasher.NewBcrypt(0), cfg.Admin.TokenHash, a.Logger),
		Logger:     a.Logger.With().Str("component", "http").Logger(),
	})

	routerCfg := apihttp.RouterConfig{Version: version}
	if cfg.Metrics.Enabled {
		routerCfg.Metrics = a.Metrics
		routerCfg.MetricsHandler = promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
		routerCfg.MetricsPath = cfg.Metrics.Path
	}

	router := apihttp.NewRouter(api, apihttp.NewHealthHandler(a.health), a.Logger, routerCfg)

	a.HTTPServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// watchConfig applies reloadable fields whenever the config file changes.
func (a *App) watchConfig() {
	a.holder.OnChange(a.applyConfig)
	a.holder.OnReloadError(func(error) {
		a.Metrics.ConfigReloadErrors.Inc()
	})

	if err := a.holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch unavailable, SIGHUP only")
	}
	a.holder.WatchSignals()
}

// applyConfig pushes the reloadable fields of cfg into the running services.
func (a *App) applyConfig(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	a.Recorder.SetPricing(cfg.Pricing)
	a.Budget.SetFallback(cfg.Budget)
	a.Alerts.SetCooldown(cfg.Alerts.CooldownOrDefault())

	a.Metrics.ConfigReloads.Inc()
	a.Metrics.ConfigLastReload.SetToCurrentTime()
}

// Clock returns the time source shared by the services.
func (a *App) Clock() ports.Clock {
	return a.clock
}

// Run serves HTTP until ctx is cancelled or the server fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown gracefully stops the application: HTTP first, then the queued
// aggregate work, then the stores. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		if a.holder != nil {
			a.holder.Stop()
		}

		if a.HTTPServer != nil {
			if err := a.HTTPServer.Shutdown(ctx); err != nil {
				a.Logger.Error().Err(err).Msg("http server shutdown error")
			}
		}

		if a.Dispatcher != nil {
			if err := a.Dispatcher.Close(ctx); err != nil {
				a.Logger.Error().Err(err).Int64("pending", a.Dispatcher.Pending()).Msg("dispatcher did not drain")
				a.shutdownErr = err
			}
		}

		a.closeAll()
		a.Logger.Info().Msg("shutdown complete")
	})
	return a.shutdownErr
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Error().Err(err).Msg("close error")
		}
	}
	a.closers = nil
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
