// Package config provides configuration loading and hot reload.
package config

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long file events are coalesced before a reload.
const DefaultDebounce = 100 * time.Millisecond

// Holder provides thread-safe access to configuration with hot reload support.
// A reload whose file content matches the last accepted content is a no-op.
type Holder struct {
	mu       sync.RWMutex
	config   *Config
	raw      []byte
	onChange []func(*Config)
	onError  []func(error)

	reloadMu sync.Mutex
	path     string
	debounce time.Duration
	logger   zerolog.Logger

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder creates a new config holder and loads the initial configuration.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("load config: read config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return &Holder{
		config:   cfg,
		raw:      raw,
		path:     absPath,
		debounce: DefaultDebounce,
		logger:   logger.With().Str("path", absPath).Logger(),
		stopCh:   make(chan struct{}),
	}, nil
}

// Get returns the current configuration (thread-safe).
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// SetDebounce changes the file event coalescing window. Call before WatchFile.
func (h *Holder) SetDebounce(d time.Duration) {
	h.debounce = d
}

// OnChange registers a callback to be called when config changes.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// OnReloadError registers a callback for reloads that were rejected.
func (h *Holder) OnReloadError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = append(h.onError, fn)
}

// Reload re-reads the file. An invalid file keeps the old config and is
// reported to the OnReloadError callbacks; unchanged content is skipped.
func (h *Holder) Reload() error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	raw, err := os.ReadFile(h.path)
	if err == nil && bytes.Equal(raw, h.currentRaw()) {
		h.logger.Debug().Msg("config content unchanged")
		return nil
	}
	var next *Config
	if err == nil {
		next, err = Parse(raw)
	}
	if err != nil {
		err = fmt.Errorf("reload config: %w", err)
		h.logger.Error().Err(err).Msg("keeping previous configuration")
		for _, fn := range h.errorListeners() {
			fn(err)
		}
		return err
	}

	h.mu.Lock()
	prev := h.config
	h.config, h.raw = next, raw
	listeners := append([]func(*Config){}, h.onChange...)
	h.mu.Unlock()

	h.logDiff(prev, next)
	for _, fn := range listeners {
		fn(next)
	}
	return nil
}

func (h *Holder) currentRaw() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.raw
}

func (h *Holder) errorListeners() []func(error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]func(error){}, h.onError...)
}

// WatchFile reloads when the config file is written or replaced.
// The parent directory is watched so atomic saves by editors are seen.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	h.watcher = watcher

	go h.watchLoop(watcher)
	h.logger.Info().Dur("debounce", h.debounce).Msg("watching config file")
	return nil
}

func (h *Holder) watchLoop(w *fsnotify.Watcher) {
	name := filepath.Base(h.path)
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(h.debounce, func() { h.reloadFrom("file watch") })

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("file watcher error")

		case <-h.stopCh:
			return
		}
	}
}

// WatchSignals reloads on SIGHUP until Stop.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				h.reloadFrom("SIGHUP")
			case <-h.stopCh:
				return
			}
		}
	}()
}

func (h *Holder) reloadFrom(trigger string) {
	select {
	case <-h.stopCh:
		return
	default:
	}
	h.logger.Info().Str("trigger", trigger).Msg("reloading configuration")
	_ = h.Reload()
}

// Stop ends file and signal watching. It is safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) logDiff(prev, next *Config) {
	var applied, ignored []string
	for _, f := range fieldTable {
		if !f.differs(prev, next) {
			continue
		}
		if f.reloadable {
			applied = append(applied, f.name)
		} else {
			ignored = append(ignored, f.name)
		}
	}
	h.logger.Info().Strs("changed", applied).Msg("configuration reloaded")
	if len(ignored) > 0 {
		h.logger.Warn().Strs("fields", ignored).Msg("changes require a restart")
	}
}

type field struct {
	name       string
	reloadable bool
	differs    func(prev, next *Config) bool
}

var fieldTable = []field{
	{"pricing", true, func(a, b *Config) bool { return a.Pricing != b.Pricing }},
	{"budget", true, func(a, b *Config) bool { return a.Budget != b.Budget }},
	{"alerts.cooldown", true, func(a, b *Config) bool {
		return a.Alerts.CooldownOrDefault() != b.Alerts.CooldownOrDefault()
	}},
	{"logging.level", true, func(a, b *Config) bool { return a.Logging.Level != b.Logging.Level }},
	{"server.host", false, func(a, b *Config) bool { return a.Server.Host != b.Server.Host }},
	{"server.port", false, func(a, b *Config) bool { return a.Server.Port != b.Server.Port }},
	{"database.driver", false, func(a, b *Config) bool { return a.Database.Driver != b.Database.Driver }},
	{"database.dsn", false, func(a, b *Config) bool { return a.Database.DSN != b.Database.DSN }},
	{"aggregates.backend", false, func(a, b *Config) bool { return a.Aggregates.Backend != b.Aggregates.Backend }},
	{"timezone", false, func(a, b *Config) bool { return a.Timezone != b.Timezone }},
}

// Diff lists the names of the fields that differ between prev and next.
func Diff(prev, next *Config) []string {
	var out []string
	for _, f := range fieldTable {
		if f.differs(prev, next) {
			out = append(out, f.name)
		}
	}
	return out
}

// ReloadableFields returns which fields can be changed without restart.
func ReloadableFields() []string {
	return fieldNames(true)
}

// NonReloadableFields returns which fields require a restart.
func NonReloadableFields() []string {
	return fieldNames(false)
}

func fieldNames(reloadable bool) []string {
	var out []string
	for _, f := range fieldTable {
		if f.reloadable == reloadable {
			out = append(out, f.name)
		}
	}
	return out
}
