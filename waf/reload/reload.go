package reload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"rhinoguard/waf/config"
	"rhinoguard/waf/logging"
	"rhinoguard/waf/metrics"
)

// Applier takes a freshly loaded configuration. It must reject configs it
// cannot use and keep running on the old one.
type Applier interface {
	Apply(cfg *config.Config) error
}

type Config struct {
	Path     string        // config file to watch
	Debounce time.Duration // quiet period after the last change before reloading
	Watch    bool          // follow file changes; Reload still works without it
}

// Manager reloads the config file on demand and, when watching, whenever
// the file changes
type Manager struct {
	config Config
	target Applier
	load   func(path string) (*config.Config, error)
	log    zerolog.Logger

	mu         sync.Mutex
	lastReload time.Time
	lastErr    error
	reloads    int
}

func NewManager(cfg Config, target Applier) *Manager {
	if cfg.Debounce == 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	return &Manager{
		config: cfg,
		target: target,
		load:   config.Load,
		log:    logging.With("reload"),
	}
}

func (m *Manager) String() string {
	return "config-watcher"
}

// Reload loads and applies the configuration now
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := m.load(m.config.Path)
	if err == nil {
		err = m.target.Apply(cfg)
	}
	m.lastErr = err
	if err != nil {
		metrics.ConfigReloads.WithLabelValues("failure").Inc()
		m.log.Error().Err(err).Str("path", m.config.Path).Msg("Config reload rejected, keeping current settings")
		return fmt.Errorf("reload %s: %w", m.config.Path, err)
	}

	m.lastReload = time.Now()
	m.reloads++
	metrics.ConfigReloads.WithLabelValues("success").Inc()
	m.log.Info().Str("path", m.config.Path).Msg("Configuration reloaded")
	return nil
}

// Serve implements suture.Service and watches the config file's directory,
// which also catches editors that replace the file by rename.
func (m *Manager) Serve(ctx context.Context) error {
	if !m.config.Watch || m.config.Path == "" {
		return suture.ErrDoNotRestart
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(m.config.Path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", m.config.Path, err)
	}
	m.log.Info().Str("path", m.config.Path).Msg("Watching configuration file for changes")

	target := filepath.Base(m.config.Path)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(m.config.Debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Warn().Err(err).Msg("File watcher error")

		case <-timer.C:
			_ = m.Reload()
		}
	}
}

type Status struct {
	Path       string    `json:"path"`
	Watching   bool      `json:"watching"`
	Reloads    int       `json:"reloads"`
	LastReload time.Time `json:"last_reload,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		Path:       m.config.Path,
		Watching:   m.config.Watch && m.config.Path != "",
		Reloads:    m.reloads,
		LastReload: m.lastReload,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}
