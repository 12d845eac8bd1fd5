package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ReloadCallback is told about every successfully validated reload.
// restartNeeded is true when keys other than logging.level changed.
type ReloadCallback func(old, updated *Config, restartNeeded bool)

// Manager loads the configuration and hot-reloads it on file changes.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	path      string
	validator *validator.Validate
	logger    *zap.Logger

	watcher   *fsnotify.Watcher
	callbacks []ReloadCallback
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewManager creates a manager. logger may be nil until the process logger
// exists; SetLogger replaces it.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		validator: validator.New(),
		logger:    logger.Named("config"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetLogger replaces the manager's logger.
func (m *Manager) SetLogger(logger *zap.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger.Named("config")
}

// LoadDotEnv loads .env files into the environment when they exist.
// Variables already set are left alone.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads, validates and keeps the configuration at path.
func (m *Manager) Load(path string) (*Config, error) {
	cfg, err := m.read(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.config = cfg
	m.path = path
	m.mu.Unlock()

	m.logger.Info("Configuration loaded",
		zap.String("path", path),
		zap.Strings("settings", cfg.Settings),
		zap.String("store", cfg.Store.Backend))
	return cfg, nil
}

// Load is a one-shot load without a watcher.
func Load(path string) (*Config, error) {
	return NewManager(nil).read(path)
}

func (m *Manager) read(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := m.validator.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := validateCustomRules(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Config returns the current configuration.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnReload registers a reload callback.
func (m *Manager) OnReload(cb ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Watch starts watching the loaded file. The directory is watched rather
// than the file so editors that replace the file are noticed too.
func (m *Manager) Watch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path == "" {
		return fmt.Errorf("no configuration loaded")
	}
	if m.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", m.path, err)
	}
	m.watcher = watcher
	m.done = make(chan struct{})

	go m.watchForChanges(watcher, filepath.Clean(m.path))
	m.logger.Info("Watching configuration for changes", zap.String("path", m.path))
	return nil
}

func (m *Manager) watchForChanges(watcher *fsnotify.Watcher, path string) {
	defer close(m.done)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-m.ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("File watcher error", zap.Error(err))

		case <-timer.C:
			if err := m.reload(); err != nil {
				m.logger.Error("Failed to reload configuration", zap.Error(err))
			}
		}
	}
}

func (m *Manager) reload() error {
	m.mu.RLock()
	path, old := m.path, m.config
	m.mu.RUnlock()

	updated, err := m.read(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = updated
	callbacks := append([]ReloadCallback(nil), m.callbacks...)
	m.mu.Unlock()

	restart := !reloadable(old, updated)
	m.logger.Info("Configuration reloaded", zap.Bool("restart_needed", restart))
	for _, cb := range callbacks {
		cb(old, updated, restart)
	}
	return nil
}

// Close stops the watcher.
func (m *Manager) Close() error {
	m.cancel()

	m.mu.Lock()
	watcher, done := m.watcher, m.done
	m.watcher = nil
	m.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-done
	if err != nil {
		return fmt.Errorf("failed to close file watcher: %w", err)
	}
	return nil
}
