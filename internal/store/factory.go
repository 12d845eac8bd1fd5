package store

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// BadgerConfig locates the per-session BadgerDB directories.
type BadgerConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Config selects and configures the message store backend.
type Config struct {
	Backend      string       `mapstructure:"backend" yaml:"backend" validate:"oneof=memory badger redis"`
	MaxEntries   int          `mapstructure:"max_entries" yaml:"max_entries" validate:"gte=0"`
	SpillDir     string       `mapstructure:"spill_dir" yaml:"spill_dir"`
	ResetOnStart bool         `mapstructure:"reset_on_start" yaml:"reset_on_start"`
	Badger       BadgerConfig `mapstructure:"badger" yaml:"badger"`
	Redis        RedisConfig  `mapstructure:"redis" yaml:"redis"`
}

// DefaultConfig returns an unbounded in-memory configuration.
func DefaultConfig() Config {
	return Config{
		Backend:      BackendMemory,
		ResetOnStart: true,
		Badger:       BadgerConfig{Dir: "data/store"},
		Redis:        DefaultRedisConfig(),
	}
}

// Opener builds a fresh store for the named session.
type Opener func(ctx context.Context, session string) (Store, error)

// NewOpener binds cfg and logger into an Opener.
func NewOpener(cfg Config, logger *zap.Logger) Opener {
	return func(ctx context.Context, session string) (Store, error) {
		return Open(ctx, cfg, session, logger)
	}
}

// Open builds the store for one session according to cfg.
func Open(ctx context.Context, cfg Config, session string, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("session", session))

	switch cfg.Backend {
	case "", BackendMemory:
		opts := []MemoryOption{WithMaxEntries(cfg.MaxEntries)}
		if cfg.MaxEntries > 0 && cfg.SpillDir != "" {
			spill, err := NewBadgerStore(filepath.Join(cfg.SpillDir, session), true, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to open spill store: %w", err)
			}
			opts = append(opts, WithOverflow(spill))
		}
		return NewMemoryStore(opts...), nil
	case BackendBadger:
		return NewBadgerStore(filepath.Join(cfg.Badger.Dir, session), cfg.ResetOnStart, logger)
	case BackendRedis:
		return NewRedisStore(ctx, cfg.Redis, session, cfg.ResetOnStart, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
