// Package config loads the drop copy process configuration from YAML, .env
// and DROPCOPY_ environment variables, and watches the file for changes.
package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/viper"

	"github.com/Aidin1998/dropcopy/internal/handler"
	"github.com/Aidin1998/dropcopy/internal/session"
	"github.com/Aidin1998/dropcopy/internal/store"
	"github.com/Aidin1998/dropcopy/internal/transcript"
	"github.com/Aidin1998/dropcopy/pkg/logger"
	"github.com/Aidin1998/dropcopy/pkg/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. DROPCOPY_STORE_BACKEND.
const EnvPrefix = "DROPCOPY"

// Config is the whole process configuration.
type Config struct {
	Settings   []string              `mapstructure:"settings" yaml:"settings" validate:"required,min=1,dive,required"`
	Logging    logger.Config         `mapstructure:"logging" yaml:"logging"`
	Transcript transcript.Config     `mapstructure:"transcript" yaml:"transcript"`
	Store      store.Config          `mapstructure:"store" yaml:"store"`
	Resend     ResendConfig          `mapstructure:"resend" yaml:"resend"`
	Handler    HandlerConfig         `mapstructure:"handler" yaml:"handler"`
	Kafka      handler.KafkaConfig   `mapstructure:"kafka" yaml:"kafka"`
	Archive    handler.ArchiveConfig `mapstructure:"archive" yaml:"archive"`
	Admin      AdminConfig           `mapstructure:"admin" yaml:"admin"`
	Telemetry  telemetry.Config      `mapstructure:"telemetry" yaml:"telemetry"`
}

// ResendConfig tunes resend fulfilment.
type ResendConfig struct {
	// GapFill answers missing sequence numbers with SequenceReset-GapFill
	// instead of skipping them.
	GapFill bool `mapstructure:"gap_fill" yaml:"gap_fill"`
}

// HandlerConfig selects the built-in user handlers.
type HandlerConfig struct {
	LogMessages bool `mapstructure:"log_messages" yaml:"log_messages"`
}

// AdminConfig configures the HTTP control surface.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr" validate:"required_if=Enabled true"`
}

// setDefaults registers every key with viper so env overrides apply even
// when the file omits a section.
func setDefaults(v *viper.Viper) {
	tr := transcript.DefaultConfig()
	st := store.DefaultConfig()
	kafka := handler.DefaultKafkaConfig()
	archive := handler.DefaultArchiveConfig()

	v.SetDefault("settings", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("transcript.enabled", tr.Enabled)
	v.SetDefault("transcript.raw_path", tr.RawPath)
	v.SetDefault("transcript.human_path", tr.HumanPath)

	v.SetDefault("store.backend", st.Backend)
	v.SetDefault("store.max_entries", st.MaxEntries)
	v.SetDefault("store.spill_dir", st.SpillDir)
	v.SetDefault("store.reset_on_start", st.ResetOnStart)
	v.SetDefault("store.badger.dir", st.Badger.Dir)
	v.SetDefault("store.redis.addr", st.Redis.Addr)
	v.SetDefault("store.redis.password", st.Redis.Password)
	v.SetDefault("store.redis.db", st.Redis.DB)
	v.SetDefault("store.redis.key_prefix", st.Redis.KeyPrefix)
	v.SetDefault("store.redis.op_timeout", st.Redis.OpTimeout)
	v.SetDefault("store.redis.pool_size", st.Redis.PoolSize)
	v.SetDefault("store.redis.dial_timeout", st.Redis.DialTimeout)

	v.SetDefault("resend.gap_fill", false)
	v.SetDefault("handler.log_messages", true)

	v.SetDefault("kafka.enabled", kafka.Enabled)
	v.SetDefault("kafka.brokers", kafka.Brokers)
	v.SetDefault("kafka.topic", kafka.Topic)
	v.SetDefault("kafka.write_timeout", kafka.WriteTimeout)

	v.SetDefault("archive.enabled", archive.Enabled)
	v.SetDefault("archive.driver", archive.Driver)
	v.SetDefault("archive.dsn", archive.DSN)
	v.SetDefault("archive.auto_migrate", archive.AutoMigrate)
	v.SetDefault("archive.max_open_conns", archive.MaxOpenConns)
	v.SetDefault("archive.max_idle_conns", archive.MaxIdleConns)

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.addr", ":8089")

	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.metrics", false)
}

// validateCustomRules checks what struct tags cannot express.
func validateCustomRules(cfg *Config) error {
	seen := make(map[string]string, len(cfg.Settings))
	for _, path := range cfg.Settings {
		name := session.SessionName(path)
		if prev, dup := seen[name]; dup {
			return fmt.Errorf("settings %s and %s both map to session %q", prev, path, name)
		}
		seen[name] = path
	}

	switch cfg.Store.Backend {
	case store.BackendBadger:
		if cfg.Store.Badger.Dir == "" {
			return fmt.Errorf("store.badger.dir is required for the badger backend")
		}
	case store.BackendRedis:
		if cfg.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis backend")
		}
		if cfg.Store.Redis.OpTimeout <= 0 {
			return fmt.Errorf("store.redis.op_timeout must be positive")
		}
	}
	if cfg.Store.SpillDir != "" && cfg.Store.MaxEntries == 0 {
		return fmt.Errorf("store.spill_dir needs store.max_entries to be set")
	}

	if cfg.Kafka.Enabled && cfg.Kafka.WriteTimeout <= 0 {
		return fmt.Errorf("kafka.write_timeout must be positive")
	}
	return nil
}

// reloadable reports whether the change between old and updated can be
// applied without a restart. Only the log level qualifies.
func reloadable(old, updated *Config) bool {
	o, u := *old, *updated
	o.Logging.Level, u.Logging.Level = "", ""
	return reflect.DeepEqual(o, u)
}

// debounce is how long the watcher waits for a burst of writes to settle.
const debounce = 250 * time.Millisecond
