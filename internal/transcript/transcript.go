// Package transcript records every FIX message a process sends or receives
// in two append-only files: the raw wire bytes, and a timestamped readable
// form with SOH shown as '|'.
package transcript

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/quickfixgo/quickfix"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Aidin1998/dropcopy/internal/fixmsg"
)

// Config locates the transcript files.
type Config struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	RawPath   string `mapstructure:"raw_path" yaml:"raw_path" validate:"required_if=Enabled true"`
	HumanPath string `mapstructure:"human_path" yaml:"human_path" validate:"required_if=Enabled true"`
}

// DefaultConfig writes both transcripts under logs/.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		RawPath:   "logs/raw.log",
		HumanPath: "logs/human_readable.log",
	}
}

// Factory is a quickfix.LogFactory shared by every session of the process.
type Factory struct {
	raw     *zap.Logger
	human   *zap.Logger
	events  *zap.Logger
	closers []func()
}

var _ quickfix.LogFactory = (*Factory)(nil)

// NewFactory opens (appending) both transcript files. Lifecycle events are
// also passed to logger at debug level when it is not nil.
func NewFactory(cfg Config, logger *zap.Logger) (*Factory, error) {
	rawSink, closeRaw, err := openSink(cfg.RawPath)
	if err != nil {
		return nil, err
	}
	humanSink, closeHuman, err := openSink(cfg.HumanPath)
	if err != nil {
		closeRaw()
		return nil, err
	}

	rawEnc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey: "msg",
		LineEnding: zapcore.DefaultLineEnding,
	})
	humanEnc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "ts",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		ConsoleSeparator: " ",
	})

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		raw:     zap.New(zapcore.NewCore(rawEnc, zapcore.Lock(rawSink), zapcore.DebugLevel)),
		human:   zap.New(zapcore.NewCore(humanEnc, zapcore.Lock(humanSink), zapcore.DebugLevel)),
		events:  logger,
		closers: []func(){closeRaw, closeHuman},
	}, nil
}

func openSink(path string) (zapcore.WriteSyncer, func(), error) {
	if path == "" {
		return nil, nil, fmt.Errorf("transcript path not configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	ws, closeFn, err := zap.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open transcript %s: %w", path, err)
	}
	return ws, closeFn, nil
}

// Create implements quickfix.LogFactory for process-level events.
func (f *Factory) Create() (quickfix.Log, error) {
	return &Log{factory: f, prefix: "GLOBAL"}, nil
}

// CreateSessionLog implements quickfix.LogFactory.
func (f *Factory) CreateSessionLog(sessionID quickfix.SessionID) (quickfix.Log, error) {
	return &Log{factory: f, prefix: sessionID.String()}, nil
}

// Sync flushes both files.
func (f *Factory) Sync() error {
	return multierr.Append(f.raw.Sync(), f.human.Sync())
}

// Close flushes and closes both files.
func (f *Factory) Close() error {
	err := f.Sync()
	for _, c := range f.closers {
		c()
	}
	return err
}

// Log is the per-session view of a Factory.
type Log struct {
	factory *Factory
	prefix  string
}

// OnIncoming implements quickfix.Log.
func (l *Log) OnIncoming(raw []byte) {
	l.message("Incoming", raw)
}

// OnOutgoing implements quickfix.Log.
func (l *Log) OnOutgoing(raw []byte) {
	l.message("Outgoing", raw)
}

func (l *Log) message(direction string, raw []byte) {
	s := string(raw)
	l.factory.raw.Info(s)
	l.factory.human.Info(l.prefix + " " + direction + ": " + fixmsg.Human(s))
}

// OnEvent implements quickfix.Log.
func (l *Log) OnEvent(text string) {
	l.factory.human.Info(l.prefix + " Event: " + text)
	l.factory.events.Debug(text, zap.String("fix_session", l.prefix))
}

// OnEventf implements quickfix.Log.
func (l *Log) OnEventf(format string, a ...interface{}) {
	l.OnEvent(fmt.Sprintf(format, a...))
}
